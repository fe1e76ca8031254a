package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/aegis/internal/config"
	"github.com/ent0n29/aegis/internal/llm"
	"github.com/ent0n29/aegis/internal/observability"
	"github.com/ent0n29/aegis/internal/pipeline"
)

// ChatService runs a guarded pipeline turn. Implemented by
// pipeline.Orchestrator.
type ChatService interface {
	Chat(ctx context.Context, identity, sessionID, message string) (pipeline.ChatResult, error)
	ChatStream(ctx context.Context, identity, sessionID, message string, onDelta llm.DeltaHandler) (pipeline.ChatResult, error)
}

// Server exposes the chat pipeline over HTTP.
type Server struct {
	cfg      config.Config
	chat     ChatService
	metrics  *observability.Metrics
	limiter  *visitorLimiter
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chat ChatService, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		chat:    chat,
		metrics: metrics,
		limiter: newVisitorLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.Post("/chat", s.handleChat)
		r.Post("/stream", s.handleStream)
		r.Get("/chat/ws", s.handleChatWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Cached    bool   `json:"cached"`
}

// validate normalizes the request and returns a rejection reason when the
// message falls outside accepted bounds.
func (s *Server) validateChatRequest(req *chatRequest) (code, message string) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return "missing_session_id", "session_id is required"
	}
	if strings.TrimSpace(req.Message) == "" {
		return "empty_message", "message is required"
	}
	if max := s.cfg.MaxMessageChars; max > 0 && len([]rune(req.Message)) > max {
		return "message_too_long", fmt.Sprintf("message exceeds %d characters", max)
	}
	return "", ""
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if code, msg := s.validateChatRequest(&req); code != "" {
		s.countRejected(code)
		respondError(w, http.StatusBadRequest, code, msg)
		return
	}

	res, err := s.chat.Chat(r.Context(), identityFrom(r.Context()), req.SessionID, req.Message)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", pipeline.ErrInternal.Error())
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		TurnID:    res.TurnID,
		SessionID: req.SessionID,
		Response:  res.Answer,
		Cached:    res.Cached,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if code, msg := s.validateChatRequest(&req); code != "" {
		s.countRejected(code)
		respondError(w, http.StatusBadRequest, code, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	res, err := s.chat.ChatStream(r.Context(), identityFrom(r.Context()), req.SessionID, req.Message, func(delta string) error {
		return writeSSE(w, flusher, "delta", map[string]string{"text": delta})
	})
	if err != nil {
		// Headers are gone; surface the failure as a terminal event.
		_ = writeSSE(w, flusher, "error", map[string]string{"message": pipeline.ErrInternal.Error()})
		return
	}

	_ = writeSSE(w, flusher, "done", chatResponse{
		TurnID:    res.TurnID,
		SessionID: req.SessionID,
		Response:  res.Answer,
		Cached:    res.Cached,
	})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// wsClientMessage is one chat turn submitted over the websocket.
type wsClientMessage struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// wsServerMessage is a delta, terminal result, or error pushed to the client.
type wsServerMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	TurnID   string `json:"turn_id,omitempty"`
	Response string `json:"response,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
	Code     string `json:"code,omitempty"`
}

// handleChatWS serves a persistent chat connection: the client sends one
// JSON message per turn and receives delta/done/error frames back.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		var req wsClientMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		chatReq := chatRequest{SessionID: req.SessionID, Message: req.Message}
		if code, msg := s.validateChatRequest(&chatReq); code != "" {
			s.countRejected(code)
			if err := s.writeWS(conn, wsServerMessage{Type: "error", Code: code, Text: msg}); err != nil {
				return
			}
			continue
		}

		res, err := s.chat.ChatStream(r.Context(), identity, chatReq.SessionID, chatReq.Message, func(delta string) error {
			return s.writeWS(conn, wsServerMessage{Type: "delta", Text: delta})
		})
		if err != nil {
			if err := s.writeWS(conn, wsServerMessage{Type: "error", Code: "internal_error", Text: pipeline.ErrInternal.Error()}); err != nil {
				return
			}
			continue
		}
		if err := s.writeWS(conn, wsServerMessage{Type: "done", TurnID: res.TurnID, Response: res.Answer, Cached: res.Cached}); err != nil {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg wsServerMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (s *Server) countRejected(reason string) {
	if s.metrics != nil {
		s.metrics.RejectedRequests.WithLabelValues(reason).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
