package pipeline

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/aegis/internal/llm"
	"github.com/ent0n29/aegis/internal/memory"
	"github.com/ent0n29/aegis/internal/observability"
	"github.com/ent0n29/aegis/internal/policy"
	"github.com/ent0n29/aegis/internal/prompt"
	"github.com/ent0n29/aegis/internal/reliability"
	"github.com/ent0n29/aegis/internal/retrieval"
	"github.com/ent0n29/aegis/internal/semcache"
)

// ErrInternal is returned for any pipeline failure. Callers surface it as a
// generic processing error; the underlying cause is only logged server-side.
var ErrInternal = errors.New("internal processing error")

// SessionKey scopes conversation state to one caller and one conversation.
func SessionKey(identity, sessionID string) string {
	return identity + ":" + sessionID
}

// Sanitizer strips PII from text, failing closed to a placeholder.
type Sanitizer interface {
	Sanitize(ctx context.Context, text string) string
}

// Retriever fetches context fragments for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (retrieval.Result, error)
}

// ChatResult is the outcome of one guarded pipeline turn.
type ChatResult struct {
	TurnID string `json:"turn_id"`
	Answer string `json:"answer"`
	Cached bool   `json:"cached"`
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Sanitizer Sanitizer
	Retriever Retriever
	History   memory.Store
	Cache     semcache.Cache
	Assembler *prompt.Assembler
	Generator llm.Generator
	Metrics   *observability.Metrics

	HistoryLimit int
	StreamGuard  string
	StageTimeout time.Duration
}

// Orchestrator runs every user turn through the guarded pipeline: sanitize
// input, retrieve context, consult the semantic cache, and on a miss
// assemble the prompt, generate, sanitize the output, cache it and persist
// history. Retrieval and generation failures abort the turn; cache and
// history failures degrade.
type Orchestrator struct {
	sanitizer Sanitizer
	retriever Retriever
	history   memory.Store
	cache     semcache.Cache
	assembler *prompt.Assembler
	generator llm.Generator
	metrics   *observability.Metrics

	historyLimit int
	streamGuard  string
	stageTimeout time.Duration
}

// New builds an orchestrator from options.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		sanitizer:    opts.Sanitizer,
		retriever:    opts.Retriever,
		history:      opts.History,
		cache:        opts.Cache,
		assembler:    opts.Assembler,
		generator:    opts.Generator,
		metrics:      opts.Metrics,
		historyLimit: opts.HistoryLimit,
		streamGuard:  opts.StreamGuard,
		stageTimeout: opts.StageTimeout,
	}
}

// Chat runs one blocking turn.
func (o *Orchestrator) Chat(ctx context.Context, identity, sessionID, message string) (ChatResult, error) {
	return o.run(ctx, identity, sessionID, message, nil)
}

// ChatStream runs one turn delivering deltas to onDelta as they are
// produced. A cache hit is delivered as a single delta. The returned result
// carries the full sanitized answer regardless of what was streamed.
func (o *Orchestrator) ChatStream(ctx context.Context, identity, sessionID, message string, onDelta llm.DeltaHandler) (ChatResult, error) {
	if o.metrics != nil {
		o.metrics.ActiveStreams.Inc()
		defer o.metrics.ActiveStreams.Dec()
	}
	return o.run(ctx, identity, sessionID, message, onDelta)
}

func (o *Orchestrator) run(ctx context.Context, identity, sessionID, message string, onDelta llm.DeltaHandler) (ChatResult, error) {
	turnStart := time.Now()
	turnID := uuid.NewString()
	sessionKey := SessionKey(identity, sessionID)
	mode := "chat"
	if onDelta != nil {
		mode = "stream"
	}

	start := time.Now()
	question := o.sanitizer.Sanitize(ctx, message)
	o.observeStage("sanitize_input", start)
	inputRedacted := question != message

	stageCtx, cancel := o.stageContext(ctx)
	start = time.Now()
	retrieved, err := o.retriever.Retrieve(stageCtx, question)
	cancel()
	o.observeStage("retrieve_context", start)
	if err != nil {
		log.Printf("pipeline: context retrieval failed turn=%s session=%s: %v", turnID, sessionKey, err)
		o.countProviderError("retrieval", err)
		o.countRequest(mode, "retrieval_error")
		return ChatResult{}, ErrInternal
	}
	if o.metrics != nil {
		o.metrics.RetrievedChunks.Observe(float64(len(retrieved.Fragments)))
	}

	if o.cache != nil {
		stageCtx, cancel := o.stageContext(ctx)
		start = time.Now()
		entry, err := o.cache.Lookup(stageCtx, retrieved.QueryVector)
		cancel()
		o.observeStage("cache_lookup", start)
		switch {
		case err != nil:
			log.Printf("pipeline: cache lookup failed turn=%s: %v", turnID, err)
			o.countCache("error")
		case entry != nil:
			o.countCache("hit")
			if o.metrics != nil {
				o.metrics.ObserveIndicator("cache_hit")
			}
			if onDelta != nil {
				if err := onDelta(entry.Response); err != nil {
					log.Printf("pipeline: cached delta delivery failed turn=%s: %v", turnID, err)
					o.countRequest(mode, "stream_abort")
					return ChatResult{}, ErrInternal
				}
			}
			o.countRequest(mode, "cache_hit")
			o.observeStage("turn_total", turnStart)
			return ChatResult{TurnID: turnID, Answer: entry.Response, Cached: true}, nil
		default:
			o.countCache("miss")
		}
	}

	stageCtx, cancel = o.stageContext(ctx)
	history, err := o.history.History(stageCtx, sessionKey, o.historyLimit)
	cancel()
	if err != nil {
		log.Printf("pipeline: history read failed turn=%s session=%s: %v", turnID, sessionKey, err)
		history = nil
	}

	messages := o.assembler.Assemble(retrieved.Fragments, history, question)

	var streamHandler llm.DeltaHandler
	if onDelta != nil {
		streamHandler = onDelta
		if o.streamGuard == "redact" {
			streamHandler = func(delta string) error {
				redacted, _ := policy.RedactLocal(delta)
				return onDelta(redacted)
			}
		}
	}

	start = time.Now()
	generated, err := o.generator.Generate(ctx, llm.GenerateRequest{
		SessionKey: sessionKey,
		TurnID:     turnID,
		Messages:   messages,
	}, streamHandler)
	o.observeStage("generate", start)
	if err != nil {
		log.Printf("pipeline: generation failed turn=%s session=%s: %v", turnID, sessionKey, err)
		o.countProviderError("llm", err)
		o.countRequest(mode, "generation_error")
		return ChatResult{}, ErrInternal
	}

	start = time.Now()
	answer := o.sanitizer.Sanitize(ctx, generated.Text)
	o.observeStage("sanitize_output", start)

	// A fail-closed placeholder is a degraded answer, not one worth
	// replaying after the detector recovers.
	if o.cache != nil && answer != "" && answer != policy.Placeholder {
		stageCtx, cancel := o.stageContext(ctx)
		start = time.Now()
		err := o.cache.Store(stageCtx, semcache.Entry{
			Question:  question,
			Response:  answer,
			Embedding: retrieved.QueryVector,
			CreatedAt: time.Now().UTC(),
		})
		cancel()
		o.observeStage("cache_store", start)
		if err != nil {
			log.Printf("pipeline: cache store failed turn=%s: %v", turnID, err)
			o.countCache("error")
		} else {
			o.countCache("store")
		}
	}

	start = time.Now()
	now := time.Now().UTC()
	o.persistTurn(ctx, memory.TurnRecord{
		ID:          uuid.NewString(),
		SessionKey:  sessionKey,
		Role:        memory.RoleUser,
		Content:     question,
		PIIRedacted: inputRedacted,
		CreatedAt:   now,
	})
	o.persistTurn(ctx, memory.TurnRecord{
		ID:          uuid.NewString(),
		SessionKey:  sessionKey,
		Role:        memory.RoleAssistant,
		Content:     answer,
		PIIRedacted: answer != generated.Text,
		CreatedAt:   now,
	})
	o.observeStage("persist_history", start)

	o.countRequest(mode, "ok")
	o.observeStage("turn_total", turnStart)
	return ChatResult{TurnID: turnID, Answer: answer, Cached: false}, nil
}

func (o *Orchestrator) persistTurn(ctx context.Context, record memory.TurnRecord) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	if err := o.history.SaveTurn(stageCtx, record); err != nil {
		log.Printf("pipeline: persist %s turn failed session=%s: %v", record.Role, record.SessionKey, err)
	}
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stageTimeout > 0 {
		return context.WithTimeout(ctx, o.stageTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(stage, time.Since(start))
	}
}

func (o *Orchestrator) countRequest(mode, outcome string) {
	if o.metrics != nil {
		o.metrics.PipelineRequests.WithLabelValues(mode, outcome).Inc()
	}
}

func (o *Orchestrator) countCache(event string) {
	if o.metrics != nil {
		o.metrics.CacheEvents.WithLabelValues(event).Inc()
	}
}

// countProviderError attributes a failed external call. A StatusError pins
// the provider and HTTP code; anything else is counted under the stage's
// default provider label.
func (o *Orchestrator) countProviderError(provider string, err error) {
	if o.metrics == nil {
		return
	}
	code := "error"
	var se *reliability.StatusError
	if errors.As(err, &se) {
		provider = se.Provider
		code = strconv.Itoa(se.Code)
	}
	o.metrics.ProviderErrors.WithLabelValues(provider, code).Inc()
}
