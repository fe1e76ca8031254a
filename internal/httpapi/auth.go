package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the authenticated identity stored by authMiddleware,
// or "anonymous" when none is present.
func identityFrom(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey).(string); ok && v != "" {
		return v
	}
	return "anonymous"
}

// authMiddleware resolves the caller identity according to the configured
// auth mode and stores it in the request context. Chat state is keyed by
// identity, so an unauthenticated caller can never read another caller's
// session even if it guesses the session id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity string

		switch strings.ToLower(s.cfg.AuthMode) {
		case "proxy":
			identity = strings.TrimSpace(r.Header.Get(s.cfg.TrustedUserHdr))
			if identity == "" {
				s.countRejected("missing_identity_header")
				respondError(w, http.StatusUnauthorized, "unauthorized", "identity header is required")
				return
			}
		case "token":
			token := bearerToken(r)
			if token == "" {
				s.countRejected("missing_token")
				respondError(w, http.StatusUnauthorized, "unauthorized", "bearer token is required")
				return
			}
			mapped, ok := s.cfg.AuthTokens[token]
			if !ok {
				s.countRejected("unknown_token")
				respondError(w, http.StatusUnauthorized, "unauthorized", "unknown token")
				return
			}
			identity = mapped
		default:
			identity = "anonymous"
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
