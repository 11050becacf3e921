package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentmarket/pricewatch/internal/modules/accounts"
)

type contextKey string

const agentContextKey contextKey = "agent"

// authMiddleware requires a valid API key, via the Authorization
// bearer header or the api_key query parameter. Missing keys get 401,
// unknown keys 403.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			respondError(w, http.StatusUnauthorized, "API key required")
			return
		}

		agent, err := s.accounts.GetByAPIKey(key)
		if err != nil {
			s.log.Error().Err(err).Msg("API key lookup failed")
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if agent == nil {
			respondError(w, http.StatusForbidden, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), agentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractAPIKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("api_key")
}

// agentFrom returns the authenticated agent stored by authMiddleware.
func agentFrom(r *http.Request) *accounts.Agent {
	agent, _ := r.Context().Value(agentContextKey).(*accounts.Agent)
	return agent
}
