package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/services"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

type contextKey string

const agentContextKey contextKey = "agent"

// AgentFromContext returns the authenticated agent placed by AgentAuth.
func AgentFromContext(ctx context.Context) (*models.Agent, bool) {
	agent, ok := ctx.Value(agentContextKey).(*models.Agent)
	return agent, ok
}

// WithAgent returns a context carrying the agent, as AgentAuth would set it.
func WithAgent(ctx context.Context, agent *models.Agent) context.Context {
	return context.WithValue(ctx, agentContextKey, agent)
}

// AgentAuth authenticates every request with the agent bearer token and
// stores the resolved agent in the request context. Missing or unknown
// tokens get 401 with no detail about which.
func AgentAuth(agents *services.AgentService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			agent, err := agents.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, services.ErrInvalidToken) {
					debug.Error("Agent authentication failed: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
				return
			}
			ctx := context.WithValue(r.Context(), agentContextKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Fallback header for clients that cannot set Authorization.
	return r.Header.Get("X-Agent-Token")
}
