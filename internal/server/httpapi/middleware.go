package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/auth"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxKeyClaims    contextKey = "claims"
	ctxKeyRequestID contextKey = "request_id"
)

// requestIDMiddleware assigns every request an id, echoed in the response for
// support correlation.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// RequestIDFrom returns the request id, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", RequestIDFrom(r.Context()),
				"duration", time.Since(start).String(),
			)
		})
	}
}

// requireRole verifies the Bearer token and the role carried in it.
func requireRole(secretKey []byte, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, common.ErrorUnauthorized)
				return
			}
			claims, err := auth.ParseToken(token, secretKey)
			if err != nil {
				writeError(w, err)
				return
			}
			if claims.Role != role {
				writeError(w, common.ErrorUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
		})
	}
}

// claimsFrom returns the verified claims placed by requireRole.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return claims
}
