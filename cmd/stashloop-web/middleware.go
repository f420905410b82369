package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/auth"
	"go.uber.org/zap"
)

type callerKey struct{}

// callerFrom returns the identity attached by authenticate.
func callerFrom(ctx context.Context) stashloop.CallerContext {
	c, _ := ctx.Value(callerKey{}).(stashloop.CallerContext)
	return c
}

// authenticate resolves the caller before any handler touches the store.
// The scheduler may narrow a batch run to one user with ?user_id=. A user's
// settings row is created on first authentication.
func authenticate(authn *auth.Authenticator, engine *stashloop.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authn.Identify(r)
			if err != nil {
				writeError(w, r, stashloop.ErrUnauthorized)
				return
			}
			var caller stashloop.CallerContext
			if id.Batch {
				caller = stashloop.CallerContext{UserID: r.URL.Query().Get("user_id"), TrustedBatch: true}
			} else {
				caller = stashloop.AsUser(id.UserID)
				if _, err := engine.EnsureUser(r.Context(), caller); err != nil {
					writeError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

// accessLog logs each request with method, path, status, duration and the
// request id.
func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
