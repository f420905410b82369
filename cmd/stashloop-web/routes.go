package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/auth"
	"go.uber.org/zap"
)

// newRouter wires the JSON API. Everything under /api requires either a user
// bearer token or the scheduler secret.
func newRouter(engine *stashloop.Engine, authn *auth.Authenticator, log *zap.Logger) http.Handler {
	h := &handlers{engine: engine, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(authn, engine))

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.handleListItems)
			r.Post("/", h.handleSaveItem)
			r.Get("/{itemID}", h.handleGetItem)
			r.Post("/{itemID}/today", h.handleMoveToToday)
			r.Post("/{itemID}/snooze", h.handleSnooze)
			r.Post("/{itemID}/done", h.handleMarkDone)
			r.Post("/{itemID}/pin", h.handlePin)
		})
		r.Post("/scrape-metadata", h.handleScrapeMetadata)

		// scheduled processes: single-user with a bearer token, batch with
		// the scheduler secret
		r.Post("/fill-today", h.handleFillToday)
		r.Post("/update-streaks", h.handleUpdateStreaks)
		r.Post("/send-reminders", h.handleSendReminders)
		r.Post("/poll-feeds", h.handlePollFeeds)
		r.Post("/send-test-push", h.handleSendTestPush)

		r.Get("/settings", h.handleGetSettings)
		r.Patch("/settings", h.handleUpdateSettings)
		r.Get("/streak", h.handleGetStreak)

		r.Get("/devices", h.handleListDevices)
		r.Post("/devices", h.handleRegisterDevice)
		r.Delete("/devices/{token}", h.handleUnregisterDevice)

		r.Get("/feeds", h.handleListFeeds)
		r.Post("/feeds", h.handleAddFeed)
		r.Delete("/feeds/{feedID}", h.handleRemoveFeed)
	})

	return r
}
