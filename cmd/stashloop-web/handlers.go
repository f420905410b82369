package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/item"
	"go.uber.org/zap"
)

// handlers holds dependencies for all HTTP handler methods.
type handlers struct {
	engine *stashloop.Engine
	log    *zap.Logger
}

// envelope is the body of every API response.
type envelope struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeResult(w http.ResponseWriter, status int, result any) {
	writeJSON(w, status, envelope{OK: true, Result: result})
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stashloop.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, stashloop.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, stashloop.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, stashloop.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, envelope{Error: msg})
}

// fail logs server-side failures before writing the error response.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, r, err)
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return badRequest("malformed body: %v", err)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{stashloop.ErrInvalidInput}, args...)...)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- items ---

func (h *handlers) handleListItems(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	var (
		items []stashloop.Item
		err   error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "", "today":
		items, err = h.engine.TodayItems(r.Context(), caller)
	case "inbox":
		items, err = h.engine.InboxItems(r.Context(), caller, limit)
	case "done":
		items, err = h.engine.DoneItems(r.Context(), caller, limit)
	default:
		err = badRequest("status must be today, inbox or done")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []stashloop.Item{}
	}
	writeResult(w, http.StatusOK, items)
}

func (h *handlers) handleSaveItem(w http.ResponseWriter, r *http.Request) {
	var req stashloop.SaveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	it, err := h.engine.SaveItem(r.Context(), callerFrom(r.Context()), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, it)
}

func (h *handlers) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.engine.GetItem(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, it)
}

func (h *handlers) handleMoveToToday(w http.ResponseWriter, r *http.Request) {
	it, err := h.engine.MoveToToday(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, it)
}

func (h *handlers) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Until string `json:"until"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	variant, err := item.ParseSnoozeVariant(req.Until)
	if err != nil {
		h.fail(w, r, badRequest("%v", err))
		return
	}
	it, err := h.engine.Snooze(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "itemID"), variant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, it)
}

func (h *handlers) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.MarkDone(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (h *handlers) handlePin(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Pinned *bool `json:"pinned"`
	}{}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pinned := req.Pinned == nil || *req.Pinned
	it, err := h.engine.SetPinned(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "itemID"), pinned)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, it)
}

func (h *handlers) handleScrapeMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ItemID == "" {
		h.fail(w, r, badRequest("item_id is required"))
		return
	}
	it, err := h.engine.Enrich(r.Context(), callerFrom(r.Context()), req.ItemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, it)
}

// --- scheduled processes ---

func (h *handlers) handleFillToday(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.FillToday(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, report)
}

func (h *handlers) handleUpdateStreaks(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RecomputeStreak(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, report)
}

func (h *handlers) handleSendReminders(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.SendReminders(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, report)
}

func (h *handlers) handlePollFeeds(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.PollFeeds(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (h *handlers) handleSendTestPush(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.SendTestPush(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// --- settings & streak ---

func (h *handlers) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetSettings(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, st)
}

func (h *handlers) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch stashloop.SettingsPatch
	if err := decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.engine.UpdateSettings(r.Context(), callerFrom(r.Context()), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, st)
}

func (h *handlers) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.GetStreak(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, s)
}

// --- devices ---

func (h *handlers) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.engine.ListDevices(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if devices == nil {
		devices = []stashloop.DeviceToken{}
	}
	writeResult(w, http.StatusOK, devices)
}

func (h *handlers) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.RegisterDevice(r.Context(), callerFrom(r.Context()), req.Token, req.Platform); err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, nil)
}

func (h *handlers) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.UnregisterDevice(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "token")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, nil)
}

// --- feeds ---

func (h *handlers) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.engine.ListFeeds(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []stashloop.FeedSource{}
	}
	writeResult(w, http.StatusOK, feeds)
}

func (h *handlers) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	src, err := h.engine.AddFeed(r.Context(), callerFrom(r.Context()), req.URL, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, src)
}

func (h *handlers) handleRemoveFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "feedID"), 10, 64)
	if err != nil {
		h.fail(w, r, badRequest("invalid feed id"))
		return
	}
	if err := h.engine.RemoveFeed(r.Context(), callerFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, nil)
}
