package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/auth"
	"github.com/matthewjhunter/stashloop/internal/push"
	"github.com/matthewjhunter/stashloop/internal/scrape"
	"go.uber.org/zap"
)

const (
	testJWTSecret  = "test-jwt-secret"
	testCronSecret = "test-cron-secret"
)

type recordingSender struct {
	mu     sync.Mutex
	tokens [][]string
}

func (s *recordingSender) Send(_ context.Context, tokens []string, _ push.Message) (push.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, tokens)
	return push.Result{Sent: len(tokens), Chunks: 1}, nil
}

type offlineScraper struct{}

func (offlineScraper) Scrape(context.Context, string) (scrape.Metadata, error) {
	return scrape.Metadata{}, errors.New("offline")
}

type testFixtures struct {
	router http.Handler
	engine *stashloop.Engine
	authn  *auth.Authenticator
	sender *recordingSender
}

func newTestFixtures(t *testing.T) *testFixtures {
	t.Helper()
	sender := &recordingSender{}
	engine, err := stashloop.NewEngine(stashloop.EngineConfig{
		DSN:     filepath.Join(t.TempDir(), "web.db"),
		Push:    sender,
		Scraper: offlineScraper{},
		Now:     func() time.Time { return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	authn := auth.New(testJWTSecret, testCronSecret, "stashloop")
	return &testFixtures{
		router: newRouter(engine, authn, zap.NewNop()),
		engine: engine,
		authn:  authn,
		sender: sender,
	}
}

func (f *testFixtures) bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := f.authn.IssueToken(userID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

var cronHeaders = map[string]string{auth.CronSecretHeader: testCronSecret}

// request is a convenience helper for making test HTTP requests.
func request(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int) response {
	t.Helper()
	if rr.Code != wantStatus {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, wantStatus, rr.Body.String())
	}
	var resp response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rr.Body.String())
	}
	if resp.OK != (wantStatus < 400) {
		t.Errorf("ok = %v for status %d", resp.OK, wantStatus)
	}
	return resp
}

func (f *testFixtures) saveItem(t *testing.T, headers map[string]string, url string) stashloop.Item {
	t.Helper()
	rr := request(t, f.router, "POST", "/api/items", `{"url":"`+url+`"}`, headers)
	resp := decodeResponse(t, rr, http.StatusCreated)
	var it stashloop.Item
	if err := json.Unmarshal(resp.Result, &it); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return it
}

// --- Tests ---

func TestHealth(t *testing.T) {
	f := newTestFixtures(t)
	rr := request(t, f.router, "GET", "/healthz", "", nil)
	decodeResponse(t, rr, http.StatusOK)
}

func TestAuthRequired(t *testing.T) {
	f := newTestFixtures(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no credentials", nil},
		{"garbage bearer", map[string]string{"Authorization": "Bearer nope"}},
		{"wrong cron secret", map[string]string{auth.CronSecretHeader: "wrong"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := request(t, f.router, "GET", "/api/items", "", tt.headers)
			resp := decodeResponse(t, rr, http.StatusUnauthorized)
			if resp.Error == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestFirstRequestCreatesSettings(t *testing.T) {
	f := newTestFixtures(t)
	rr := request(t, f.router, "GET", "/api/settings", "", f.bearer(t, "alice"))
	resp := decodeResponse(t, rr, http.StatusOK)

	var st stashloop.Settings
	if err := json.Unmarshal(resp.Result, &st); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if st.ItemsPerDay != 3 || st.ReminderHour != 9 || st.Timezone != "UTC" {
		t.Errorf("settings = %+v, want defaults", st)
	}
}

func TestItemLifecycle(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")

	it := f.saveItem(t, alice, "https://www.youtube.com/watch?v=abc123")
	if it.Status != "inbox" || it.Domain != "youtube.com" || it.Type != "video" {
		t.Errorf("saved item = %+v", it)
	}

	rr := request(t, f.router, "GET", "/api/items?status=inbox", "", alice)
	resp := decodeResponse(t, rr, http.StatusOK)
	var inbox []stashloop.Item
	json.Unmarshal(resp.Result, &inbox)
	if len(inbox) != 1 {
		t.Fatalf("inbox has %d items, want 1", len(inbox))
	}

	rr = request(t, f.router, "POST", "/api/items/"+it.ID+"/today", "", alice)
	decodeResponse(t, rr, http.StatusOK)

	rr = request(t, f.router, "POST", "/api/items/"+it.ID+"/done", "", alice)
	resp = decodeResponse(t, rr, http.StatusOK)
	var done stashloop.DoneResult
	if err := json.Unmarshal(resp.Result, &done); err != nil {
		t.Fatalf("decode done: %v", err)
	}
	if done.Item.Status != "done" {
		t.Errorf("status = %q, want done", done.Item.Status)
	}
	if done.Streak == nil || done.Streak.Streak != 1 {
		t.Errorf("streak = %+v, want 1 after clearing Today", done.Streak)
	}

	// done is terminal
	rr = request(t, f.router, "POST", "/api/items/"+it.ID+"/snooze", `{"until":"tomorrow"}`, alice)
	decodeResponse(t, rr, http.StatusConflict)

	rr = request(t, f.router, "GET", "/api/streak", "", alice)
	resp = decodeResponse(t, rr, http.StatusOK)
	var s stashloop.Streak
	json.Unmarshal(resp.Result, &s)
	if s.Streak != 1 || s.BestStreak != 1 || s.LastStreakAt != "2026-03-10" {
		t.Errorf("streak = %+v", s)
	}
}

func TestItemsAreScopedToCaller(t *testing.T) {
	f := newTestFixtures(t)
	it := f.saveItem(t, f.bearer(t, "alice"), "https://example.com/a")

	rr := request(t, f.router, "GET", "/api/items/"+it.ID, "", f.bearer(t, "bob"))
	decodeResponse(t, rr, http.StatusNotFound)

	rr = request(t, f.router, "POST", "/api/items/"+it.ID+"/today", "", f.bearer(t, "bob"))
	decodeResponse(t, rr, http.StatusNotFound)
}

func TestItemsCannotBeDeleted(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")
	it := f.saveItem(t, alice, "https://example.com/a")

	rr := request(t, f.router, "DELETE", "/api/items/"+it.ID, "", alice)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
	rr = request(t, f.router, "GET", "/api/items/"+it.ID, "", alice)
	decodeResponse(t, rr, http.StatusOK)
}

func TestBadInput(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")

	tests := []struct {
		name, method, path, body string
	}{
		{"missing url", "POST", "/api/items", `{}`},
		{"not http", "POST", "/api/items", `{"url":"ftp://example.com/x"}`},
		{"malformed body", "POST", "/api/items", `{"url":`},
		{"unknown status", "GET", "/api/items?status=archived", ""},
		{"bad limit", "GET", "/api/items?status=inbox&limit=-1", ""},
		{"bad snooze", "POST", "/api/items/x/snooze", `{"until":"someday"}`},
		{"hour out of range", "PATCH", "/api/settings", `{"reminder_hour":24}`},
		{"per day out of range", "PATCH", "/api/settings", `{"items_per_day":0}`},
		{"blank device token", "POST", "/api/devices", `{"token":"  "}`},
		{"bad feed id", "DELETE", "/api/feeds/abc", ""},
		{"scrape without item", "POST", "/api/scrape-metadata", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := request(t, f.router, tt.method, tt.path, tt.body, alice)
			decodeResponse(t, rr, http.StatusBadRequest)
		})
	}
}

func TestSaveFromSharedText(t *testing.T) {
	f := newTestFixtures(t)
	rr := request(t, f.router, "POST", "/api/items", `{"text":"look at this https://example.org/post?id=1 !!"}`, f.bearer(t, "alice"))
	resp := decodeResponse(t, rr, http.StatusCreated)
	var it stashloop.Item
	json.Unmarshal(resp.Result, &it)
	if it.Domain != "example.org" {
		t.Errorf("domain = %q, want example.org", it.Domain)
	}
}

func TestScrapeFailureIsNotAnError(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")
	it := f.saveItem(t, alice, "https://example.com/a")

	rr := request(t, f.router, "POST", "/api/scrape-metadata", `{"item_id":"`+it.ID+`"}`, alice)
	resp := decodeResponse(t, rr, http.StatusOK)
	var got stashloop.Item
	json.Unmarshal(resp.Result, &got)
	if got.ID != it.ID || got.Title != "" {
		t.Errorf("enriched item = %+v", got)
	}
}

func TestFillTodayModes(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")
	bob := f.bearer(t, "bob")
	for _, u := range []string{"https://a.example/1", "https://b.example/2", "https://c.example/3", "https://d.example/4"} {
		f.saveItem(t, alice, u)
		f.saveItem(t, bob, u)
	}

	// user mode fills only the caller
	rr := request(t, f.router, "POST", "/api/fill-today", "", alice)
	resp := decodeResponse(t, rr, http.StatusOK)
	var report stashloop.Report[stashloop.FillResult]
	json.Unmarshal(resp.Result, &report)
	if report.Batch || len(report.Results) != 1 || report.Results[0].Promoted != 3 {
		t.Errorf("user report = %+v", report)
	}

	// batch mode fills everyone; alice is already full
	rr = request(t, f.router, "POST", "/api/fill-today", "", cronHeaders)
	resp = decodeResponse(t, rr, http.StatusOK)
	report = stashloop.Report[stashloop.FillResult]{}
	json.Unmarshal(resp.Result, &report)
	if !report.Batch || report.Users != 2 || report.Failed != 0 {
		t.Fatalf("batch report = %+v", report)
	}
	promoted := map[string]int{}
	for _, r := range report.Results {
		promoted[r.UserID] = r.Promoted
	}
	if promoted["alice"] != 0 || promoted["bob"] != 3 {
		t.Errorf("promoted = %v, want alice 0 bob 3", promoted)
	}
}

func TestBatchCallerNarrowedToUser(t *testing.T) {
	f := newTestFixtures(t)
	f.saveItem(t, f.bearer(t, "alice"), "https://a.example/1")
	f.saveItem(t, f.bearer(t, "bob"), "https://b.example/1")

	rr := request(t, f.router, "POST", "/api/fill-today?user_id=bob", "", cronHeaders)
	resp := decodeResponse(t, rr, http.StatusOK)
	var report stashloop.Report[stashloop.FillResult]
	json.Unmarshal(resp.Result, &report)
	if report.Users != 1 || len(report.Results) != 1 || report.Results[0].UserID != "bob" {
		t.Errorf("report = %+v", report)
	}
}

func TestBatchCallerNeedsUserForItemRoutes(t *testing.T) {
	f := newTestFixtures(t)
	rr := request(t, f.router, "GET", "/api/items", "", cronHeaders)
	decodeResponse(t, rr, http.StatusBadRequest)
}

func TestPollFeedsIsSchedulerOnly(t *testing.T) {
	f := newTestFixtures(t)
	rr := request(t, f.router, "POST", "/api/poll-feeds", "", f.bearer(t, "alice"))
	decodeResponse(t, rr, http.StatusUnauthorized)

	rr = request(t, f.router, "POST", "/api/poll-feeds", "", cronHeaders)
	resp := decodeResponse(t, rr, http.StatusOK)
	var res stashloop.FeedPollResult
	json.Unmarshal(resp.Result, &res)
	if res.Saved != 0 {
		t.Errorf("saved = %d with no feeds", res.Saved)
	}
}

func TestDevicesAndTestPush(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")

	rr := request(t, f.router, "POST", "/api/send-test-push", "", alice)
	resp := decodeResponse(t, rr, http.StatusOK)
	var res stashloop.TestPushResult
	json.Unmarshal(resp.Result, &res)
	if res.OK || res.Reason != "no_tokens" {
		t.Errorf("without tokens: %+v", res)
	}

	rr = request(t, f.router, "POST", "/api/devices", `{"token":"ExponentPushToken[a]","platform":"ios"}`, alice)
	decodeResponse(t, rr, http.StatusCreated)

	rr = request(t, f.router, "GET", "/api/devices", "", alice)
	resp = decodeResponse(t, rr, http.StatusOK)
	var devices []stashloop.DeviceToken
	json.Unmarshal(resp.Result, &devices)
	if len(devices) != 1 || devices[0].Platform != "ios" {
		t.Fatalf("devices = %+v", devices)
	}

	rr = request(t, f.router, "POST", "/api/send-test-push", "", alice)
	resp = decodeResponse(t, rr, http.StatusOK)
	res = stashloop.TestPushResult{}
	json.Unmarshal(resp.Result, &res)
	if !res.OK || res.Tokens != 1 || res.Delivered != 1 {
		t.Errorf("with a token: %+v", res)
	}
	if len(f.sender.tokens) != 1 {
		t.Errorf("sender called %d times, want 1", len(f.sender.tokens))
	}

	rr = request(t, f.router, "DELETE", "/api/devices/ExponentPushToken%5Ba%5D", "", alice)
	decodeResponse(t, rr, http.StatusOK)
}

func TestUpdateSettings(t *testing.T) {
	f := newTestFixtures(t)
	alice := f.bearer(t, "alice")

	rr := request(t, f.router, "PATCH", "/api/settings", `{"items_per_day":5,"push_opt_in":true}`, alice)
	resp := decodeResponse(t, rr, http.StatusOK)
	var st stashloop.Settings
	json.Unmarshal(resp.Result, &st)
	if st.ItemsPerDay != 5 || !st.PushOptIn || st.ReminderHour != 9 {
		t.Errorf("settings = %+v", st)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{stashloop.ErrUnauthorized, http.StatusUnauthorized},
		{stashloop.ErrNotFound, http.StatusNotFound},
		{stashloop.ErrInvalidTransition, http.StatusConflict},
		{badRequest("x"), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPanicBecomes500(t *testing.T) {
	// a router without an engine panics as soon as a user is authenticated
	authn := auth.New(testJWTSecret, testCronSecret, "stashloop")
	router := newRouter(nil, authn, zap.NewNop())
	token, err := authn.IssueToken("alice", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	rr := request(t, router, "GET", "/api/settings", "", map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, httptest.NewRequest("GET", "/", nil), errors.New("pq: password authentication failed"))
	if strings.Contains(rr.Body.String(), "password") {
		t.Errorf("internal error leaked: %s", rr.Body.String())
	}
}
