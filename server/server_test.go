package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetesla51/entitylimit/clock"
	"github.com/codetesla51/entitylimit/limiter"
	"github.com/codetesla51/entitylimit/metrics"
	"github.com/codetesla51/entitylimit/middleware"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...middleware.Option) (*Server, *limiter.Limiter, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock(epoch)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	l := limiter.New(limiter.WithClock(mock), limiter.WithObserver(m.Observer("default")))
	return New(Config{Addr: "127.0.0.1:0", RateLimit: opts}, l, reg, nil), l, mock
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.1.1.1:1234"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","entities":0}`, rec.Body.String())
}

func TestRegisterEntity(t *testing.T) {
	s, l, _ := newTestServer(t)

	rec := serve(s, http.MethodPost, "/entities", `{"id":"user1","limit":5,"window":"5s"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp entityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "user1", resp.ID)
	assert.Equal(t, 5, resp.Limit)
	assert.Equal(t, "5s", resp.Window)
	assert.Equal(t, 5, resp.Remaining)
	assert.Equal(t, 1, l.Len())

	rec = serve(s, http.MethodPost, "/entities", `{"id":"user1","limit":5,"window":"5s"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(s, http.MethodPost, "/entities", `{"id":"user1","limit":9,"window":"1m","replace":true}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	state, err := l.Lookup("user1")
	require.NoError(t, err)
	assert.Equal(t, 9, state.Limit)
}

func TestRegisterEntityBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"id":`},
		{name: "missing id", body: `{"limit":1,"window":"1s"}`},
		{name: "bad window", body: `{"id":"a","limit":1,"window":"later"}`},
		{name: "zero limit", body: `{"id":"a","limit":0,"window":"1s"}`},
		{name: "negative window", body: `{"id":"a","limit":1,"window":"-1s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, l, _ := newTestServer(t)
			rec := serve(s, http.MethodPost, "/entities", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, l.Len())
		})
	}
}

func TestEntityLifecycle(t *testing.T) {
	s, l, mock := newTestServer(t)
	require.NoError(t, l.Register("user1", 1, time.Minute))

	rec := serve(s, http.MethodGet, "/entities", "")
	assert.JSONEq(t, `{"entities":["user1"]}`, rec.Body.String())

	rec = serve(s, http.MethodPost, "/entities/user1/check", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var check checkResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&check))
	assert.Equal(t, "admitted", check.Outcome)
	require.NotNil(t, check.ResetAt)
	assert.Equal(t, epoch.Add(time.Minute), check.ResetAt.UTC())

	rec = serve(s, http.MethodPost, "/entities/user1/check", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	mock.Advance(time.Minute)
	rec = serve(s, http.MethodPost, "/entities/user1/check", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/entities/user1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entity entityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entity))
	assert.Equal(t, 1, entity.Count)
	assert.Equal(t, 0, entity.Remaining)

	rec = serve(s, http.MethodDelete, "/entities/user1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(s, http.MethodDelete, "/entities/user1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(s, http.MethodGet, "/entities/user1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(s, http.MethodPost, "/entities/user1/check", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"not_found"`)
	assert.NotContains(t, rec.Body.String(), "reset_at")
}

func TestRateLimitedRoot(t *testing.T) {
	s, _, _ := newTestServer(t, middleware.WithAutoRegister(2, time.Minute))

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/", "").Code)
	rec := serve(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `entitylimit_decisions_total{limiter="default",outcome="admitted"} 2`)
	assert.Contains(t, body, `entitylimit_decisions_total{limiter="default",outcome="denied"} 1`)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
