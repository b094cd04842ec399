// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "multichat_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s := New(Options{
		Token:    token,
		Version:  "1.2.3",
		Gatherer: reg,
		Status: func() Status {
			return Status{
				Active:        []SessionStatus{{ID: "abc", Model: "openai/gpt-4o-mini", Messages: 2, Streaming: true}},
				SavedSessions: 4,
				InFlight:      1,
			}
		},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	ts := testServer(t, "")

	resp, body := get(t, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var h HealthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	require.Equal(t, "ok", h.Status)
	require.Equal(t, "1.2.3", h.Version)
}

func TestMetrics(t *testing.T) {
	ts := testServer(t, "")

	resp, body := get(t, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "multichat_test_total 3")
}

func TestStatus(t *testing.T) {
	ts := testServer(t, "")

	resp, body := get(t, ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	require.Equal(t, 4, st.SavedSessions)
	require.Equal(t, 1, st.InFlight)
	require.Len(t, st.Active, 1)
	require.True(t, st.Active[0].Streaming)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := testServer(t, "")

	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDisabledEndpoints(t *testing.T) {
	ts := httptest.NewServer(New(Options{}).Handler())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = get(t, ts.URL+"/status", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = get(t, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	ts := testServer(t, "s3cret")

	resp, _ := get(t, ts.URL+"/health", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/health", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/health", "s3cret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidateBearerToken(t *testing.T) {
	require.True(t, ValidateBearerToken("abc", "abc"))
	require.False(t, ValidateBearerToken("abc", "abd"))
	require.False(t, ValidateBearerToken("", ""))
	require.False(t, ValidateBearerToken("abc", ""))
}

func TestRecovery(t *testing.T) {
	h := Chain(RecoveryMiddleware(zap.NewNop()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestStartAndShutdown(t *testing.T) {
	s := New(Options{})
	require.Empty(t, s.Addr())
	require.NoError(t, s.Start())
	require.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	resp, _ := get(t, "http://"+s.Addr()+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}
