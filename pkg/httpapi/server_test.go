// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/voxgate/dirauth/pkg/auth"
	"github.com/voxgate/dirauth/pkg/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// === Fakes ===

type stubAuthenticator struct {
	mu         sync.Mutex
	result     auth.Result
	err        error
	calls      int
	lastUser   string
	lastSecret string
	lastIP     string
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, identifier, secret string) (auth.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastUser = identifier
	s.lastSecret = secret
	s.lastIP = events.RemoteIP(ctx)
	return s.result, s.err
}

func (s *stubAuthenticator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubAuthenticator) last() (user, secret, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUser, s.lastSecret, s.lastIP
}

func acceptedResult() auth.Result {
	return auth.Result{
		Accepted:    true,
		UserID:      "@alice:example.test",
		LocalPart:   "alice",
		DisplayName: "Alice",
	}
}

func newTestServer(t *testing.T, cfg Config, a Authenticator) *Server {
	t.Helper()
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = "test-secret"
	}
	srv, err := NewServer(cfg, a)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func doLogin(t *testing.T, srv *Server, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(body))
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// === Login handler ===

func TestLogin_AcceptedIssuesToken(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{result: acceptedResult()}
	srv := newTestServer(t, Config{}, stub)

	rec := doLogin(t, srv, `{"user":"@Alice:example.test","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "@alice:example.test", body["user_id"])
	assert.Equal(t, "Alice", body["display_name"])

	token, ok := body["access_token"].(string)
	require.True(t, ok, "access_token missing from accepted response")
	claims, err := srv.tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.test", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	user, secret, _ := stub.last()
	assert.Equal(t, "@Alice:example.test", user)
	assert.Equal(t, "secret", secret)
}

func TestLogin_RejectedReturnsForbiddenWithoutDetail(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{result: auth.Result{Accepted: false}}
	srv := newTestServer(t, Config{}, stub)

	rec := doLogin(t, srv, `{"user":"@alice:example.test","password":"wrong"}`, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The verdict must not say why: the body is exactly {"ok":false}.
	assert.Equal(t, map[string]any{"ok": false}, decodeBody(t, rec))
}

func TestLogin_MalformedBodyNeverReachesAuthenticator(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{result: acceptedResult()}
	srv := newTestServer(t, Config{}, stub)

	rec := doLogin(t, srv, `{"user":`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"ok": false}, decodeBody(t, rec))
	assert.Equal(t, 0, stub.callCount())
}

func TestLogin_AdmissionFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{err: errors.New("attempt admission: queue full")}
	srv := newTestServer(t, Config{}, stub)

	rec := doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"ok": false}, decodeBody(t, rec))
}

func TestLogin_RateLimited(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{result: acceptedResult()}
	srv := newTestServer(t, Config{RateRPS: 1, RateBurst: 1}, stub)

	first := doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, map[string]any{"ok": false}, decodeBody(t, second))
	assert.Equal(t, 1, stub.callCount(), "rate limited request must not reach the authenticator")
}

func TestLogin_RateLimitIsolatesClients(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{result: acceptedResult()}
	srv := newTestServer(t, Config{RateRPS: 1, RateBurst: 1}, stub)

	hdrA := http.Header{"X-Forwarded-For": []string{"203.0.113.9"}}
	hdrB := http.Header{"X-Forwarded-For": []string{"203.0.113.10"}}

	require.Equal(t, http.StatusOK, doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, hdrA).Code)
	require.Equal(t, http.StatusTooManyRequests, doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, hdrA).Code)
	require.Equal(t, http.StatusOK, doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, hdrB).Code)
}

func TestLogin_StampsClientIPForAuditEvents(t *testing.T) {
	t.Parallel()

	stub := &stubAuthenticator{result: acceptedResult()}
	srv := newTestServer(t, Config{}, stub)

	hdr := http.Header{"X-Forwarded-For": []string{"203.0.113.9, 10.0.0.1"}}
	rec := doLogin(t, srv, `{"user":"@alice:example.test","password":"pw"}`, hdr)
	require.Equal(t, http.StatusOK, rec.Code)

	_, _, ip := stub.last()
	assert.Equal(t, "203.0.113.9", ip)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Config{}, &stubAuthenticator{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

// === Construction ===

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Config{}, &stubAuthenticator{})
	require.ErrorContains(t, err, "token_secret")

	_, err = NewServer(Config{TokenSecret: "k"}, nil)
	require.ErrorContains(t, err, "authenticator")
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Positive(t, cfg.RateRPS)
	assert.Greater(t, cfg.RateBurst, cfg.RateRPS)
	assert.Error(t, cfg.Validate(), "default config must still require a token secret")
}
