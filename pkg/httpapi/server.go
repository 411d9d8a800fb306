// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes directory authentication as a small JSON API
// for homeservers that keep the password check out of process. Verdicts
// carry no detail beyond accept or reject; the cause of a rejection is
// only visible in logs and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/dirauth/pkg/auth"
	"github.com/voxgate/dirauth/pkg/events"
	"github.com/voxgate/dirauth/pkg/logger"
)

const (
	defaultListen        = ":8090"
	defaultTokenTTL      = 24 * time.Hour
	defaultRateRPS       = 10
	defaultSweepInterval = 5 * time.Minute
)

// Authenticator is the decision surface the API fronts. Both
// *auth.Authenticator and *auth.Pool satisfy it.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, secret string) (auth.Result, error)
}

// Config holds the login API settings.
//
// Example TOML:
//
//	[api]
//	listen = ":8090"
//	token_secret = "change-me"
//	token_ttl = "24h"
//	rate_rps = 10
//	rate_burst = 20
type Config struct {
	Listen      string        `mapstructure:"listen"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`

	// Per-client-IP admission rate. Zero disables limiting.
	RateRPS   int `mapstructure:"rate_rps"`
	RateBurst int `mapstructure:"rate_burst"`

	// SweepInterval controls how often idle client limiters are
	// dropped. Zero disables the sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig returns the settings used when the [api] block is
// absent. The token secret has no default and must be configured.
func DefaultConfig() Config {
	return Config{
		Listen:        defaultListen,
		TokenTTL:      defaultTokenTTL,
		RateRPS:       defaultRateRPS,
		RateBurst:     defaultRateRPS * burstMultiplier,
		SweepInterval: defaultSweepInterval,
	}
}

// Validate reports every missing required key in a single error.
func (c *Config) Validate() error {
	var missing []string
	if c.TokenSecret == "" {
		missing = append(missing, "token_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("api config missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Server answers login requests. It implements http.Handler; the caller
// owns the http.Server wiring and its shutdown.
type Server struct {
	auth   Authenticator
	tokens *TokenIssuer
	limits *ipLimiter
	mux    *http.ServeMux
}

// NewServer wires the login routes. Close must be called to stop the
// rate limiter sweep goroutine.
func NewServer(cfg Config, a Authenticator) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.New("httpapi: nil authenticator")
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	s := &Server{
		auth:   a,
		tokens: NewTokenIssuer(cfg.TokenSecret, ttl),
		mux:    http.NewServeMux(),
	}

	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.RateRPS * burstMultiplier
		}
		s.limits = newIPLimiter(cfg.RateRPS, burst, cfg.SweepInterval)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops the limiter sweeper. Safe to call more than once.
func (s *Server) Close() {
	if s.limits != nil {
		s.limits.stop()
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/login", s.ratelimited(s.login))

	s.mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
}

// ratelimited rejects callers that exhausted their per-IP budget before
// any directory work is queued.
func (s *Server) ratelimited(next http.HandlerFunc) http.HandlerFunc {
	if s.limits == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limits.allow(ip) {
			logger.Ctx(r.Context()).Info().Str("remote_ip", ip).Str("path", r.URL.Path).Msg("login request rate limited")
			writeJSON(w, http.StatusTooManyRequests, loginResponse{})
			return
		}
		next(w, r)
	}
}

// === Request/Response types ===

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK          bool   `json:"ok"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// === Handlers ===

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	l := logger.Ctx(r.Context()).With().
		Str("request_id", uuid.NewString()).
		Str("remote_ip", ip).
		Logger()
	ctx := events.WithRemoteIP(logger.WithLogger(r.Context(), &l), ip)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Debug().Err(err).Msg("malformed login body")
		writeJSON(w, http.StatusBadRequest, loginResponse{})
		return
	}

	res, err := s.auth.Authenticate(ctx, req.User, req.Password)
	if err != nil {
		l.Warn().Err(err).Msg("login attempt not admitted")
		writeJSON(w, http.StatusServiceUnavailable, loginResponse{})
		return
	}
	if !res.Accepted {
		writeJSON(w, http.StatusForbidden, loginResponse{})
		return
	}

	token, err := s.tokens.Mint(res.UserID)
	if err != nil {
		l.Error().Err(err).Str("user_id", res.UserID).Msg("failed to sign access token")
		writeJSON(w, http.StatusServiceUnavailable, loginResponse{})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		OK:          true,
		UserID:      res.UserID,
		DisplayName: res.DisplayName,
		AccessToken: token,
	})
}

// === Helpers ===

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
