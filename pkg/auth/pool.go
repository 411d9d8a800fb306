// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/voxgate/dirauth/pkg/logger"
)

// PoolConfig bounds how much directory load concurrent logins may generate.
//
// Example TOML:
//
//	[pool]
//	max_concurrent = 16
//	rate_limit = 100
type PoolConfig struct {
	// MaxConcurrent is the number of attempts allowed in flight at once
	// (default 16).
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// RateLimit is the max attempts admitted per second (0 = unlimited).
	RateLimit int `mapstructure:"rate_limit"`
}

// Pool gates authentication attempts through a rate limiter and a
// concurrency semaphore so a login flood cannot exhaust directory
// connections. Directory I/O itself stays sequential within one attempt.
type Pool struct {
	auth    *Authenticator
	sem     chan struct{}
	limiter *rate.Limiter
}

func NewPool(a *Authenticator, cfg PoolConfig) *Pool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 16
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	logger.Info().
		Int("max_concurrent", cfg.MaxConcurrent).
		Int("rate_limit", cfg.RateLimit).
		Msg("authentication pool configured")

	return &Pool{
		auth:    a,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		limiter: limiter,
	}
}

// Authenticate admits the attempt through the limiter and the semaphore and
// then runs it to completion. Only admission observes ctx cancellation: once
// directory I/O starts, the attempt finishes and releases its connections.
func (p *Pool) Authenticate(ctx context.Context, identifier, secret string) (Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("attempt admission: %w", err)
		}
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	activeAttempts.Inc()
	defer activeAttempts.Dec()

	return p.auth.Authenticate(ctx, identifier, secret)
}

// CheckPassword is the boolean surface of Authenticate, pool-gated the same
// way.
func (p *Pool) CheckPassword(ctx context.Context, identifier, secret string) bool {
	res, err := p.Authenticate(ctx, identifier, secret)
	return err == nil && res.Accepted
}
