// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockout tracks failed login attempts per local part and decides
// when an identity is temporarily locked out.
package lockout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxgate/dirauth/pkg/utils"
)

// Policy configures lockout behavior. A nil policy disables tracking
// entirely.
//
// Example TOML:
//
//	[directory.account_lockout_policy]
//	attempts = 3
//	locktime_s = 60
type Policy struct {
	Attempts int `mapstructure:"attempts"`
	// Attemps is accepted for configs that predate the spelling fix.
	Attemps   int `mapstructure:"attemps"`
	LockTimeS int `mapstructure:"locktime_s"`
}

func (p *Policy) MaxAttempts() int {
	if p == nil {
		return 0
	}
	if p.Attempts > 0 {
		return p.Attempts
	}
	return p.Attemps
}

func (p *Policy) LockDuration() time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(p.LockTimeS) * time.Second
}

func (p *Policy) Enabled() bool {
	return p.MaxAttempts() > 0
}

// Validate reports every missing policy key in one error. A nil policy is
// valid: lockout is simply off.
func (p *Policy) Validate() error {
	if p == nil {
		return nil
	}
	var missing []string
	if p.MaxAttempts() <= 0 {
		missing = append(missing, "attempts")
	}
	if p.LockTimeS <= 0 {
		missing = append(missing, "locktime_s")
	}
	if len(missing) > 0 {
		return fmt.Errorf("account lockout policy missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Tracker records login failures and answers lockout checks. Implementations
// must never lose concurrent increments.
type Tracker interface {
	// IsLocked reports whether localpart is locked at now, and when locked,
	// how long until the lock expires.
	IsLocked(ctx context.Context, localpart string, now time.Time) (bool, time.Duration)

	// RecordFailure counts one failed credential check and refreshes the
	// lock window.
	RecordFailure(ctx context.Context, localpart string, now time.Time)

	// Clear forgets all recorded failures for localpart.
	Clear(ctx context.Context, localpart string)
}

// NoopTracker never locks. Used when no policy is configured.
type NoopTracker struct{}

func (NoopTracker) IsLocked(context.Context, string, time.Time) (bool, time.Duration) {
	return false, 0
}

func (NoopTracker) RecordFailure(context.Context, string, time.Time) {}

func (NoopTracker) Clear(context.Context, string) {}

// ForPolicy returns a memory tracker for an enabled policy and a NoopTracker
// otherwise.
func ForPolicy(policy *Policy) Tracker {
	if !policy.Enabled() {
		return NoopTracker{}
	}
	return NewMemoryTracker(policy)
}

type attemptState struct {
	count int
	last  time.Time
}

// MemoryTracker keeps attempt counts in process memory. Suitable for a
// single-worker deployment; use RedisTracker when several workers share the
// lockout state.
type MemoryTracker struct {
	policy *Policy

	mu     sync.Mutex
	states map[string]attemptState
}

func NewMemoryTracker(policy *Policy) *MemoryTracker {
	return &MemoryTracker{
		policy: policy,
		states: make(map[string]attemptState),
	}
}

func (t *MemoryTracker) IsLocked(_ context.Context, localpart string, now time.Time) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[localpart]
	if !ok || state.count < t.policy.MaxAttempts() {
		return false, 0
	}
	expiry := state.last.Add(t.policy.LockDuration())
	if now.After(expiry) {
		return false, 0
	}
	return true, expiry.Sub(now)
}

func (t *MemoryTracker) RecordFailure(_ context.Context, localpart string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states[localpart]
	state.count++
	state.last = now
	t.states[localpart] = state
	trackedIdentities.Set(float64(len(t.states)))
}

func (t *MemoryTracker) Clear(_ context.Context, localpart string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.states, localpart)
	trackedIdentities.Set(float64(len(t.states)))
}

// StartPruning sweeps entries whose lock window has fully expired, so idle
// identities do not accumulate forever. Sweeps run at jittered intervals
// until the returned stop function is called.
func (t *MemoryTracker) StartPruning(interval time.Duration) (stop func()) {
	ticks, stopTicker := utils.JitteredTicker(interval, 0.1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for range ticks {
			t.prune(time.Now())
		}
	}()

	return func() {
		stopTicker()
		<-done
	}
}

func (t *MemoryTracker) prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for localpart, state := range t.states {
		if now.After(state.last.Add(t.policy.LockDuration())) {
			delete(t.states, localpart)
		}
	}
	trackedIdentities.Set(float64(len(t.states)))
}
