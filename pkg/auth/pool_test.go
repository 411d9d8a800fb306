// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/dirauth/pkg/account"
	"github.com/voxgate/dirauth/pkg/directory"
)

// gateDialer blocks every dial until the gate opens, counting how many
// attempts are inside the directory phase at once.
type gateDialer struct {
	gate    chan struct{}
	entered atomic.Int32
}

func (d *gateDialer) DialContext(ctx context.Context, _ string) (directory.Conn, error) {
	d.entered.Add(1)
	select {
	case <-d.gate:
	case <-ctx.Done():
	}
	return nil, errors.New("directory unavailable")
}

func newGatedPool(t *testing.T, cfg PoolConfig, dialer directory.Dialer) *Pool {
	t.Helper()
	authCfg := Config{Config: directory.Config{
		URI:        "ldap://ldap.example.test",
		Base:       testBase,
		Attributes: directory.Attributes{UID: "uid", Name: "cn"},
	}}
	a, err := New(authCfg, account.NewMemoryStore(testServer), Options{
		ServerName: testServer,
		Dialer:     dialer,
	})
	require.NoError(t, err)
	return NewPool(a, cfg)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	dialer := &gateDialer{gate: make(chan struct{})}
	pool := newGatedPool(t, PoolConfig{MaxConcurrent: 2}, dialer)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, pool.CheckPassword(context.Background(), "alice", "secret"))
		}()
	}

	require.Eventually(t, func() bool {
		return dialer.entered.Load() == 2
	}, time.Second, time.Millisecond)

	// The other two attempts are queued on the semaphore, not dialing.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), dialer.entered.Load())

	close(dialer.gate)
	wg.Wait()
	assert.Equal(t, int32(4), dialer.entered.Load())
}

func TestPool_QueueAdmissionHonorsContext(t *testing.T) {
	t.Parallel()

	dialer := &gateDialer{gate: make(chan struct{})}
	pool := newGatedPool(t, PoolConfig{MaxConcurrent: 1}, dialer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Authenticate(context.Background(), "alice", "secret")
	}()

	require.Eventually(t, func() bool {
		return dialer.entered.Load() == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Authenticate(ctx, "bob", "secret")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), dialer.entered.Load(), "a cancelled attempt never reaches the directory")

	close(dialer.gate)
	<-done
}

func TestPool_RateLimitAdmission(t *testing.T) {
	t.Parallel()

	dir := newStubDirectory()
	dir.dialErr = errors.New("directory unavailable")
	pool := newGatedPool(t, PoolConfig{MaxConcurrent: 4, RateLimit: 1}, dir)

	// The burst token admits the first attempt immediately.
	_, err := pool.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)

	// The next token is a second away; a short deadline gives up first.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Authenticate(ctx, "alice", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admission")
	assert.Equal(t, 1, dir.dialCount())
}

func TestPool_DefaultsApplied(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	pool := NewPool(ta.auth, PoolConfig{})
	assert.Equal(t, 16, cap(pool.sem))
	assert.Nil(t, pool.limiter)
}
