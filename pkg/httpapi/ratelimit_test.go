// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === Per-IP limiter ===

func TestIPLimiter_PerClientBuckets(t *testing.T) {
	t.Parallel()

	l := newIPLimiter(1, 1, 0)
	t.Cleanup(l.stop)

	require.True(t, l.allow("203.0.113.9"))
	require.False(t, l.allow("203.0.113.9"))

	// Another client has its own bucket.
	require.True(t, l.allow("203.0.113.10"))
}

func TestIPLimiter_BurstAboveSustainedRate(t *testing.T) {
	t.Parallel()

	l := newIPLimiter(1, 3, 0)
	t.Cleanup(l.stop)

	for i := 0; i < 3; i++ {
		require.True(t, l.allow("203.0.113.9"), "burst request %d", i)
	}
	require.False(t, l.allow("203.0.113.9"))
}

func TestIPLimiter_SweepEvictsIdleClients(t *testing.T) {
	t.Parallel()

	l := newIPLimiter(1, 1, 10*time.Millisecond)
	t.Cleanup(l.stop)

	require.True(t, l.allow("203.0.113.9"))
	require.False(t, l.allow("203.0.113.9"))

	require.Eventually(t, func() bool {
		n := 0
		l.clients.Range(func(_, _ any) bool {
			n++
			return true
		})
		return n == 0
	}, time.Second, 5*time.Millisecond, "idle client limiter never swept")

	// A swept client starts over with a full bucket.
	require.True(t, l.allow("203.0.113.9"))
}

func TestIPLimiter_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	l := newIPLimiter(1, 1, time.Minute)
	l.stop()
	l.stop()
}

// === Client IP extraction ===

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{
			name:   "x forwarded for single",
			remote: "10.0.0.1:9999",
			header: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:   "203.0.113.9",
		},
		{
			name:   "x forwarded for chain takes first",
			remote: "10.0.0.1:9999",
			header: map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.2"},
			want:   "203.0.113.9",
		},
		{
			name:   "x real ip",
			remote: "10.0.0.1:9999",
			header: map[string]string{"X-Real-IP": "198.51.100.4"},
			want:   "198.51.100.4",
		},
		{
			name:   "forwarded for wins over real ip",
			remote: "10.0.0.1:9999",
			header: map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.4"},
			want:   "203.0.113.9",
		},
		{
			name:   "remote addr",
			remote: "192.0.2.7:4242",
			want:   "192.0.2.7",
		},
		{
			name:   "remote addr without port",
			remote: "192.0.2.7",
			want:   "192.0.2.7",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/v1/login", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
