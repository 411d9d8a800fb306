// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the default burst relative to the sustained rate.
const burstMultiplier = 2

// clientLimiter pairs a token bucket with a last-seen stamp so idle
// clients can be swept.
type clientLimiter struct {
	bucket   *rate.Limiter
	lastSeen atomic.Int64 // Unix nanoseconds
}

// ipLimiter applies a per-client-IP token bucket. Idle entries are
// removed by a background sweep so the map stays bounded under churn
// from many distinct clients.
type ipLimiter struct {
	clients sync.Map // IP -> *clientLimiter
	rps     rate.Limit
	burst   int

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func newIPLimiter(rps, burst int, sweepEvery time.Duration) *ipLimiter {
	l := &ipLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		sweepEvery: sweepEvery,
		stopCh:     make(chan struct{}),
	}
	if sweepEvery > 0 {
		go l.sweepLoop()
	}
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	cl := l.get(ip)
	cl.lastSeen.Store(time.Now().UnixNano())
	return cl.bucket.Allow()
}

func (l *ipLimiter) get(ip string) *clientLimiter {
	if v, ok := l.clients.Load(ip); ok {
		return v.(*clientLimiter)
	}
	cl := &clientLimiter{bucket: rate.NewLimiter(l.rps, l.burst)}
	actual, _ := l.clients.LoadOrStore(ip, cl)
	return actual.(*clientLimiter)
}

// stop terminates the sweep goroutine. Idempotent.
func (l *ipLimiter) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *ipLimiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.sweepEvery * 2).UnixNano()
			l.clients.Range(func(key, value any) bool {
				if value.(*clientLimiter).lastSeen.Load() < cutoff {
					l.clients.Delete(key)
				}
				return true
			})
		}
	}
}

// clientIP extracts the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	// X-Forwarded-For may contain multiple IPs, take the first.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// X-Real-IP is set by some proxies.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
