// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes authentication audit events for downstream
// consumers. Delivery is fire-and-forget: a slow or broken stream never
// blocks or fails a login.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type remoteIPKey struct{}

// WithRemoteIP stashes the requesting client IP so events emitted deeper in
// the call chain can carry it.
func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, remoteIPKey{}, ip)
}

// RemoteIP returns the client IP recorded with WithRemoteIP, or "".
func RemoteIP(ctx context.Context) string {
	ip, _ := ctx.Value(remoteIPKey{}).(string)
	return ip
}

// Type enumerates auth event types.
type Type string

const (
	TypeLoginAccepted  Type = "auth.login.accepted"
	TypeLoginRejected  Type = "auth.login.rejected"
	TypeLoginLockedOut Type = "auth.login.lockedout"
	TypeAccountCreated Type = "auth.account.created"
)

// Event is one authentication decision. Reason categorizes rejections for
// audit consumers; it is never exposed to the requesting client.
type Event struct {
	ID          string `json:"id"`
	Type        Type   `json:"type"`
	Identifier  string `json:"identifier"`
	LocalPart   string `json:"localpart"`
	UserID      string `json:"user_id,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RemoteIP    string `json:"remote_ip,omitempty"`
	TimestampMS int64  `json:"ts_ms"`
}

// Emitter publishes auth events. Implementations must not block the login
// path; failures are counted and logged, never returned.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
	Close() error
}

// NoopEmitter discards all events. Used when the audit stream is disabled.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) {}

func (NoopEmitter) Close() error { return nil }

// Fill sets the generated fields when the caller left them unset.
func Fill(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TimestampMS == 0 {
		ev.TimestampMS = time.Now().UnixMilli()
	}
	return ev
}
