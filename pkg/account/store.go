// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package account adapts the host server's account system: existence checks,
// provisioning, display names, and third-party identifier bindings.
package account

import (
	"context"
	"errors"
	"fmt"
)

// Threepid kinds.
const (
	KindEmail  = "email"
	KindMSISDN = "msisdn"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrThreepidNotFound = errors.New("threepid not found")
)

// Account is the host server's record for one user.
type Account struct {
	UserID      string
	LocalPart   string
	DisplayName string
	AccessToken string
	CreatedAtMS int64
}

// Threepid binds an external identifier (email address, phone number) to an
// account.
type Threepid struct {
	Kind          string
	Address       string
	UserID        string
	AddedAtMS     int64
	ValidatedAtMS int64
}

// Store is the account system logins are reconciled into. The authenticator
// only ever reads and provisions through this interface; it never stores
// directory passwords.
type Store interface {
	// UserExists reports whether the fully qualified user ID is registered.
	UserExists(ctx context.Context, userID string) (bool, error)

	// Register provisions a new account for localpart and returns the new
	// user ID with a fresh access token.
	Register(ctx context.Context, localpart string) (userID, accessToken string, err error)

	// SetDisplayName overwrites the profile display name for localpart.
	SetDisplayName(ctx context.Context, localpart, displayName string) error

	// UserIDByThreepid returns the owner of kind/address, or
	// ErrThreepidNotFound when nobody owns it.
	UserIDByThreepid(ctx context.Context, kind, address string) (string, error)

	// AddThreepid binds kind/address to userID. Binding an address that is
	// already bound is a no-op.
	AddThreepid(ctx context.Context, userID, kind, address string, validatedAtMS, addedAtMS int64) error
}

// FormatUserID composes the fully qualified user ID for a localpart.
func FormatUserID(localpart, serverName string) string {
	return fmt.Sprintf("@%s:%s", localpart, serverName)
}
