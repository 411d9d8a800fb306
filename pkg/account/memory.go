// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type threepidKey struct {
	kind    string
	address string
}

// MemoryStore is an in-memory implementation of Store, for development and
// tests.
type MemoryStore struct {
	serverName string

	mu        sync.RWMutex
	accounts  map[string]*Account // localpart -> account
	threepids map[threepidKey]*Threepid
}

// NewMemoryStore creates an in-memory account store. serverName qualifies
// user IDs (localpart "alice" on "example.org" becomes "@alice:example.org").
func NewMemoryStore(serverName string) *MemoryStore {
	return &MemoryStore{
		serverName: serverName,
		accounts:   make(map[string]*Account),
		threepids:  make(map[threepidKey]*Threepid),
	}
}

func (s *MemoryStore) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if acct.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Register(ctx context.Context, localpart string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[localpart]; exists {
		return "", "", ErrAccountExists
	}

	acct := &Account{
		UserID:      FormatUserID(localpart, s.serverName),
		LocalPart:   localpart,
		AccessToken: uuid.NewString(),
		CreatedAtMS: time.Now().UnixMilli(),
	}
	s.accounts[localpart] = acct
	return acct.UserID, acct.AccessToken, nil
}

func (s *MemoryStore) SetDisplayName(ctx context.Context, localpart, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[localpart]
	if !exists {
		return ErrAccountNotFound
	}
	acct.DisplayName = displayName
	return nil
}

func (s *MemoryStore) UserIDByThreepid(ctx context.Context, kind, address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tp, exists := s.threepids[threepidKey{kind: kind, address: address}]
	if !exists {
		return "", ErrThreepidNotFound
	}
	return tp.UserID, nil
}

func (s *MemoryStore) AddThreepid(ctx context.Context, userID, kind, address string, validatedAtMS, addedAtMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := threepidKey{kind: kind, address: address}
	if _, exists := s.threepids[key]; exists {
		return nil
	}
	s.threepids[key] = &Threepid{
		Kind:          kind,
		Address:       address,
		UserID:        userID,
		AddedAtMS:     addedAtMS,
		ValidatedAtMS: validatedAtMS,
	}
	return nil
}

// GetAccount returns the stored account for localpart, for tests.
func (s *MemoryStore) GetAccount(localpart string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, exists := s.accounts[localpart]
	if !exists {
		return nil, false
	}
	cp := *acct
	return &cp, true
}

// Threepids returns all bindings for userID, for tests.
func (s *MemoryStore) Threepids(userID string) []Threepid {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Threepid
	for _, tp := range s.threepids {
		if tp.UserID == userID {
			out = append(out, *tp)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
