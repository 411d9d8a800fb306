// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import "errors"

var (
	// ErrInvalidCredentials means the directory refused a bind.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoSuchUser means a user search matched no entry.
	ErrNoSuchUser = errors.New("no matching directory entry")

	// ErrAmbiguousUser means a user search matched more than one entry.
	// The match is never narrowed to the first result.
	ErrAmbiguousUser = errors.New("multiple matching directory entries")
)
