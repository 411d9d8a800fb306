// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import "strings"

// LocalPart extracts the directory login name from a user identifier. The
// identifier is lower-cased, a leading @ sigil is stripped, and everything
// from the first : on (the server name) is dropped, so "@Alice:example.org"
// and "alice" both resolve to "alice". An empty result means the identifier
// is unusable and the attempt must be rejected.
func LocalPart(identifier string) string {
	id := strings.ToLower(identifier)
	id = strings.TrimPrefix(id, "@")
	id, _, _ = strings.Cut(id, ":")
	return id
}
