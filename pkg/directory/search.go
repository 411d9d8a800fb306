// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/voxgate/dirauth/pkg/logger"
)

// Entry is a resolved directory record keyed by raw attribute name.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// First returns the first value of attr, or "" when absent.
func (e *Entry) First(attr string) string {
	if vals := e.Attributes[attr]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Values returns all values of attr.
func (e *Entry) Values(attr string) []string {
	return e.Attributes[attr]
}

// FindOne runs a whole-subtree search and enforces the single-entry rule:
// zero matches resolve nobody, and so do multiple matches. An ambiguous
// result is never narrowed to the first entry.
func FindOne(ctx context.Context, conn Conn, base, filter string, attrs []string) (*Entry, error) {
	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attrs,
		nil,
	)

	start := time.Now()
	res, err := conn.Search(req)
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("filter", filter).Msg("directory search failed")
		return nil, fmt.Errorf("search %s: %w", filter, err)
	}

	// Entries holds result entries only; referrals arrive separately and
	// never count toward the match.
	switch n := len(res.Entries); {
	case n == 0:
		logger.Ctx(ctx).Info().Str("filter", filter).Msg("directory search matched no entry")
		return nil, ErrNoSuchUser
	case n > 1:
		logger.Ctx(ctx).Warn().Int("entries", n).Str("filter", filter).Msg("directory search is ambiguous")
		return nil, ErrAmbiguousUser
	}

	raw := res.Entries[0]
	entry := &Entry{
		DN:         raw.DN,
		Attributes: make(map[string][]string, len(raw.Attributes)),
	}
	for _, a := range raw.Attributes {
		entry.Attributes[a.Name] = a.Values
	}
	return entry, nil
}
