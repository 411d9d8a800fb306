// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory implements the LDAP side of login decisions: dialing,
// bind sessions, and resolving a login identifier to exactly one entry.
package directory

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of ldap.Client that sessions need.
// Tests substitute fakes; production connections come from NetDialer.
type Conn interface {
	Bind(username, password string) error
	StartTLS(config *tls.Config) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

var _ Conn = &ldap.Conn{}

// Dialer produces connections from a directory URI (ldap:// or ldaps://).
type Dialer interface {
	DialContext(ctx context.Context, uri string) (Conn, error)
}

// DialerFunc adapts a func to the Dialer interface.
type DialerFunc func(ctx context.Context, uri string) (Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, uri string) (Conn, error) {
	return f(ctx, uri)
}

// NetDialer dials with ldap.DialURL and applies the configured timeout to
// the dial and to every operation on the resulting connection.
type NetDialer struct {
	Timeout   time.Duration
	TLSConfig *tls.Config
}

func (d *NetDialer) DialContext(ctx context.Context, uri string) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// ldap.DialURL has no context variant; the dialer deadline covers the
	// connect phase, SetTimeout covers requests after that.
	nd := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		nd.Deadline = deadline
	}

	opts := []ldap.DialOpt{ldap.DialWithDialer(nd)}
	if d.TLSConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(d.TLSConfig))
	}

	conn, err := ldap.DialURL(uri, opts...)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(timeout)
	return conn, nil
}
