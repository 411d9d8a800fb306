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

// Session is a bound directory connection. The caller owns Close.
type Session struct {
	conn Conn
	cfg  *Config
}

// Open dials the directory and binds as dn. When start_tls is configured the
// connection is upgraded before any credentials are sent; an upgrade failure
// counts as a failed authentication, it never propagates as a protocol error.
// On any failure the connection is unbound and closed before returning.
func Open(ctx context.Context, cfg *Config, dialer Dialer, dn, secret string) (*Session, error) {
	start := time.Now()
	conn, err := dialer.DialContext(ctx, cfg.URI)
	dialDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("uri", cfg.URI).Msg("directory dial failed")
		return nil, fmt.Errorf("dial %s: %w", cfg.URI, err)
	}

	if cfg.StartTLS {
		if err := conn.StartTLS(cfg.TLSClientConfig()); err != nil {
			_ = conn.Close()
			logger.Ctx(ctx).Warn().Err(err).Str("uri", cfg.URI).Msg("starttls upgrade failed")
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	start = time.Now()
	err = conn.Bind(dn, secret)
	bindDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		_ = conn.Close()
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		logger.Ctx(ctx).Warn().Err(err).Str("dn", dn).Msg("directory bind failed")
		return nil, fmt.Errorf("bind %s: %w", dn, err)
	}

	return &Session{conn: conn, cfg: cfg}, nil
}

// FindUser resolves localpart to exactly one entry, fetching the configured
// profile attributes.
func (s *Session) FindUser(ctx context.Context, localpart string) (*Entry, error) {
	return FindOne(ctx, s.conn, s.cfg.Base, s.cfg.UserFilter(localpart), s.cfg.Attributes.Values())
}

func (s *Session) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
