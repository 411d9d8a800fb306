// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth decides login attempts against an LDAP directory and
// reconciles the resulting profile into the host server's account store.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/voxgate/dirauth/pkg/account"
	"github.com/voxgate/dirauth/pkg/directory"
	"github.com/voxgate/dirauth/pkg/events"
	"github.com/voxgate/dirauth/pkg/lockout"
	"github.com/voxgate/dirauth/pkg/logger"
)

// Rejection reasons carried on audit events and in logs. Clients never see
// them; CheckPassword collapses every rejection to false.
const (
	reasonEmptySecret       = "empty_secret"
	reasonMalformed         = "malformed_identifier"
	reasonLockedOut         = "locked_out"
	reasonBindFailed        = "bind_failed"
	reasonServiceBindFailed = "service_bind_failed"
	reasonNoEntry           = "no_entry"
	reasonAmbiguousEntry    = "ambiguous_entry"
	reasonDirectoryError    = "directory_error"
	reasonProvisioning      = "provisioning_failed"
)

// Result is the outcome of one authentication attempt. Rejections carry no
// explanation; the why lives in logs and audit events only.
type Result struct {
	Accepted    bool
	UserID      string
	LocalPart   string
	DisplayName string
	Attributes  map[string][]string
}

// Options wires the authenticator's collaborators. Zero values pick
// defaults: a network dialer derived from the config, a lockout tracker
// derived from the policy, and no audit stream.
type Options struct {
	// ServerName qualifies local parts into full user IDs (default "localhost").
	ServerName string

	Dialer  directory.Dialer
	Tracker lockout.Tracker
	Emitter events.Emitter

	// Clock substitutes time.Now in tests.
	Clock func() time.Time
}

// Authenticator runs the login decision state machine: lockout check, mode
// dispatch, single-entry resolution, and profile reconciliation.
type Authenticator struct {
	cfg     Config
	store   account.Store
	dialer  directory.Dialer
	tracker lockout.Tracker
	emitter events.Emitter
	server  string
	now     func() time.Time
}

// New validates cfg and builds an Authenticator around the given account
// store.
func New(cfg Config, store account.Store, opts Options) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("account store is required")
	}

	a := &Authenticator{
		cfg:     cfg,
		store:   store,
		dialer:  opts.Dialer,
		tracker: opts.Tracker,
		emitter: opts.Emitter,
		server:  opts.ServerName,
		now:     opts.Clock,
	}
	if a.dialer == nil {
		a.dialer = &directory.NetDialer{Timeout: cfg.Timeout}
	}
	if a.tracker == nil {
		a.tracker = lockout.ForPolicy(cfg.Lockout)
	}
	if a.emitter == nil {
		a.emitter = events.NoopEmitter{}
	}
	if a.server == "" {
		a.server = "localhost"
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// CheckPassword reports whether identifier/secret authenticate against the
// directory. It is the embedding surface for host servers: strictly boolean,
// never an error, never a reason.
func (a *Authenticator) CheckPassword(ctx context.Context, identifier, secret string) bool {
	res, err := a.Authenticate(ctx, identifier, secret)
	return err == nil && res.Accepted
}

// Authenticate runs one full login attempt. The returned error is non-nil
// only for misuse (an Authenticator not built with New); every directory or
// credential problem is a rejected Result, not an error.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, secret string) (Result, error) {
	if a.store == nil {
		return Result{}, errors.New("authenticator not initialized, use New")
	}

	mode := string(a.cfg.Mode())
	start := a.now()
	localpart := LocalPart(identifier)

	if secret == "" {
		logger.Ctx(ctx).Debug().Str("identifier", identifier).
			Msg("empty password rejected before directory contact")
		return a.rejected(ctx, identifier, localpart, reasonEmptySecret), nil
	}
	if localpart == "" {
		logger.Ctx(ctx).Info().Str("identifier", identifier).
			Msg("identifier has no usable local part")
		return a.rejected(ctx, identifier, localpart, reasonMalformed), nil
	}

	if locked, remaining := a.tracker.IsLocked(ctx, localpart, a.now()); locked {
		logger.Ctx(ctx).Error().
			Str("localpart", localpart).
			Int("seconds_to_unlock", int(remaining.Seconds())).
			Msg("login rejected by account lockout policy")
		lockoutRejectionsTotal.Inc()
		attemptsTotal.WithLabelValues(mode, "lockedout").Inc()
		a.emitter.Emit(ctx, events.Event{
			Type:       events.TypeLoginLockedOut,
			Identifier: identifier,
			LocalPart:  localpart,
			Mode:       mode,
			Reason:     reasonLockedOut,
			RemoteIP:   events.RemoteIP(ctx),
		})
		return Result{LocalPart: localpart}, nil
	}

	var entry *directory.Entry
	var reason string
	switch a.cfg.Mode() {
	case directory.ModeSimple:
		entry, reason = a.simpleAuth(ctx, localpart, secret)
	case directory.ModeSearch:
		entry, reason = a.searchAuth(ctx, localpart, secret)
	}
	attemptDuration.WithLabelValues(mode).Observe(a.now().Sub(start).Seconds())

	if entry == nil {
		return a.rejected(ctx, identifier, localpart, reason), nil
	}

	a.tracker.Clear(ctx, localpart)

	userID, displayName, err := a.reconcile(ctx, localpart, entry)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("localpart", localpart).
			Msg("account reconciliation failed after successful directory auth")
		return a.rejected(ctx, identifier, localpart, reasonProvisioning), nil
	}

	logger.Ctx(ctx).Info().
		Str("identifier", identifier).
		Str("localpart", localpart).
		Msg("directory authentication succeeded")
	attemptsTotal.WithLabelValues(mode, "accepted").Inc()
	a.emitter.Emit(ctx, events.Event{
		Type:       events.TypeLoginAccepted,
		Identifier: identifier,
		LocalPart:  localpart,
		UserID:     userID,
		Mode:       mode,
		RemoteIP:   events.RemoteIP(ctx),
	})

	return Result{
		Accepted:    true,
		UserID:      userID,
		LocalPart:   localpart,
		DisplayName: displayName,
		Attributes:  entry.Attributes,
	}, nil
}

// simpleAuth binds directly as uid=<localpart>,<base> with the user's
// secret, then fetches the profile attributes over the same session. The
// bind decides authentication; the attribute fetch failing afterwards still
// rejects but does not count against the lockout policy.
func (a *Authenticator) simpleAuth(ctx context.Context, localpart, secret string) (*directory.Entry, string) {
	sess, err := directory.Open(ctx, &a.cfg.Config, a.dialer, a.cfg.UserDN(localpart), secret)
	if err != nil {
		a.tracker.RecordFailure(ctx, localpart, a.now())
		return nil, reasonBindFailed
	}
	defer sess.Close()

	entry, err := sess.FindUser(ctx, localpart)
	if err != nil {
		return nil, fetchReason(err)
	}
	return entry, ""
}

// searchAuth binds the configured service account, resolves the local part
// to exactly one entry, then proves the password on a fresh connection bound
// as that entry's DN. A service bind failure is the deployment's problem and
// never counts against the user's lockout state.
func (a *Authenticator) searchAuth(ctx context.Context, localpart, secret string) (*directory.Entry, string) {
	svc, err := directory.Open(ctx, &a.cfg.Config, a.dialer, a.cfg.BindDN, a.cfg.BindPassword)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("bind_dn", a.cfg.BindDN).
			Msg("service account bind failed")
		return nil, reasonServiceBindFailed
	}

	found, err := svc.FindUser(ctx, localpart)
	svc.Close()
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchUser) || errors.Is(err, directory.ErrAmbiguousUser) {
			a.tracker.RecordFailure(ctx, localpart, a.now())
		}
		return nil, fetchReason(err)
	}

	// The user bind gets its own connection so the StartTLS upgrade applies
	// to it as well; the service session is already closed by now.
	sess, err := directory.Open(ctx, &a.cfg.Config, a.dialer, found.DN, secret)
	if err != nil {
		a.tracker.RecordFailure(ctx, localpart, a.now())
		return nil, reasonBindFailed
	}
	defer sess.Close()

	entry, err := sess.FindUser(ctx, localpart)
	if err != nil {
		return nil, fetchReason(err)
	}
	return entry, ""
}

func (a *Authenticator) rejected(ctx context.Context, identifier, localpart, reason string) Result {
	if reason == "" {
		reason = reasonDirectoryError
	}
	attemptsTotal.WithLabelValues(string(a.cfg.Mode()), "rejected").Inc()
	a.emitter.Emit(ctx, events.Event{
		Type:       events.TypeLoginRejected,
		Identifier: identifier,
		LocalPart:  localpart,
		Mode:       string(a.cfg.Mode()),
		Reason:     reason,
		RemoteIP:   events.RemoteIP(ctx),
	})
	return Result{LocalPart: localpart}
}

func fetchReason(err error) string {
	switch {
	case errors.Is(err, directory.ErrNoSuchUser):
		return reasonNoEntry
	case errors.Is(err, directory.ErrAmbiguousUser):
		return reasonAmbiguousEntry
	default:
		return reasonDirectoryError
	}
}
