// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/voxgate/dirauth/pkg/account"
	"github.com/voxgate/dirauth/pkg/directory"
	"github.com/voxgate/dirauth/pkg/events"
	"github.com/voxgate/dirauth/pkg/logger"
)

// reconcile maps the resolved entry onto the account store: provision the
// account when missing, overwrite the display name, and attach unowned
// contact addresses. Only lookup/provisioning failures abort the login;
// attribute write failures are logged and skipped so a flaky profile column
// cannot turn valid credentials into a rejection.
func (a *Authenticator) reconcile(ctx context.Context, localpart string, entry *directory.Entry) (userID, displayName string, err error) {
	userID = account.FormatUserID(localpart, a.server)

	exists, err := a.store.UserExists(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("account lookup for %s: %w", userID, err)
	}
	if !exists {
		newID, _, err := a.store.Register(ctx, localpart)
		switch {
		case errors.Is(err, account.ErrAccountExists):
			// Another login for the same user won the race; the account is
			// there, which is all this step needs.
		case err != nil:
			return "", "", fmt.Errorf("register %s: %w", localpart, err)
		default:
			userID = newID
			accountsProvisionedTotal.Inc()
			logger.Ctx(ctx).Info().Str("user_id", userID).
				Msg("provisioned account on first directory login")
			a.emitter.Emit(ctx, events.Event{
				Type:      events.TypeAccountCreated,
				LocalPart: localpart,
				UserID:    userID,
				Mode:      string(a.cfg.Mode()),
				RemoteIP:  events.RemoteIP(ctx),
			})
		}
	}

	if name := entry.First(a.cfg.Attributes.Name); name != "" {
		// Directory strings arrive in whatever normal form the directory
		// stores; fold to NFC before they become the canonical profile name.
		displayName = norm.NFC.String(name)
		if err := a.store.SetDisplayName(ctx, localpart, displayName); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("localpart", localpart).
				Msg("display name update failed")
		}
	}

	if attr := a.cfg.Attributes.Mail; attr != "" {
		for _, mail := range entry.Values(attr) {
			a.syncThreepid(ctx, userID, account.KindEmail, strings.ToLower(mail))
		}
	}
	if attr := a.cfg.Attributes.MSISDN; attr != "" {
		for _, msisdn := range entry.Values(attr) {
			a.syncThreepid(ctx, userID, account.KindMSISDN, msisdn)
		}
	}

	return userID, displayName, nil
}

// syncThreepid attaches kind/address to userID unless somebody already owns
// it. An address owned by another account is a conflict to log, never to
// steal; an address already on this account is left alone.
func (a *Authenticator) syncThreepid(ctx context.Context, userID, kind, address string) {
	if address == "" {
		return
	}

	owner, err := a.store.UserIDByThreepid(ctx, kind, address)
	switch {
	case errors.Is(err, account.ErrThreepidNotFound):
		now := a.now().UnixMilli()
		if err := a.store.AddThreepid(ctx, userID, kind, address, now, now); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("kind", kind).
				Str("user_id", userID).
				Msg("contact address attach failed")
		}
	case err != nil:
		logger.Ctx(ctx).Warn().Err(err).
			Str("kind", kind).
			Str("user_id", userID).
			Msg("contact address lookup failed")
	case !strings.EqualFold(owner, userID):
		logger.Ctx(ctx).Warn().
			Str("kind", kind).
			Str("address", address).
			Str("user_id", userID).
			Str("owner", owner).
			Msg("contact address already bound to another account, skipping")
	}
}
