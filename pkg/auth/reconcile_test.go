// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/voxgate/dirauth/pkg/account"
	"github.com/voxgate/dirauth/pkg/events"
)

func loginAlice(t *testing.T, ta *testAuth) Result {
	t.Helper()
	res, err := ta.auth.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	return res
}

func TestReconcile_ProvisionsAccountOnce(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{aliceEntry()}

	loginAlice(t, ta)
	loginAlice(t, ta)

	acct, ok := ta.store.GetAccount("alice")
	require.True(t, ok)
	assert.Equal(t, "@alice:example.test", acct.UserID)
	assert.NotEmpty(t, acct.AccessToken)
	assert.Len(t, ta.emitter.byType(events.TypeAccountCreated), 1, "second login reuses the account")
}

func TestReconcile_ThreepidIdempotence(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{aliceEntry()}

	loginAlice(t, ta)
	loginAlice(t, ta)

	tps := ta.store.Threepids("@alice:example.test")
	require.Len(t, tps, 1)
	assert.Equal(t, account.KindEmail, tps[0].Kind)
	assert.Equal(t, "alice@example.test", tps[0].Address)
	assert.Equal(t, 1, ta.store.threepidAddCount(), "owned address is a no-op, not a re-add")
}

func TestReconcile_ThreepidConflictSkips(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{aliceEntry()}

	// bob grabbed the address first.
	ctx := context.Background()
	bobID, _, err := ta.store.Register(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, ta.store.MemoryStore.AddThreepid(ctx, bobID, account.KindEmail, "alice@example.test", 1, 1))

	res := loginAlice(t, ta)
	assert.True(t, res.Accepted, "a contact conflict never fails the login")

	owner, err := ta.store.UserIDByThreepid(ctx, account.KindEmail, "alice@example.test")
	require.NoError(t, err)
	assert.Equal(t, bobID, owner, "conflicting address stays with its original owner")
	assert.Empty(t, ta.store.Threepids("@alice:example.test"))
}

func TestReconcile_MailLowerCasedMsisdnVerbatim(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{dirEntry(aliceDN, map[string][]string{
		"uid":             {"alice"},
		"cn":              {"Alice"},
		"mail":            {"Alice.Liddell@Example.TEST"},
		"telephoneNumber": {"+44 20 7946 0958"},
	})}

	loginAlice(t, ta)

	tps := ta.store.Threepids("@alice:example.test")
	require.Len(t, tps, 2)
	byKind := map[string]string{}
	for _, tp := range tps {
		byKind[tp.Kind] = tp.Address
	}
	assert.Equal(t, "alice.liddell@example.test", byKind[account.KindEmail])
	assert.Equal(t, "+44 20 7946 0958", byKind[account.KindMSISDN])
}

func TestReconcile_DisplayNameNormalizedToNFC(t *testing.T) {
	t.Parallel()

	decomposed := norm.NFD.String("Éloïse")
	require.NotEqual(t, "Éloïse", decomposed, "precondition: NFD differs from NFC")

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{dirEntry(aliceDN, map[string][]string{
		"uid": {"alice"},
		"cn":  {decomposed},
	})}

	res := loginAlice(t, ta)
	assert.Equal(t, norm.NFC.String("Éloïse"), res.DisplayName)

	acct, ok := ta.store.GetAccount("alice")
	require.True(t, ok)
	assert.Equal(t, norm.NFC.String("Éloïse"), acct.DisplayName)
}

func TestReconcile_MissingNameSkipsDisplayName(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{dirEntry(aliceDN, map[string][]string{
		"uid": {"alice"},
	})}

	res := loginAlice(t, ta)
	assert.Empty(t, res.DisplayName)
	assert.Empty(t, ta.store.displayNameWrites())
}

func TestReconcile_RegisterRaceIsBenign(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{aliceEntry()}
	// A parallel first login already registered between our existence check
	// and the register call.
	ta.store.registerErr = account.ErrAccountExists

	res, err := ta.auth.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "@alice:example.test", res.UserID)
}

func TestReconcile_StoreLookupFailureRejects(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{aliceEntry()}
	ta.store.userExistsErr = errors.New("database offline")

	res, err := ta.auth.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err, "store trouble is a rejection, not an error")
	assert.False(t, res.Accepted)

	rejects := ta.emitter.byType(events.TypeLoginRejected)
	require.Len(t, rejects, 1)
	assert.Equal(t, "provisioning_failed", rejects[0].Reason)
}

func TestReconcile_DisplayNameWriteFailureStillAccepts(t *testing.T) {
	t.Parallel()

	ta := newTestAuth(t, nil)
	ta.dir.passwords[aliceDN] = "secret"
	ta.dir.entries = []*ldap.Entry{aliceEntry()}
	ta.store.setDisplayNameErr = errors.New("profile column locked")

	res, err := ta.auth.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.True(t, res.Accepted, "profile writes are best effort once credentials are proven")
}
