package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonelink/server/internal/models"
)

func newTestIdentityService() (*IdentityService, *orphanEnv) {
	env := newFakeEnv()
	svc := NewIdentityService(env.users, env.devices, env.messages, env.contacts)
	return svc, env
}

func TestResolveRecovery(t *testing.T) {
	svc, env := newTestIdentityService()
	ctx := context.Background()

	existing := models.NewAnonymousUser()
	require.NoError(t, env.users.Add(ctx, existing))

	t.Run("recovered identity always wins", func(t *testing.T) {
		cred := models.RecoveryCredential(existing.ID)
		cred.ClaimedUserID = "some-fresher-anonymous-id"

		user, err := svc.Resolve(ctx, cred)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, user.ID)
	})

	t.Run("unknown identity fails", func(t *testing.T) {
		_, err := svc.Resolve(ctx, models.RecoveryCredential("nope"))
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}

func TestResolvePhone(t *testing.T) {
	ctx := context.Background()

	t.Run("first verification creates a durable identity", func(t *testing.T) {
		svc, _ := newTestIdentityService()

		user, err := svc.Resolve(ctx, models.PhoneCredential("+1 555 123 4567"))
		require.NoError(t, err)
		assert.False(t, user.Anonymous)
		assert.Equal(t, "+15551234567", user.Phone)
	})

	t.Run("repeat verification resolves the same identity", func(t *testing.T) {
		svc, _ := newTestIdentityService()

		first, err := svc.Resolve(ctx, models.PhoneCredential("555-123-4567"))
		require.NoError(t, err)
		second, err := svc.Resolve(ctx, models.PhoneCredential("(555) 123 4567"))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("phone supersedes fingerprint and migrates data", func(t *testing.T) {
		svc, env := newTestIdentityService()

		// The device operated as a fingerprint identity and accumulated data
		fpUser, err := svc.Resolve(ctx, models.FingerprintCredential(models.FingerprintHash("attrs")))
		require.NoError(t, err)

		device, err := models.NewDevice(fpUser.ID, "Pixel", "android")
		require.NoError(t, err)
		require.NoError(t, env.devices.Add(ctx, device))

		msg, err := models.NewMessage(fpUser.ID, device.ID, models.MessageWrite{
			Address: "5550001111", Body: "hi", Direction: "incoming",
		})
		require.NoError(t, err)
		require.NoError(t, env.messages.Add(ctx, msg))

		// Phone verification on the same device
		cred := models.PhoneCredential("555 123 4567")
		cred.ClaimedUserID = fpUser.ID
		phoneUser, err := svc.Resolve(ctx, cred)
		require.NoError(t, err)
		assert.NotEqual(t, fpUser.ID, phoneUser.ID)

		// Everything moved, nothing forked
		migrated, err := env.devices.GetByID(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, phoneUser.ID, migrated.UserID)
		assert.Equal(t, 1, env.messages.countForUser(phoneUser.ID))

		gone, err := env.users.GetByID(ctx, fpUser.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})
}

func TestResolveFingerprint(t *testing.T) {
	ctx := context.Background()

	t.Run("reinstall reproduces the same identity", func(t *testing.T) {
		svc, _ := newTestIdentityService()
		fp := models.FingerprintHash("pixel-8|arm64|serial")

		first, err := svc.Resolve(ctx, models.FingerprintCredential(fp))
		require.NoError(t, err)
		second, err := svc.Resolve(ctx, models.FingerprintCredential(fp))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("fresh fingerprint claims an orphan holding data", func(t *testing.T) {
		svc, env := newTestIdentityService()

		// Device-less anonymous identity left behind by an abandoned pairing
		// flow, still holding a message
		orphan := models.NewAnonymousUser()
		require.NoError(t, env.users.Add(ctx, orphan))
		msg, err := models.NewMessage(orphan.ID, "old-dev", models.MessageWrite{
			Address: "5550001111", Body: "stranded", Direction: "incoming",
		})
		require.NoError(t, err)
		require.NoError(t, env.messages.Add(ctx, msg))

		user, err := svc.Resolve(ctx, models.FingerprintCredential(models.FingerprintHash("new-device")))
		require.NoError(t, err)
		assert.Equal(t, orphan.ID, user.ID)
	})

	t.Run("empty orphan is never revived", func(t *testing.T) {
		svc, env := newTestIdentityService()

		orphan := models.NewAnonymousUser()
		require.NoError(t, env.users.Add(ctx, orphan))

		user, err := svc.Resolve(ctx, models.FingerprintCredential(models.FingerprintHash("new-device")))
		require.NoError(t, err)
		assert.NotEqual(t, orphan.ID, user.ID)
	})
}

func TestResolveSubjectMismatch(t *testing.T) {
	// Mismatch between the claimed and resolved identity is logged and the
	// credential wins; the caller is never signed out
	svc, env := newTestIdentityService()
	ctx := context.Background()

	existing, err := models.NewPhoneUser("5551234567")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, existing))

	durable, err := models.NewPhoneUser("5559998888")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, durable))

	cred := models.PhoneCredential("5551234567")
	cred.ClaimedUserID = durable.ID

	user, err := svc.Resolve(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)

	// The mismatching durable identity was not absorbed
	still, err := env.users.GetByID(ctx, durable.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestIssueAndVerifyRecoveryCode(t *testing.T) {
	svc, env := newTestIdentityService()
	ctx := context.Background()

	user := models.NewAnonymousUser()
	require.NoError(t, env.users.Add(ctx, user))

	code, err := svc.IssueRecoveryCode(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	t.Run("valid code yields a recovery credential", func(t *testing.T) {
		cred, err := svc.VerifyRecoveryCode(ctx, user.ID, code)
		require.NoError(t, err)
		assert.Equal(t, models.CredentialRecovery, cred.Kind)
		assert.Equal(t, user.ID, cred.RecoveryUserID)
	})

	t.Run("wrong code and wrong user fail identically", func(t *testing.T) {
		_, err := svc.VerifyRecoveryCode(ctx, user.ID, "AAAA-BBBB-CCCC")
		assert.ErrorIs(t, err, models.ErrUserNotFound)

		_, err = svc.VerifyRecoveryCode(ctx, "no-such-user", code)
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex

	unlock := km.Lock("a")
	done := make(chan struct{})
	go func() {
		u := km.Lock("a")
		u()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second locker acquired the key while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second locker never acquired the key")
	}
}
