package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonelink/server/internal/models"
)

func TestRemoveOrphanIdentities(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	keys := newFakeKeyExchangeRepo()
	svc := NewCleanupService(env.users, env.devices, newFakePairingRepo(), keys,
		7*24*time.Hour, 90*24*time.Hour, time.Nanosecond, time.Hour)

	empty := models.NewAnonymousUser()
	empty.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.users.Add(ctx, empty))

	durable, err := models.NewPhoneUser("5551234567")
	require.NoError(t, err)
	durable.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.users.Add(ctx, durable))

	withDevice := models.NewAnonymousUser()
	withDevice.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.users.Add(ctx, withDevice))
	device, err := models.NewDevice(withDevice.ID, "Pixel", "android")
	require.NoError(t, err)
	require.NoError(t, env.devices.Add(ctx, device))

	withMessage := models.NewAnonymousUser()
	withMessage.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.users.Add(ctx, withMessage))
	msg, err := models.NewMessage(withMessage.ID, "dev-x", models.MessageWrite{
		Address: "5550001111", Body: "hi", Direction: "incoming",
	})
	require.NoError(t, err)
	require.NoError(t, env.messages.Add(ctx, msg))

	removed := svc.RemoveOrphanIdentities(ctx)
	assert.Equal(t, 1, removed)

	t.Run("only the empty anonymous identity is gone", func(t *testing.T) {
		gone, err := env.users.GetByID(ctx, empty.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		for _, id := range []string{durable.ID, withDevice.ID, withMessage.ID} {
			kept, err := env.users.GetByID(ctx, id)
			require.NoError(t, err)
			assert.NotNil(t, kept)
		}
	})
}

func TestOrphanMinimumAge(t *testing.T) {
	// A just-created identity is mid-pairing, not abandoned
	ctx := context.Background()
	env := newFakeEnv()
	svc := NewCleanupService(env.users, env.devices, newFakePairingRepo(), newFakeKeyExchangeRepo(),
		0, 0, 30*time.Minute, 0)

	fresh := models.NewAnonymousUser()
	require.NoError(t, env.users.Add(ctx, fresh))

	assert.Equal(t, 0, svc.RemoveOrphanIdentities(ctx))

	kept, err := env.users.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestPurgeStaleKeyExchanges(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	keys := newFakeKeyExchangeRepo()
	svc := NewCleanupService(env.users, env.devices, newFakePairingRepo(), keys,
		7*24*time.Hour, 0, 0, 0)

	stale, err := models.NewKeyExchangeRequest("user-1", "desk-1", "phone-1")
	require.NoError(t, err)
	stale.CreatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)
	require.NoError(t, keys.Add(ctx, stale))

	recent, err := models.NewKeyExchangeRequest("user-1", "desk-1", "phone-1")
	require.NoError(t, err)
	require.NoError(t, keys.Add(ctx, recent))

	purged, err := svc.PurgeStaleKeyExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	kept, err := keys.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestRemoveIdleDevices(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	svc := NewCleanupService(env.users, env.devices, newFakePairingRepo(), newFakeKeyExchangeRepo(),
		0, 90*24*time.Hour, 0, 0)

	idle, err := models.NewDevice("user-1", "Old Tablet", "android")
	require.NoError(t, err)
	idle.LastSeenAt = time.Now().UTC().Add(-91 * 24 * time.Hour)
	require.NoError(t, env.devices.Add(ctx, idle))

	active, err := models.NewDevice("user-1", "Pixel", "android")
	require.NoError(t, err)
	require.NoError(t, env.devices.Add(ctx, active))

	removed, err := svc.RemoveIdleDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, env.devices.countForUser("user-1"))
}

func TestExpirePairingRequests(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	pairings := newFakePairingRepo()
	svc := NewCleanupService(env.users, env.devices, pairings, newFakeKeyExchangeRepo(), 0, 0, 0, 0)

	expired, err := models.NewPairingRequest("desk-1", "Desktop", "desktop", "", -time.Minute)
	require.NoError(t, err)
	require.NoError(t, pairings.Add(ctx, expired))

	live, err := models.NewPairingRequest("desk-2", "Laptop", "desktop", "", 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, pairings.Add(ctx, live))

	removed, err := svc.ExpirePairingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestCleanupStatus(t *testing.T) {
	env := newFakeEnv()
	svc := NewCleanupService(env.users, env.devices, newFakePairingRepo(), newFakeKeyExchangeRepo(),
		0, 0, 0, time.Hour)

	assert.True(t, svc.GetStatus().LastRun.IsZero())

	svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return !svc.GetStatus().LastRun.IsZero()
	}, time.Second, time.Millisecond)

	status := svc.GetStatus()
	assert.False(t, status.Running)
	assert.NotEmpty(t, status.LastRunDuration)
	assert.False(t, status.NextScheduledRun.IsZero())
}
