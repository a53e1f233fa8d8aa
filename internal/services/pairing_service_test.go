package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonelink/server/internal/models"
)

func newTestPairingService(env *orphanEnv, pairings *fakePairingRepo) *PairingService {
	cleanup := NewCleanupService(env.users, env.devices, pairings, newFakeKeyExchangeRepo(),
		7*24*time.Hour, 90*24*time.Hour, time.Nanosecond, time.Hour)
	return NewPairingService(pairings, env.devices, env.users, cleanup, 5*time.Minute)
}

func TestPairingFlow(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	pairings := newFakePairingRepo()
	svc := newTestPairingService(env, pairings)

	owner, err := models.NewPhoneUser("5551234567")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, owner))

	transient := models.NewAnonymousUser()
	require.NoError(t, env.users.Add(ctx, transient))

	req, err := svc.Create(ctx, "desk-1", "Desktop", "desktop", transient.ID)
	require.NoError(t, err)
	require.NotEmpty(t, req.Token)

	t.Run("redeem before approval fails", func(t *testing.T) {
		_, err := svc.Redeem(ctx, req.Token)
		assert.ErrorIs(t, err, models.ErrPairingFailed)
	})

	t.Run("approve binds the owner", func(t *testing.T) {
		ok, err := svc.Approve(ctx, req.Token, owner.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("second approval fails", func(t *testing.T) {
		ok, err := svc.Approve(ctx, req.Token, owner.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("redeem attaches the device and cleans up the transient identity", func(t *testing.T) {
		result, err := svc.Redeem(ctx, req.Token)
		require.NoError(t, err)
		assert.Equal(t, owner.ID, result.UserID)
		assert.Equal(t, "desk-1", result.DeviceID)

		device, err := env.devices.GetByID(ctx, "desk-1")
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.Equal(t, owner.ID, device.UserID)

		gone, err := env.users.GetByID(ctx, transient.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("second redeem fails", func(t *testing.T) {
		_, err := svc.Redeem(ctx, req.Token)
		assert.ErrorIs(t, err, models.ErrPairingFailed)
	})
}

func TestPairingRedeemExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	pairings := newFakePairingRepo()
	svc := newTestPairingService(env, pairings)

	owner, err := models.NewPhoneUser("5551234567")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, owner))

	req, err := svc.Create(ctx, "desk-1", "Desktop", "desktop", "")
	require.NoError(t, err)
	ok, err := svc.Approve(ctx, req.Token, owner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, req.Token)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, models.ErrPairingFailed)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent redeem must win")
}

func TestPairingApproveBindsApproverAtomically(t *testing.T) {
	// Approve sets the state and the approver in one step, so a redeem that
	// observes the approved state always sees who approved it.
	ctx := context.Background()
	env := newFakeEnv()
	pairings := newFakePairingRepo()
	svc := newTestPairingService(env, pairings)

	owner, err := models.NewPhoneUser("5551234567")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, owner))

	req, err := svc.Create(ctx, "desk-1", "Desktop", "desktop", "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		// Redeem the instant the approved state becomes visible.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			stored, err := pairings.GetByTokenHash(ctx, models.HashToken(req.Token))
			if err != nil {
				done <- err
				return
			}
			if stored != nil && stored.State == models.PairingApproved {
				result, err := svc.Redeem(ctx, req.Token)
				if err == nil && result.UserID != owner.ID {
					done <- assert.AnError
					return
				}
				done <- err
				return
			}
		}
		done <- context.DeadlineExceeded
	}()

	ok, err := svc.Approve(ctx, req.Token, owner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, <-done, "a redeem racing the approval must either see the full approval or none of it")
}

func TestPairingExpiry(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	pairings := newFakePairingRepo()
	svc := NewPairingService(pairings, env.devices, env.users,
		NewCleanupService(env.users, env.devices, pairings, newFakeKeyExchangeRepo(), 0, 0, 0, 0),
		time.Millisecond)

	owner, err := models.NewPhoneUser("5551234567")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, owner))

	req, err := svc.Create(ctx, "desk-1", "Desktop", "desktop", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	t.Run("expired token cannot be approved", func(t *testing.T) {
		ok, err := svc.Approve(ctx, req.Token, owner.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sweep removes expired requests", func(t *testing.T) {
		removed, err := svc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestRePairingReassignsDevice(t *testing.T) {
	// A device that pairs again must not produce a duplicate record
	ctx := context.Background()
	env := newFakeEnv()
	pairings := newFakePairingRepo()
	svc := newTestPairingService(env, pairings)

	oldOwner, err := models.NewPhoneUser("5551111111")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, oldOwner))
	newOwner, err := models.NewPhoneUser("5552222222")
	require.NoError(t, err)
	require.NoError(t, env.users.Add(ctx, newOwner))

	device, err := models.NewDevice(oldOwner.ID, "Desktop", "desktop")
	require.NoError(t, err)
	device.ID = "desk-1"
	require.NoError(t, env.devices.Add(ctx, device))

	req, err := svc.Create(ctx, "desk-1", "Desktop", "desktop", "")
	require.NoError(t, err)
	ok, err := svc.Approve(ctx, req.Token, newOwner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Redeem(ctx, req.Token)
	require.NoError(t, err)

	assert.Equal(t, 1, env.devices.countForUser(newOwner.ID))
	assert.Equal(t, 0, env.devices.countForUser(oldOwner.ID))
}
