package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
)

// The repositories run against both lib/pq and go-sqlite3, which disagree on
// $N placeholder semantics. These tests exercise every UPDATE against the
// SQLite driver, where out-of-order numbering silently binds the wrong
// arguments instead of failing.

func openTestDB(t *testing.T) DB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addTestUser(t *testing.T, repo *UserRepository, user *models.User) *models.User {
	t.Helper()
	require.NoError(t, repo.Add(context.Background(), user))
	return user
}

func TestUserRepositoryUpdates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewUserRepository(db)

	t.Run("SetPhone persists the phone and clears the anonymous flag", func(t *testing.T) {
		user := addTestUser(t, repo, models.NewAnonymousUser())

		require.NoError(t, repo.SetPhone(ctx, user.ID, "15551234567"))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "15551234567", got.Phone)
		assert.False(t, got.Anonymous)
	})

	t.Run("SetFingerprint persists the hash on the right row", func(t *testing.T) {
		user := addTestUser(t, repo, models.NewAnonymousUser())
		other := addTestUser(t, repo, models.NewAnonymousUser())

		hash := models.FingerprintHash("model=x1;serial=abc")
		require.NoError(t, repo.SetFingerprint(ctx, user.ID, hash))

		got, err := repo.GetByFingerprint(ctx, hash)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)

		untouched, err := repo.GetByID(ctx, other.ID)
		require.NoError(t, err)
		assert.Empty(t, untouched.FingerprintHash)
	})

	t.Run("SetRecoveryCodeHash round-trips", func(t *testing.T) {
		user := addTestUser(t, repo, models.NewAnonymousUser())

		require.NoError(t, repo.SetRecoveryCodeHash(ctx, user.ID, "bcrypt-hash"))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "bcrypt-hash", got.RecoveryCodeHash)
	})
}

func TestUserRepositoryOrphans(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	devices := NewDeviceRepository(db)
	contacts := NewContactRepository(db)

	orphan := addTestUser(t, users, models.NewAnonymousUser())

	owner := addTestUser(t, users, models.NewAnonymousUser())
	device, err := models.NewDevice(owner.ID, "Pixel", "android")
	require.NoError(t, err)
	require.NoError(t, devices.Add(ctx, device))

	t.Run("GetOrphans skips identities with devices", func(t *testing.T) {
		got, err := users.GetOrphans(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, orphan.ID, got[0].ID)
	})

	t.Run("GetClaimableOrphan requires data worth claiming", func(t *testing.T) {
		got, err := users.GetClaimableOrphan(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		contact, err := models.NewContact(orphan.ID, "phone-1", models.ContactWrite{DisplayName: "Ada"})
		require.NoError(t, err)
		require.NoError(t, contacts.Add(ctx, contact))

		got, err = users.GetClaimableOrphan(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, orphan.ID, got.ID)
	})
}

func TestPairingRepositoryApprove(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewPairingRepository(db)

	req, err := models.NewPairingRequest("desk-1", "Desktop", "desktop", "", 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, req))

	t.Run("approve binds state and approver together", func(t *testing.T) {
		ok, err := repo.Approve(ctx, req.ID, "user-1")
		require.NoError(t, err)
		require.True(t, ok)

		stored, err := repo.GetByTokenHash(ctx, req.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, models.PairingApproved, stored.State)
		assert.Equal(t, "user-1", stored.ApprovedBy)
	})

	t.Run("second approve loses the compare-and-swap", func(t *testing.T) {
		ok, err := repo.Approve(ctx, req.ID, "user-2")
		require.NoError(t, err)
		assert.False(t, ok)

		stored, err := repo.GetByTokenHash(ctx, req.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, "user-1", stored.ApprovedBy)
	})

	t.Run("transition to redeemed succeeds exactly once", func(t *testing.T) {
		ok, err := repo.Transition(ctx, req.ID, models.PairingApproved, models.PairingRedeemed)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Transition(ctx, req.ID, models.PairingApproved, models.PairingRedeemed)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPairingRepositoryDeleteExpired(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewPairingRepository(db)

	expired, err := models.NewPairingRequest("desk-1", "Desktop", "desktop", "", time.Nanosecond)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, expired))

	live, err := models.NewPairingRequest("desk-2", "Laptop", "desktop", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, live))

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	kept, err := repo.GetByTokenHash(ctx, live.TokenHash)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestDeviceRepositoryUpdates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	repo := NewDeviceRepository(db)

	from := addTestUser(t, users, models.NewAnonymousUser())
	to := addTestUser(t, users, models.NewAnonymousUser())

	device, err := models.NewDevice(from.ID, "Pixel", "android")
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, device))

	t.Run("Reassign moves the device to the new owner", func(t *testing.T) {
		require.NoError(t, repo.Reassign(ctx, device.ID, to.ID))

		got, err := repo.GetByID(ctx, device.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, to.ID, got.UserID)
	})

	t.Run("ReassignAllForUser moves every device", func(t *testing.T) {
		second, err := models.NewDevice(to.ID, "Tablet", "android")
		require.NoError(t, err)
		require.NoError(t, repo.Add(ctx, second))

		require.NoError(t, repo.ReassignAllForUser(ctx, to.ID, from.ID))

		moved, err := repo.GetAllForUser(ctx, from.ID)
		require.NoError(t, err)
		assert.Len(t, moved, 2)
	})

	t.Run("UpdatePushToken persists the token", func(t *testing.T) {
		require.NoError(t, repo.UpdatePushToken(ctx, device.ID, "fcm-token-1"))

		got, err := repo.GetByID(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, "fcm-token-1", got.PushToken)
	})

	t.Run("UpdateLastSeen advances the timestamp", func(t *testing.T) {
		before, err := repo.GetByID(ctx, device.ID)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, repo.UpdateLastSeen(ctx, device.ID))

		after, err := repo.GetByID(ctx, device.ID)
		require.NoError(t, err)
		assert.True(t, after.LastSeenAt.After(before.LastSeenAt))
	})

	t.Run("DeleteUnseenSince removes only idle devices", func(t *testing.T) {
		removed, err := repo.DeleteUnseenSince(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, removed)

		removed, err = repo.DeleteUnseenSince(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
	})
}

func TestContactRepositoryUpdateVersionGuard(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	repo := NewContactRepository(db)

	owner := addTestUser(t, users, models.NewAnonymousUser())

	contact, err := models.NewContact(owner.ID, "phone-1", models.ContactWrite{
		DisplayName: "Ada",
		Phone:       "15551230001",
		Version:     3,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, contact))

	t.Run("higher version is applied", func(t *testing.T) {
		updated := *contact
		updated.DisplayName = "Ada Lovelace"
		updated.Version = 4
		require.NoError(t, repo.Update(ctx, &updated))

		got, err := repo.GetByID(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.DisplayName)
		assert.Equal(t, int64(4), got.Version)
	})

	t.Run("stale version never clobbers the stored row", func(t *testing.T) {
		stale := *contact
		stale.DisplayName = "Old Name"
		stale.Version = 2
		require.NoError(t, repo.Update(ctx, &stale))

		got, err := repo.GetByID(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.DisplayName)
		assert.Equal(t, int64(4), got.Version)
	})

	t.Run("ReassignAllForUser moves the contacts", func(t *testing.T) {
		heir := addTestUser(t, users, models.NewAnonymousUser())

		require.NoError(t, repo.ReassignAllForUser(ctx, owner.ID, heir.ID))

		moved, err := repo.GetAllForUser(ctx, heir.ID)
		require.NoError(t, err)
		assert.Len(t, moved, 1)
	})
}

func TestMessageRepositoryReassignAllForUser(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	repo := NewMessageRepository(db)

	from := addTestUser(t, users, models.NewAnonymousUser())
	to := addTestUser(t, users, models.NewAnonymousUser())

	msg, err := models.NewMessage(from.ID, "phone-1", models.MessageWrite{
		Address:   "15551230001",
		Body:      "hello",
		Direction: "incoming",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, msg))

	require.NoError(t, repo.ReassignAllForUser(ctx, from.ID, to.ID))

	count, err := repo.CountForUser(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.CountForUser(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestKeyExchangeRepositoryFulfill(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	repo := NewKeyExchangeRepository(db)

	owner := addTestUser(t, users, models.NewAnonymousUser())

	req, err := models.NewKeyExchangeRequest(owner.ID, "desk-1", "phone-1")
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, req))

	t.Run("fulfill attaches the payload once", func(t *testing.T) {
		ok, err := repo.Fulfill(ctx, req.ID, []byte("ciphertext"))
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.KeyExchangeFulfilled, got.State)
		assert.Equal(t, []byte("ciphertext"), got.EncryptedResponse)
		require.NotNil(t, got.FulfilledAt)
	})

	t.Run("second fulfill is a no-op", func(t *testing.T) {
		ok, err := repo.Fulfill(ctx, req.ID, []byte("other"))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("ciphertext"), got.EncryptedResponse)
	})

	t.Run("DeleteOlderThan purges aged requests", func(t *testing.T) {
		removed, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestRepositoriesOverTracedDB(t *testing.T) {
	// The traced wrapper stands in for *sql.DB everywhere main wires it.
	ctx := context.Background()
	sqlDB, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	traced, err := observability.NewTraceDB(sqlDB)
	require.NoError(t, err)

	users := NewUserRepository(traced)
	user := addTestUser(t, users, models.NewAnonymousUser())

	require.NoError(t, users.SetPhone(ctx, user.ID, "15559876543"))

	got, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "15559876543", got.Phone)
	assert.False(t, got.Anonymous)
}
