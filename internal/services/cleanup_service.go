package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/phonelink/server/internal/repository"
)

// CleanupStatus reports the outcome of the most recent reconciliation run.
type CleanupStatus struct {
	Running             bool      `json:"running"`
	LastRun             time.Time `json:"lastRun,omitempty"`
	LastRunDuration     string    `json:"lastRunDuration,omitempty"`
	OrphansRemoved      int       `json:"orphansRemoved"`
	PairingsExpired     int       `json:"pairingsExpired"`
	KeyExchangesPurged  int       `json:"keyExchangesPurged"`
	IdleDevicesRemoved  int       `json:"idleDevicesRemoved"`
	Errors              []string  `json:"errors,omitempty"`
	NextScheduledRun    time.Time `json:"nextScheduledRun,omitempty"`
}

// CleanupService runs the named reconciliation passes: expired pairing
// requests, orphaned identities, stale key exchanges and long-idle devices.
// The passes share one definition of "orphan" (the user repository's) and are
// invoked both inline (pairing redemption) and periodically. Each pass logs
// and continues past per-item failures; a sweep never aborts as a whole.
type CleanupService struct {
	userRepo        repository.UserRepo
	deviceRepo      repository.DeviceRepo
	pairingRepo     repository.PairingRepo
	keyExchangeRepo repository.KeyExchangeRepo

	keyRetention time.Duration
	idleDevice   time.Duration
	orphanMinAge time.Duration
	interval     time.Duration

	mu       sync.RWMutex
	running  bool
	status   CleanupStatus
	stopChan chan struct{}
	ticker   *time.Ticker
}

// NewCleanupService creates a new CleanupService
func NewCleanupService(
	userRepo repository.UserRepo,
	deviceRepo repository.DeviceRepo,
	pairingRepo repository.PairingRepo,
	keyExchangeRepo repository.KeyExchangeRepo,
	keyRetention, idleDevice, orphanMinAge, interval time.Duration,
) *CleanupService {
	if keyRetention <= 0 {
		keyRetention = 7 * 24 * time.Hour
	}
	if idleDevice <= 0 {
		idleDevice = 90 * 24 * time.Hour
	}
	if orphanMinAge <= 0 {
		orphanMinAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupService{
		userRepo:        userRepo,
		deviceRepo:      deviceRepo,
		pairingRepo:     pairingRepo,
		keyExchangeRepo: keyExchangeRepo,
		keyRetention:    keyRetention,
		idleDevice:      idleDevice,
		orphanMinAge:    orphanMinAge,
		interval:        interval,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop
func (s *CleanupService) Start() {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return // Already started
	}
	s.stopChan = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.status.NextScheduledRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	log.Printf("Cleanup service started (runs every %s)", s.interval)

	go s.runAll()

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.mu.Lock()
				s.status.NextScheduledRun = time.Now().Add(s.interval)
				s.mu.Unlock()
				s.runAll()
			case <-s.stopChan:
				s.mu.Lock()
				s.ticker.Stop()
				s.ticker = nil
				s.mu.Unlock()
				log.Println("Cleanup service stopped")
				return
			}
		}
	}()
}

// Stop halts the periodic loop
func (s *CleanupService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	close(s.stopChan)
}

// GetStatus returns the latest reconciliation outcome
func (s *CleanupService) GetStatus() CleanupStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// runAll performs every reconciliation pass once
func (s *CleanupService) runAll() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Cleanup already running, skipping")
		return
	}
	s.running = true
	s.status.Running = true
	s.status.Errors = []string{}
	s.mu.Unlock()

	start := time.Now()
	ctx := context.Background()
	var errors []string

	pairings, err := s.ExpirePairingRequests(ctx)
	if err != nil {
		errors = append(errors, "pairing expiry: "+err.Error())
	}
	orphans := s.RemoveOrphanIdentities(ctx)
	keys, err := s.PurgeStaleKeyExchanges(ctx)
	if err != nil {
		errors = append(errors, "key exchange purge: "+err.Error())
	}
	devices, err := s.RemoveIdleDevices(ctx)
	if err != nil {
		errors = append(errors, "idle devices: "+err.Error())
	}

	duration := time.Since(start)

	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.LastRun = start
	s.status.LastRunDuration = duration.Round(time.Millisecond).String()
	s.status.OrphansRemoved = orphans
	s.status.PairingsExpired = pairings
	s.status.KeyExchangesPurged = keys
	s.status.IdleDevicesRemoved = devices
	s.status.Errors = errors
	s.mu.Unlock()

	if orphans > 0 || pairings > 0 || keys > 0 || devices > 0 {
		log.Printf("Cleanup: removed %d orphans, %d expired pairings, %d stale key exchanges, %d idle devices",
			orphans, pairings, keys, devices)
	}
}

// ExpirePairingRequests deletes pairing requests past their expiry window.
func (s *CleanupService) ExpirePairingRequests(ctx context.Context) (int, error) {
	return s.pairingRepo.DeleteExpired(ctx, time.Now().UTC())
}

// RemoveOrphanIdentities deletes identities with no devices and no messages.
// The minimum-age guard keeps a just-created identity from being swept while
// its pairing flow is still in flight. Per-item failures are logged and the
// pass continues.
func (s *CleanupService) RemoveOrphanIdentities(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.orphanMinAge)
	orphans, err := s.userRepo.GetOrphans(ctx, cutoff)
	if err != nil {
		log.Printf("Cleanup: failed to list orphan identities: %v", err)
		return 0
	}

	removed := 0
	for _, orphan := range orphans {
		// Durable identities are kept even when empty; the user may simply
		// not have paired a device yet.
		if orphan.Phone != "" {
			continue
		}
		if _, err := s.userRepo.Delete(ctx, orphan.ID); err != nil {
			log.Printf("Cleanup: failed to delete orphan %s: %v", orphan.ID, err)
			continue
		}
		removed++
	}
	return removed
}

// PurgeStaleKeyExchanges deletes key exchange rows older than the retention
// window, fulfilled or not. The window is long enough to tolerate an offline
// target device and short enough to bound storage.
func (s *CleanupService) PurgeStaleKeyExchanges(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.keyRetention)
	return s.keyExchangeRepo.DeleteOlderThan(ctx, cutoff)
}

// RemoveIdleDevices deletes devices unseen beyond the long idle window.
func (s *CleanupService) RemoveIdleDevices(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.idleDevice)
	return s.deviceRepo.DeleteUnseenSince(ctx, cutoff)
}
