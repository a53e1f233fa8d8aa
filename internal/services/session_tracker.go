package services

import (
	"log"
	"sync"
	"time"
)

// sessionState is the in-memory activity record for one user.
type sessionState struct {
	lastActivity time.Time
	tokenExpires time.Time
	anonymous    bool
}

// SessionTracker keeps per-user activity state and drives soft session
// expiry. Anonymous identities are exempt from timeout-based invalidation:
// they hold no secondary credential, so signing one out loses the identity
// permanently. This asymmetry is deliberate.
type SessionTracker struct {
	timeout   time.Duration
	onExpire  func(userID string)
	onRefresh func(userID string)

	mu       sync.Mutex
	sessions map[string]*sessionState
	stopChan chan struct{}
	started  bool
}

// NewSessionTracker creates a tracker with the given inactivity timeout.
// onExpire is called when a non-anonymous session exceeds the timeout;
// onRefresh is called when an active session's credential nears expiry.
func NewSessionTracker(timeout time.Duration, onExpire, onRefresh func(userID string)) *SessionTracker {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionTracker{
		timeout:   timeout,
		onExpire:  onExpire,
		onRefresh: onRefresh,
		sessions:  make(map[string]*sessionState),
		stopChan:  make(chan struct{}),
	}
}

// Touch records activity for a user session.
func (t *SessionTracker) Touch(userID string, anonymous bool, tokenExpires time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[userID]
	if !ok {
		state = &sessionState{}
		t.sessions[userID] = state
	}
	state.lastActivity = time.Now()
	state.anonymous = anonymous
	if !tokenExpires.IsZero() {
		state.tokenExpires = tokenExpires
	}
}

// Forget drops a user's session state, e.g. after explicit sign-out.
func (t *SessionTracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, userID)
}

// Active reports whether a session is currently tracked.
func (t *SessionTracker) Active(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[userID]
	return ok
}

// Start launches the periodic sweep. Runs until Stop is called.
func (t *SessionTracker) Start(interval time.Duration) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep(time.Now())
			case <-t.stopChan:
				return
			}
		}
	}()
}

// Stop halts the background sweep.
func (t *SessionTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		close(t.stopChan)
		t.started = false
	}
}

// Sweep invalidates non-anonymous sessions idle beyond the timeout and
// schedules credential refresh for active sessions nearing token expiry.
// Exported so tests can drive it with a controlled clock.
func (t *SessionTracker) Sweep(now time.Time) {
	var expired, refresh []string

	t.mu.Lock()
	for userID, state := range t.sessions {
		if !state.anonymous && now.Sub(state.lastActivity) > t.timeout {
			expired = append(expired, userID)
			delete(t.sessions, userID)
			continue
		}
		// Refresh shortly before expiry so the user never sees a
		// re-authentication prompt while actively using the app.
		if !state.tokenExpires.IsZero() && state.tokenExpires.Sub(now) < t.timeout/3 {
			refresh = append(refresh, userID)
			state.tokenExpires = time.Time{}
		}
	}
	t.mu.Unlock()

	for _, userID := range expired {
		log.Printf("Session expired after inactivity: %s", userID)
		if t.onExpire != nil {
			t.onExpire(userID)
		}
	}
	for _, userID := range refresh {
		if t.onRefresh != nil {
			t.onRefresh(userID)
		}
	}
}
