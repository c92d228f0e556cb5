package session

import (
	"sync"
	"time"

	"github.com/mendhq/mendbot/pkg/logger"
)

// Manager combines the store with lifecycle decisions and per-user
// serialization. A turn holds the user's lock from load to save, so
// concurrent turns for the same user cannot lose each other's messages.
type Manager struct {
	store  Store
	limits Limits

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, limits Limits) *Manager {
	return &Manager{
		store:  store,
		limits: limits,
		locks:  make(map[string]*sync.Mutex),
	}
}

// LockUser acquires the per-user mutex and returns its unlock func.
func (m *Manager) LockUser(userID string) func() {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Begin loads the user's prior session and either continues it
// (refreshing last_activity and purging ephemeral state) or replaces it
// with a fresh one. Callers must hold the user's lock.
func (m *Manager) Begin(userID string, now time.Time) (*Session, Decision, error) {
	prior, err := m.store.Load(userID)
	if err != nil {
		return nil, Decision{}, err
	}

	decision := Decide(prior, now, m.limits)
	if !decision.Continue {
		logger.InfoCF("session", "Starting new session", map[string]interface{}{
			"user_id": userID,
			"reason":  decision.Reason,
		})
		return NewSession(userID, now), decision, nil
	}

	prior.Touch(now)
	prior.PurgeEphemeralState()
	return prior, decision, nil
}

func (m *Manager) Save(s *Session) error {
	return m.store.Save(s)
}

func (m *Manager) Limits() Limits {
	return m.limits
}
