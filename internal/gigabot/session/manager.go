package session

import "sync"

// Manager tracks the in-memory state of every user and serializes per-user
// work. The conversation-window read-modify-write is not atomic at the store
// level, so at most one dialogue turn may be in flight per user; Do provides
// that guarantee with a per-user mutex. Different users never block each
// other.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	states map[int64]State
	locks  map[int64]*sync.Mutex
}

// NewManager creates an empty state manager. Every user starts in Idle.
func NewManager() *Manager {
	return &Manager{
		states: make(map[int64]State),
		locks:  make(map[int64]*sync.Mutex),
	}
}

// State returns the user's current state, Idle for users never seen.
func (m *Manager) State(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID]
}

// SetState records the user's state. Setting Idle deletes the entry so the
// map stays bounded by the number of users mid-conversation.
func (m *Manager) SetState(userID int64, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == Idle {
		delete(m.states, userID)
		return
	}
	m.states[userID] = s
}

// Do runs fn while holding the user's lock. Calls for the same user run one
// at a time in arrival order; calls for different users run concurrently.
func (m *Manager) Do(userID int64, fn func()) {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn()
}
