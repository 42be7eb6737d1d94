package debug

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Store holds debug sessions. Implementations must be safe for concurrent
// use; the Manager never mutates a session it has handed out.
type Store interface {
	Put(s *Session)
	Get(id string) (*Session, bool)
	// Update applies fn to a copy of the session and stores the copy unless
	// fn fails. Unknown ids yield ErrSessionNotFound.
	Update(id string, fn func(s *Session) error) (*Session, error)
	Delete(id string, match func(s *Session) bool) bool
	Len() int
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	sessions *xsync.MapOf[string, *Session]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: xsync.NewMapOf[string, *Session]()}
}

func (m *MemoryStore) Put(s *Session) {
	m.sessions.Store(s.ID, s.clone())
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	s, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

func (m *MemoryStore) Update(id string, fn func(s *Session) error) (*Session, error) {
	var (
		found bool
		fnErr error
	)
	updated, _ := m.sessions.Compute(id, func(old *Session, loaded bool) (*Session, bool) {
		if !loaded {
			return nil, true
		}
		found = true
		next := old.clone()
		if err := fn(next); err != nil {
			fnErr = err
			return old, false
		}
		return next, false
	})
	if !found {
		return nil, ErrSessionNotFound
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return updated.clone(), nil
}

// Delete removes the session if match accepts it. A nil match removes
// unconditionally.
func (m *MemoryStore) Delete(id string, match func(s *Session) bool) bool {
	var deleted bool
	m.sessions.Compute(id, func(old *Session, loaded bool) (*Session, bool) {
		if !loaded {
			return nil, true
		}
		if match != nil && !match(old) {
			return old, false
		}
		deleted = true
		return nil, true
	})
	return deleted
}

func (m *MemoryStore) Len() int {
	return m.sessions.Size()
}
