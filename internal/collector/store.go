package collector

// Store holds session state keyed by the CMCD session id. The Repository
// serializes every call, so implementations need no locking of their own.
type Store interface {
	GetSession(id SessionID) (*SessionState, bool)
	SetSession(s *SessionState)
	DeleteSession(id SessionID)
	ListSessionIDs() []SessionID
	SessionCount() int
}

// InMemoryStore keeps sessions in a map for the lifetime of the process;
// the Repository is responsible for evicting idle and ended ones.
type InMemoryStore struct {
	sessions map[SessionID]*SessionState
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[SessionID]*SessionState)}
}

// GetSession returns the live state of session id, not a copy.
func (s *InMemoryStore) GetSession(id SessionID) (*SessionState, bool) {
	st, ok := s.sessions[id]
	return st, ok
}

// SetSession stores st under st.ID, replacing any previous state.
func (s *InMemoryStore) SetSession(st *SessionState) {
	s.sessions[st.ID] = st
}

// DeleteSession forgets session id. Unknown ids are ignored.
func (s *InMemoryStore) DeleteSession(id SessionID) {
	delete(s.sessions, id)
}

// ListSessionIDs returns the ids of all stored sessions in no particular
// order.
func (s *InMemoryStore) ListSessionIDs() []SessionID {
	ids := make([]SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SessionCount returns the number of stored sessions, ended ones included.
func (s *InMemoryStore) SessionCount() int {
	return len(s.sessions)
}
