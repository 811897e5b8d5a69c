package collector

import (
	"errors"
	"sync"
	"time"
)

// Defaults for InMemoryRepository.
const (
	DefaultReportWindow = 50
	DefaultMaxSessions  = 10000
	DefaultIdleTimeout  = 30 * time.Minute
)

// Repository defines the concurrency-safe contract for accessing and mutating
// in-memory session state.
type Repository interface {
	// RecordReport appends a report to the given session, creating the session
	// on first use and merging non-empty meta fields. Stall and startup counts
	// are derived from the report's flags. If the session has been ended, an
	// error is returned.
	RecordReport(id SessionID, meta SessionMeta, rep Report) error

	// GetSessionSnapshot returns a copy of the session's state. The ok return
	// is false if the session does not exist.
	GetSessionSnapshot(id SessionID) (state SessionState, ok bool)

	// EndSession marks a session as ended. After this, new reports for the
	// session are rejected.
	EndSession(id SessionID) error

	// ActiveSessionCount returns the number of sessions that are not ended.
	// Used for metrics.
	ActiveSessionCount() int

	// Prune removes sessions, ended or not, that have seen no activity for
	// longer than the idle timeout. It returns the number removed.
	Prune() int
}

var (
	// ErrSessionEnded is returned when recording a report for a session that
	// has already been ended.
	ErrSessionEnded = errors.New("session has ended")

	// ErrTooManySessions is returned when a report would open a new session
	// while the repository is full.
	ErrTooManySessions = errors.New("too many sessions")
)

// RepositoryOption configures an InMemoryRepository.
type RepositoryOption func(*InMemoryRepository)

// WithMaxSessions caps the number of sessions held. n <= 0 keeps
// DefaultMaxSessions.
func WithMaxSessions(n int) RepositoryOption {
	return func(r *InMemoryRepository) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithIdleTimeout sets how long a session may go without activity before
// Prune removes it. d <= 0 keeps DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) RepositoryOption {
	return func(r *InMemoryRepository) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// InMemoryRepository is a concurrency-safe in-memory implementation of
// Repository. It keeps at most window reports per session and at most
// maxSessions sessions.
type InMemoryRepository struct {
	mu          sync.RWMutex
	store       Store
	window      int
	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time
}

// NewInMemoryRepository constructs a repository with a default in-memory
// store. If window <= 0, DefaultReportWindow is used.
func NewInMemoryRepository(window int, opts ...RepositoryOption) *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore(), window, opts...)
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store, window int, opts ...RepositoryOption) *InMemoryRepository {
	if window <= 0 {
		window = DefaultReportWindow
	}
	r := &InMemoryRepository{
		store:       store,
		window:      window,
		maxSessions: DefaultMaxSessions,
		idleTimeout: DefaultIdleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordReport implements Repository.RecordReport.
func (r *InMemoryRepository) RecordReport(id SessionID, meta SessionMeta, rep Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.getOrCreateSessionLocked(id)
	if err != nil {
		return err
	}
	if session.Ended {
		return ErrSessionEnded
	}

	if meta.ContentID != "" {
		session.Meta.ContentID = meta.ContentID
	}
	if meta.StreamingFormat != "" {
		session.Meta.StreamingFormat = meta.StreamingFormat
	}
	if meta.StreamType != "" {
		session.Meta.StreamType = meta.StreamType
	}

	rep.ReceivedAt = r.now()
	session.LastSeen = rep.ReceivedAt
	session.Reports = append(session.Reports, rep)
	// Sliding window: keep at most the last r.window reports.
	if len(session.Reports) > r.window {
		session.Reports = append([]Report(nil), session.Reports[len(session.Reports)-r.window:]...)
	}

	session.TotalReports++
	if rep.BufferStarvation {
		session.Stalls++
	}
	if rep.Startup {
		session.StartupRequests++
	}
	return nil
}

// GetSessionSnapshot implements Repository.GetSessionSnapshot.
func (r *InMemoryRepository) GetSessionSnapshot(id SessionID) (SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.store.GetSession(id)
	if !exists {
		return SessionState{}, false
	}

	// Copy the reports to avoid exposing internal state.
	snapshot := *session
	snapshot.Reports = append([]Report(nil), session.Reports...)
	return snapshot, true
}

// EndSession implements Repository.EndSession.
func (r *InMemoryRepository) EndSession(id SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.store.GetSession(id)
	if !exists {
		// Treat ending a non-existent session as a no-op for idempotency.
		return nil
	}
	session.Ended = true
	session.LastSeen = r.now()
	return nil
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if st, ok := r.store.GetSession(id); ok && !st.Ended {
			n++
		}
	}
	return n
}

// Prune implements Repository.Prune.
func (r *InMemoryRepository) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked()
}

func (r *InMemoryRepository) pruneLocked() int {
	cutoff := r.now().Add(-r.idleTimeout)
	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if st, ok := r.store.GetSession(id); ok && st.LastSeen.Before(cutoff) {
			r.store.DeleteSession(id)
			n++
		}
	}
	return n
}

// evictEndedLocked removes the ended session seen least recently. It
// reports whether one was found.
func (r *InMemoryRepository) evictEndedLocked() bool {
	var oldest *SessionState
	for _, id := range r.store.ListSessionIDs() {
		st, ok := r.store.GetSession(id)
		if !ok || !st.Ended {
			continue
		}
		if oldest == nil || st.LastSeen.Before(oldest.LastSeen) {
			oldest = st
		}
	}
	if oldest == nil {
		return false
	}
	r.store.DeleteSession(oldest.ID)
	return true
}

// getOrCreateSessionLocked returns an existing session or creates a new one,
// making room by pruning idle sessions and then evicting an ended one.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) getOrCreateSessionLocked(id SessionID) (*SessionState, error) {
	if session, ok := r.store.GetSession(id); ok {
		return session, nil
	}

	if r.store.SessionCount() >= r.maxSessions {
		r.pruneLocked()
		if r.store.SessionCount() >= r.maxSessions && !r.evictEndedLocked() {
			return nil, ErrTooManySessions
		}
	}

	session := &SessionState{ID: id, LastSeen: r.now()}
	r.store.SetSession(session)
	return session, nil
}
