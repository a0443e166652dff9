package transcript

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/uchat-ai/uchat/internal/log"
)

// Sentinel errors for store operations.
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoMessage indicates no message matched the lookup.
	ErrNoMessage = errors.New("no matching message")

	// ErrTurnInFlight indicates the trailing message of the session is
	// still streaming. A new message cannot be appended until it resolves.
	ErrTurnInFlight = errors.New("turn already in flight")
)

// Store keeps sessions and their transcripts in memory.
//
// All mutation of a session's messages goes through Append and MutateLast,
// serialized by a store-level mutex. Completed turns are archived
// separately (see the postgres subpackage); the in-memory store is the
// live working set. Subscribers registered via Subscribe are signaled on
// every mutation, which is how the HTTP layer relays a streaming turn.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionRecord
	node     *snowflake.Node
	logger   log.Logger

	watcherSeq int
	watchers   map[uuid.UUID]map[int]chan struct{}
}

type sessionRecord struct {
	session  Session
	messages []*Message
}

// NewStore creates a Store. nodeID selects the snowflake node used for
// message id generation (0 is fine for a single-process deployment).
func NewStore(nodeID int64, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("creating snowflake node: %w", err)
	}
	return &Store{
		sessions: make(map[uuid.UUID]*sessionRecord),
		node:     node,
		logger:   logger,
		watchers: make(map[uuid.UUID]map[int]chan struct{}),
	}, nil
}

// CreateSession creates a new session. ownerID may be empty for anonymous
// sessions.
func (s *Store) CreateSession(ownerID, title string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = &sessionRecord{session: sess}
	s.logger.Debug("created session", "id", sess.ID, "owner", ownerID)

	out := sess
	return &out
}

// Session returns the session metadata for id.
func (s *Store) Session(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := rec.session
	return &out, nil
}

// ListSessions returns all sessions ordered by most recently updated.
func (s *Store) ListSessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec.session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// DeleteSession retires a session and its transcript.
func (s *Store) DeleteSession(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.notifyLocked(id)
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// Subscribe registers for mutation signals on one session. The returned
// channel carries a coalesced "something changed" signal; readers re-load
// the transcript on each receive. The cancel function must be called when
// done.
func (s *Store) Subscribe(sessionID uuid.UUID) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watcherSeq++
	id := s.watcherSeq
	ch := make(chan struct{}, 1)

	if s.watchers[sessionID] == nil {
		s.watchers[sessionID] = make(map[int]chan struct{})
	}
	s.watchers[sessionID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.watchers[sessionID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.watchers, sessionID)
			}
		}
	}
	return ch, cancel
}

// notifyLocked signals all watchers of the session. Callers hold s.mu.
// The send is non-blocking: a watcher that has not drained its pending
// signal coalesces with it.
func (s *Store) notifyLocked(sessionID uuid.UUID) {
	for _, ch := range s.watchers[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Append adds a message to the session's transcript and assigns its id.
// Appending while the trailing message is still streaming returns
// ErrTurnInFlight: at most one message per session may be incomplete.
func (s *Store) Append(sessionID uuid.UUID, msg Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if n := len(rec.messages); n > 0 && !rec.messages[n-1].Complete {
		return nil, ErrTurnInFlight
	}

	msg.ID = s.node.Generate().Int64()
	msg.CreatedAt = time.Now().UTC()
	stored := msg
	rec.messages = append(rec.messages, &stored)
	rec.session.UpdatedAt = stored.CreatedAt
	s.notifyLocked(sessionID)

	out := stored
	return &out, nil
}

// Messages returns a copy of the session's transcript in order.
func (s *Store) Messages(sessionID uuid.UUID) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Message, len(rec.messages))
	for i, m := range rec.messages {
		out[i] = *m
	}
	return out, nil
}

// LastByRole returns the most recent message with the given role, found by
// reverse search.
func (s *Store) LastByRole(sessionID uuid.UUID, role Role) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	for i := len(rec.messages) - 1; i >= 0; i-- {
		if rec.messages[i].Role == role {
			out := *rec.messages[i]
			return &out, nil
		}
	}
	return nil, ErrNoMessage
}

// MutateLast applies fn to the most recent message with the given role,
// in place and under the store lock. This is how the stream reducer and the
// cancellation path update the trailing assistant record.
func (s *Store) MutateLast(sessionID uuid.UUID, role Role, fn func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	for i := len(rec.messages) - 1; i >= 0; i-- {
		if rec.messages[i].Role == role {
			fn(rec.messages[i])
			rec.session.UpdatedAt = time.Now().UTC()
			s.notifyLocked(sessionID)
			return nil
		}
	}
	return ErrNoMessage
}
