// Package memory is an in-process storage.Store. Transactions run on a copy
// of the state that replaces the live state on commit; one mutex serialises
// them, which stands in for the row lock the postgres store takes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

// ErrUnavailable simulates a connectivity failure. Store.Transient reports it
// as retryable.
var ErrUnavailable = errors.New("memory store unavailable")

// FaultFunc is consulted before every operation; a non-nil error aborts it.
type FaultFunc func(op string) error

type state struct {
	records      map[int64]model.RawLogRecord
	deadLettered map[int64]bool
	debates      map[int64]model.Debate
	starts       map[int64]model.DebateStart
	finished     map[int64]model.FinishedDebate
	users        map[string]model.User
	flips        []model.Flip
	nextRecordID int64
	nextUserID   int64
	nextFlipID   int64
}

func newState() *state {
	return &state{
		records:      make(map[int64]model.RawLogRecord),
		deadLettered: make(map[int64]bool),
		debates:      make(map[int64]model.Debate),
		starts:       make(map[int64]model.DebateStart),
		finished:     make(map[int64]model.FinishedDebate),
		users:        make(map[string]model.User),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.records {
		v.Topics = append([]string(nil), v.Topics...)
		out.records[k] = v
	}
	for k, v := range s.deadLettered {
		out.deadLettered[k] = v
	}
	for k, v := range s.debates {
		out.debates[k] = v
	}
	for k, v := range s.starts {
		out.starts[k] = v
	}
	for k, v := range s.finished {
		out.finished[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	out.flips = append([]model.Flip(nil), s.flips...)
	out.nextRecordID = s.nextRecordID
	out.nextUserID = s.nextUserID
	out.nextFlipID = s.nextFlipID
	return out
}

// Store implements storage.Store in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	fault FaultFunc
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{state: newState()}
}

// SetFault installs fn as the fault hook. Pass nil to clear it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Append adds raw records, assigning ids to records that have none.
func (s *Store) Append(records ...model.RawLogRecord) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(records))
	for _, record := range records {
		if record.ID == 0 {
			s.state.nextRecordID++
			record.ID = s.state.nextRecordID
		} else if record.ID > s.state.nextRecordID {
			s.state.nextRecordID = record.ID
		}
		s.state.records[record.ID] = record
		ids = append(ids, record.ID)
	}
	return ids
}

// Record returns a raw record by id.
func (s *Store) Record(id int64) (model.RawLogRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.state.records[id]
	return record, ok
}

// DeadLettered reports whether a record was excluded after too many failures.
func (s *Store) DeadLettered(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.deadLettered[id]
}

func (s *Store) Debate(id int64) (model.Debate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debate, ok := s.state.debates[id]
	return debate, ok
}

func (s *Store) DebateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.debates)
}

func (s *Store) DebateStart(id int64) (model.DebateStart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.state.starts[id]
	return start, ok
}

func (s *Store) FinishedDebate(id int64) (model.FinishedDebate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished, ok := s.state.finished[id]
	return finished, ok
}

func (s *Store) User(wallet string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.state.users[wallet]
	return user, ok
}

func (s *Store) Flips() []model.Flip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Flip(nil), s.state.flips...)
}

func (s *Store) check(op string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

func (s *Store) FetchPending(ctx context.Context, limit int) ([]model.RawLogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("FetchPending"); err != nil {
		return nil, err
	}

	pending := make([]model.RawLogRecord, 0)
	for id, record := range s.state.records {
		if record.Processed || s.state.deadLettered[id] {
			continue
		}
		pending = append(pending, record)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].BlockNumber != pending[j].BlockNumber {
			return pending[i].BlockNumber < pending[j].BlockNumber
		}
		return pending[i].LogIndex < pending[j].LogIndex
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("MarkProcessed"); err != nil {
		return err
	}
	return markProcessed(s.state, id)
}

func (s *Store) RecordFailure(ctx context.Context, id int64, cause string, maxAttempts int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("RecordFailure"); err != nil {
		return false, err
	}

	record, ok := s.state.records[id]
	if !ok {
		return false, fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	record.Attempts++
	record.LastError = cause
	s.state.records[id] = record
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		s.state.deadLettered[id] = true
	}
	return s.state.deadLettered[id], nil
}

func (s *Store) Requeue(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.state.records[id]
	if !ok {
		return fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	record.Attempts = 0
	record.LastError = ""
	s.state.records[id] = record
	delete(s.state.deadLettered, id)
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Begin"); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(&tx{store: s, state: working}); err != nil {
		return err
	}
	if err := s.check("Commit"); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) Transient(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func markProcessed(st *state, id int64) error {
	record, ok := st.records[id]
	if !ok {
		return fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	record.Processed = true
	st.records[id] = record
	return nil
}
