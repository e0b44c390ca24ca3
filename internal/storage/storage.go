package storage

import (
	"context"
	"errors"

	"debateETL/internal/model"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence handle shared by the fetcher and the coordinator.
type Store interface {
	// FetchPending returns up to limit unprocessed, non-dead-lettered records
	// ordered by (block_number, log_index).
	FetchPending(ctx context.Context, limit int) ([]model.RawLogRecord, error)
	// MarkProcessed flags a record as done outside any domain transaction.
	MarkProcessed(ctx context.Context, id int64) error
	// RecordFailure bumps the attempt counter and dead-letters the record once
	// maxAttempts is reached. maxAttempts <= 0 never dead-letters.
	RecordFailure(ctx context.Context, id int64, cause string, maxAttempts int) (deadLettered bool, err error)
	// Requeue clears the dead-letter mark and attempt counter of a record.
	Requeue(ctx context.Context, id int64) error
	// WithTx runs fn in one transaction, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// Transient reports whether err is a connectivity or timeout failure
	// that should be retried on a later cycle.
	Transient(err error) bool
}

// Tx is the transactional handle passed to domain handlers.
type Tx interface {
	// ClaimRecord locks the record row. It returns false when the record is
	// already processed or gone.
	ClaimRecord(ctx context.Context, id int64) (bool, error)
	MarkProcessed(ctx context.Context, id int64) error

	UpsertDebate(ctx context.Context, debate model.Debate) error
	// DeactivateDebate returns ErrNotFound when the debate does not exist.
	DeactivateDebate(ctx context.Context, debateID int64) error
	UpsertDebateStart(ctx context.Context, start model.DebateStart) error
	UpsertFinishedDebate(ctx context.Context, finished model.FinishedDebate) error

	// UpsertUser creates or updates a user by wallet address. Username is
	// only written on insert.
	UpsertUser(ctx context.Context, user model.User) (model.User, error)
	FindUserByWallet(ctx context.Context, wallet string) (model.User, bool, error)
	UpdateUserTeam(ctx context.Context, userID int64, team int16) error
	InsertFlip(ctx context.Context, flip model.Flip) error
}
