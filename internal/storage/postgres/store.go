package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const DefaultRawTable = "raw_logs"

// Options tunes the Postgres store.
type Options struct {
	// RawTable is the raw log table, optionally schema qualified.
	RawTable string
	// StatementTimeout is applied to every connection as statement_timeout.
	StatementTimeout time.Duration
}

// Store provides Postgres persistence for raw logs and the debate tables.
type Store struct {
	pool     *pgxpool.Pool
	rawTable string
	rawIndex string
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	rawTable, rawIndex, err := tableIdentifiers(opts.RawTable)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if opts.StatementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, rawTable: rawTable, rawIndex: rawIndex}, nil
}

func tableIdentifiers(name string) (table, index string, err error) {
	if name == "" {
		name = DefaultRawTable
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return "", "", fmt.Errorf("invalid raw table name %q", name)
		}
	}
	table = pgx.Identifier(parts).Sanitize()
	index = pgx.Identifier{parts[len(parts)-1] + "_pending_idx"}.Sanitize()
	return table, index, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the domain tables and adds the processing columns, plus the
// optional tx_hash and address columns, to the raw log table. It is safe to
// run repeatedly and against a table the ingester already created.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := strings.NewReplacer(
		"{{raw_table}}", s.rawTable,
		"{{raw_index}}", s.rawIndex,
	).Replace(schemaSQL)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) FetchPending(ctx context.Context, limit int) ([]model.RawLogRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, COALESCE(block_number, 0), COALESCE(log_index, 0),
			COALESCE(tx_hash, ''), COALESCE(address, ''), COALESCE(topics, ''),
			COALESCE(data, ''), COALESCE(block_timestamp::text, ''),
			COALESCE(processed, FALSE), attempts, COALESCE(last_error, '')
		FROM %s
		WHERE processed IS NOT TRUE AND errored_at IS NULL
		ORDER BY block_number, log_index
		LIMIT $1
	`, s.rawTable), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]model.RawLogRecord, 0)
	for rows.Next() {
		var (
			record      model.RawLogRecord
			blockNumber int64
			logIndex    int64
			topics      string
		)
		if err := rows.Scan(
			&record.ID,
			&blockNumber,
			&logIndex,
			&record.TxHash,
			&record.Address,
			&topics,
			&record.Data,
			&record.BlockTimestamp,
			&record.Processed,
			&record.Attempts,
			&record.LastError,
		); err != nil {
			return nil, err
		}
		record.BlockNumber = uint64(blockNumber)
		record.LogIndex = uint64(logIndex)
		record.Topics = model.SplitTopics(topics)
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	return markProcessed(ctx, s.pool, s.rawTable, id)
}

func (s *Store) RecordFailure(ctx context.Context, id int64, cause string, maxAttempts int) (bool, error) {
	var deadLettered bool
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s
		SET attempts = attempts + 1,
			last_error = $2,
			errored_at = CASE
				WHEN $3::int > 0 AND attempts + 1 >= $3::int THEN now()
				ELSE errored_at
			END
		WHERE id = $1
		RETURNING errored_at IS NOT NULL
	`, s.rawTable), id, cause, maxAttempts)
	if err := row.Scan(&deadLettered); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
		}
		return false, err
	}
	return deadLettered, nil
}

func (s *Store) Requeue(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET attempts = 0, last_error = NULL, errored_at = NULL WHERE id = $1
	`, s.rawTable), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{tx: tx, rawTable: s.rawTable}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Transient(err error) bool {
	return IsTransient(err)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func markProcessed(ctx context.Context, db execer, rawTable string, id int64) error {
	tag, err := db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET processed = TRUE WHERE id = $1`, rawTable), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	return nil
}
