package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

type pgTx struct {
	tx       pgx.Tx
	rawTable string
}

// ClaimRecord takes the row lock on a pending record. Postgres re-evaluates
// the processed predicate once a competing lock is released, so a record
// committed by another worker in the meantime is reported as not claimed.
func (t *pgTx) ClaimRecord(ctx context.Context, id int64) (bool, error) {
	var locked int64
	err := t.tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id FROM %s WHERE id = $1 AND processed IS NOT TRUE FOR UPDATE
	`, t.rawTable), id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *pgTx) MarkProcessed(ctx context.Context, id int64) error {
	return markProcessed(ctx, t.tx, t.rawTable, id)
}

func (t *pgTx) UpsertDebate(ctx context.Context, debate model.Debate) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO debates (debate_id, title, duration, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (debate_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			duration = EXCLUDED.duration,
			is_active = EXCLUDED.is_active
	`,
		debate.DebateID,
		debate.Title,
		debate.Duration,
		debate.CreatedAt,
		debate.IsActive,
	)
	return err
}

func (t *pgTx) DeactivateDebate(ctx context.Context, debateID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE debates SET is_active = FALSE WHERE debate_id = $1`, debateID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debate %d: %w", debateID, storage.ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpsertDebateStart(ctx context.Context, start model.DebateStart) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO debate_starts (debate_id, actual_start_time)
		VALUES ($1, $2)
		ON CONFLICT (debate_id)
		DO UPDATE SET actual_start_time = EXCLUDED.actual_start_time
	`, start.DebateID, start.ActualStartTime)
	return err
}

func (t *pgTx) UpsertFinishedDebate(ctx context.Context, finished model.FinishedDebate) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO finished_debates (debate_id, team1_score, team2_score, ended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (debate_id)
		DO UPDATE SET
			team1_score = EXCLUDED.team1_score,
			team2_score = EXCLUDED.team2_score,
			ended_at = EXCLUDED.ended_at
	`,
		finished.DebateID,
		finished.Team1Score,
		finished.Team2Score,
		finished.EndedAt,
	)
	return err
}

const userColumns = `id, wallet_address, username, debate_id, team, joined_at`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.WalletAddress,
		&user.Username,
		&user.DebateID,
		&user.Team,
		&user.JoinedAt,
	)
	return user, err
}

func (t *pgTx) UpsertUser(ctx context.Context, user model.User) (model.User, error) {
	username := user.Username
	if username == "" {
		username = model.DefaultUsername(user.WalletAddress)
	}
	return scanUser(t.tx.QueryRow(ctx, `
		INSERT INTO users (wallet_address, username, debate_id, team, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_address)
		DO UPDATE SET
			debate_id = EXCLUDED.debate_id,
			team = EXCLUDED.team,
			joined_at = EXCLUDED.joined_at
		RETURNING `+userColumns,
		user.WalletAddress,
		username,
		user.DebateID,
		user.Team,
		user.JoinedAt,
	))
}

func (t *pgTx) FindUserByWallet(ctx context.Context, wallet string) (model.User, bool, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, false, nil
		}
		return model.User{}, false, err
	}
	return user, true, nil
}

func (t *pgTx) UpdateUserTeam(ctx context.Context, userID int64, team int16) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET team = $2 WHERE id = $1`, userID, team)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, storage.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertFlip(ctx context.Context, flip model.Flip) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO flips (debate_id, user_id, persuader_id, from_team, to_team, flipped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		flip.DebateID,
		flip.UserID,
		flip.PersuaderID,
		flip.FromTeam,
		flip.ToTeam,
		flip.FlippedAt,
	)
	return err
}
