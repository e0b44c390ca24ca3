package memory

import (
	"context"
	"fmt"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

type tx struct {
	store *Store
	state *state
}

func (t *tx) guard(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.store.check(op)
}

func (t *tx) ClaimRecord(ctx context.Context, id int64) (bool, error) {
	if err := t.guard(ctx, "ClaimRecord"); err != nil {
		return false, err
	}
	record, ok := t.state.records[id]
	if !ok || record.Processed {
		return false, nil
	}
	return true, nil
}

func (t *tx) MarkProcessed(ctx context.Context, id int64) error {
	if err := t.guard(ctx, "MarkProcessed"); err != nil {
		return err
	}
	return markProcessed(t.state, id)
}

func (t *tx) UpsertDebate(ctx context.Context, debate model.Debate) error {
	if err := t.guard(ctx, "UpsertDebate"); err != nil {
		return err
	}
	existing, ok := t.state.debates[debate.DebateID]
	if ok {
		existing.Title = debate.Title
		existing.Duration = debate.Duration
		existing.IsActive = debate.IsActive
		t.state.debates[debate.DebateID] = existing
		return nil
	}
	t.state.debates[debate.DebateID] = debate
	return nil
}

func (t *tx) DeactivateDebate(ctx context.Context, debateID int64) error {
	if err := t.guard(ctx, "DeactivateDebate"); err != nil {
		return err
	}
	debate, ok := t.state.debates[debateID]
	if !ok {
		return fmt.Errorf("debate %d: %w", debateID, storage.ErrNotFound)
	}
	debate.IsActive = false
	t.state.debates[debateID] = debate
	return nil
}

func (t *tx) UpsertDebateStart(ctx context.Context, start model.DebateStart) error {
	if err := t.guard(ctx, "UpsertDebateStart"); err != nil {
		return err
	}
	t.state.starts[start.DebateID] = start
	return nil
}

func (t *tx) UpsertFinishedDebate(ctx context.Context, finished model.FinishedDebate) error {
	if err := t.guard(ctx, "UpsertFinishedDebate"); err != nil {
		return err
	}
	t.state.finished[finished.DebateID] = finished
	return nil
}

func (t *tx) UpsertUser(ctx context.Context, user model.User) (model.User, error) {
	if err := t.guard(ctx, "UpsertUser"); err != nil {
		return model.User{}, err
	}
	existing, ok := t.state.users[user.WalletAddress]
	if ok {
		existing.DebateID = user.DebateID
		existing.Team = user.Team
		existing.JoinedAt = user.JoinedAt
		t.state.users[user.WalletAddress] = existing
		return existing, nil
	}

	t.state.nextUserID++
	user.ID = t.state.nextUserID
	if user.Username == "" {
		user.Username = model.DefaultUsername(user.WalletAddress)
	}
	t.state.users[user.WalletAddress] = user
	return user, nil
}

func (t *tx) FindUserByWallet(ctx context.Context, wallet string) (model.User, bool, error) {
	if err := t.guard(ctx, "FindUserByWallet"); err != nil {
		return model.User{}, false, err
	}
	user, ok := t.state.users[wallet]
	return user, ok, nil
}

func (t *tx) UpdateUserTeam(ctx context.Context, userID int64, team int16) error {
	if err := t.guard(ctx, "UpdateUserTeam"); err != nil {
		return err
	}
	for wallet, user := range t.state.users {
		if user.ID != userID {
			continue
		}
		value := team
		user.Team = &value
		t.state.users[wallet] = user
		return nil
	}
	return fmt.Errorf("user %d: %w", userID, storage.ErrNotFound)
}

func (t *tx) InsertFlip(ctx context.Context, flip model.Flip) error {
	if err := t.guard(ctx, "InsertFlip"); err != nil {
		return err
	}
	t.state.nextFlipID++
	flip.ID = t.state.nextFlipID
	t.state.flips = append(t.state.flips, flip)
	return nil
}
