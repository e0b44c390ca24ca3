package handler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

// Joined(uint256 indexed debateId, address indexed who, uint8 team)
func applyJoined(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error {
	debateID, err := requireInt64(EventJoined, args, "debateId")
	if err != nil {
		return err
	}
	wallet, err := requireAddress(EventJoined, args, "who")
	if err != nil {
		return err
	}
	team, err := requireTeam(EventJoined, args, "team")
	if err != nil {
		return err
	}

	joinedAt := blockTime
	_, err = tx.UpsertUser(ctx, model.User{
		WalletAddress: wallet,
		Username:      model.DefaultUsername(wallet),
		DebateID:      &debateID,
		Team:          &team,
		JoinedAt:      &joinedAt,
	})
	return err
}

// flippedHandler applies Flipped(uint256 indexed debateId, address indexed
// user, address indexed persuader). Unknown wallets make the event a no-op.
type flippedHandler struct {
	logger *zap.Logger
}

func (h *flippedHandler) Apply(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error {
	debateID, err := requireInt64(EventFlipped, args, "debateId")
	if err != nil {
		return err
	}
	userWallet, err := requireAddress(EventFlipped, args, "user")
	if err != nil {
		return err
	}
	persuaderWallet, err := requireAddress(EventFlipped, args, "persuader")
	if err != nil {
		return err
	}

	user, userFound, err := tx.FindUserByWallet(ctx, userWallet)
	if err != nil {
		return fmt.Errorf("find user %s: %w", userWallet, err)
	}
	persuader, persuaderFound, err := tx.FindUserByWallet(ctx, persuaderWallet)
	if err != nil {
		return fmt.Errorf("find persuader %s: %w", persuaderWallet, err)
	}
	if !userFound || !persuaderFound {
		h.logger.Warn("flip references unknown user",
			zap.Int64("debate_id", debateID),
			zap.String("user", userWallet),
			zap.Bool("user_found", userFound),
			zap.String("persuader", persuaderWallet),
			zap.Bool("persuader_found", persuaderFound),
		)
		return nil
	}
	if user.Team == nil || (*user.Team != 1 && *user.Team != 2) {
		h.logger.Warn("flip for user without a team",
			zap.Int64("debate_id", debateID),
			zap.String("user", userWallet),
		)
		return nil
	}

	fromTeam := *user.Team
	toTeam := otherTeam(fromTeam)
	if err := tx.InsertFlip(ctx, model.Flip{
		DebateID:    debateID,
		UserID:      user.ID,
		PersuaderID: persuader.ID,
		FromTeam:    fromTeam,
		ToTeam:      toTeam,
		FlippedAt:   blockTime,
	}); err != nil {
		return err
	}
	return tx.UpdateUserTeam(ctx, user.ID, toTeam)
}
