package handler

import (
	"context"
	"fmt"
	"time"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

// maxInstantMillis bounds the representable instant, as in ECMAScript dates.
const maxInstantMillis = 8_640_000_000_000_000

// DebateCreated(uint256 indexed debateId, string title, uint256 startDelay, uint256 duration)
func applyDebateCreated(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error {
	debateID, err := requireInt64(EventDebateCreated, args, "debateId")
	if err != nil {
		return err
	}
	title, err := requireString(EventDebateCreated, args, "title")
	if err != nil {
		return err
	}
	duration, err := requireInt64(EventDebateCreated, args, "duration")
	if err != nil {
		return err
	}

	return tx.UpsertDebate(ctx, model.Debate{
		DebateID:  debateID,
		Title:     title,
		Duration:  duration,
		CreatedAt: blockTime,
		IsActive:  true,
	})
}

// DebateStarted(uint256 indexed debateId, uint256 actualStartTime)
func applyDebateStarted(ctx context.Context, tx storage.Tx, args model.Args, _ time.Time) error {
	debateID, err := requireInt64(EventDebateStarted, args, "debateId")
	if err != nil {
		return err
	}
	startSecs, err := requireInt64(EventDebateStarted, args, "actualStartTime")
	if err != nil {
		return err
	}
	if startSecs > maxInstantMillis/1000 || startSecs < -maxInstantMillis/1000 {
		return invalid(EventDebateStarted, "actualStartTime", "%d is not a valid instant", startSecs)
	}

	return tx.UpsertDebateStart(ctx, model.DebateStart{
		DebateID:        debateID,
		ActualStartTime: time.UnixMilli(startSecs * 1000).UTC(),
	})
}

// Finished(uint256 indexed debateId, uint256 team1Score, uint256 team2Score)
func applyFinished(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error {
	debateID, err := requireInt64(EventFinished, args, "debateId")
	if err != nil {
		return err
	}
	team1Score, err := requireInt64(EventFinished, args, "team1Score")
	if err != nil {
		return err
	}
	team2Score, err := requireInt64(EventFinished, args, "team2Score")
	if err != nil {
		return err
	}

	if err := tx.UpsertFinishedDebate(ctx, model.FinishedDebate{
		DebateID:   debateID,
		Team1Score: team1Score,
		Team2Score: team2Score,
		EndedAt:    blockTime,
	}); err != nil {
		return err
	}
	if err := tx.DeactivateDebate(ctx, debateID); err != nil {
		return fmt.Errorf("deactivate debate %d: %w", debateID, err)
	}
	return nil
}
