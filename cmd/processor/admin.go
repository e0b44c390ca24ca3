package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"debateETL/internal/storage"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema applied", zap.String("raw_table", a.cfg.RawTable))
	return nil
}

func runRequeue(cmd *cobra.Command, _ []string) error {
	ids, err := cmd.Flags().GetInt64Slice("id")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("at least one --id is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var missing int
	for _, id := range ids {
		if err := a.store.Requeue(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				a.logger.Warn("raw log not found", zap.Int64("record_id", id))
				missing++
				continue
			}
			return err
		}
		a.logger.Info("raw log requeued", zap.Int64("record_id", id))
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d raw logs not found", missing, len(ids))
	}
	return nil
}
