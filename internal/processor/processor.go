package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"debateETL/internal/contract"
	"debateETL/internal/handler"
	"debateETL/internal/metrics"
	"debateETL/internal/model"
	"debateETL/internal/storage"
)

// Outcome is the terminal state of one record within a cycle.
type Outcome string

const (
	OutcomeCommitted    Outcome = "committed"
	OutcomeNoHandler    Outcome = "no_handler"
	OutcomeDecodeFailed Outcome = "decode_failed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Config holds runtime settings for the processor.
type Config struct {
	BatchSize     int
	MaxAttempts   int
	RecordTimeout time.Duration
	FetchRetries  int
	FetchBackoff  time.Duration
}

// CycleStats summarises one fetch-decode-apply cycle.
type CycleStats struct {
	Fetched      int
	Committed    int
	NoHandler    int
	DecodeFailed int
	Skipped      int
	Failed       int
	DeadLettered int
	Aborted      bool
	Interrupted  bool
}

func (s *CycleStats) add(outcome Outcome) {
	switch outcome {
	case OutcomeCommitted:
		s.Committed++
	case OutcomeNoHandler:
		s.NoHandler++
	case OutcomeDecodeFailed:
		s.DecodeFailed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	case OutcomeDeadLettered:
		s.DeadLettered++
	}
}

// Processor decodes pending raw records and applies them one transaction at a
// time.
type Processor struct {
	cfg      Config
	store    storage.Store
	decoder  *contract.Decoder
	registry *handler.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewProcessor builds a Processor with its dependencies.
func NewProcessor(cfg Config, store storage.Store, decoder *contract.Decoder, registry *handler.Registry, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Processor{
		cfg:      cfg,
		store:    store,
		decoder:  decoder,
		registry: registry,
		metrics:  m,
		logger:   logger,
	}
}

// RunCycle fetches one batch and processes it in order. Only a failed fetch
// is returned as an error; per-record failures are logged and counted.
func (p *Processor) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	start := time.Now()

	records, err := p.fetchPending(ctx)
	if err != nil {
		p.metrics.ObserveCycle("fetch_failed", 0, time.Since(start))
		return stats, fmt.Errorf("fetch pending: %w", err)
	}
	stats.Fetched = len(records)
	if len(records) == 0 {
		p.logger.Debug("no pending records")
		p.metrics.ObserveCycle("ok", 0, time.Since(start))
		return stats, nil
	}

	p.logger.Info("fetched pending records", zap.Int("count", len(records)))

	for _, record := range records {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}
		outcome, err := p.ProcessRecord(ctx, record)
		stats.add(outcome)
		if err != nil {
			p.logger.Warn("cycle aborted, remaining records stay pending",
				zap.Int64("record_id", record.ID),
				zap.Error(err),
			)
			stats.Aborted = true
			break
		}
	}

	result := "ok"
	switch {
	case stats.Aborted:
		result = "aborted"
	case stats.Interrupted:
		result = "interrupted"
	}
	p.metrics.ObserveCycle(result, stats.Fetched, time.Since(start))
	return stats, nil
}

func (p *Processor) fetchPending(ctx context.Context) ([]model.RawLogRecord, error) {
	var records []model.RawLogRecord
	err := withRetry(ctx, p.cfg.FetchRetries, p.cfg.FetchBackoff, p.store.Transient,
		func(n uint, err error) {
			p.logger.Warn("fetch pending failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		},
		func(ctx context.Context) error {
			var err error
			records, err = p.store.FetchPending(ctx, p.cfg.BatchSize)
			return err
		},
	)
	return records, err
}

// ProcessRecord takes one record through decode and apply. The returned error
// is non-nil only for transient store failures, which should end the cycle.
//
// The record runs on a context detached from ctx's cancellation so a shutdown
// never abandons a transaction half way; RecordTimeout still bounds it.
func (p *Processor) ProcessRecord(ctx context.Context, record model.RawLogRecord) (Outcome, error) {
	logger := p.logger.With(
		zap.Int64("record_id", record.ID),
		zap.Uint64("block_number", record.BlockNumber),
		zap.Uint64("log_index", record.LogIndex),
	)

	recordCtx := context.WithoutCancel(ctx)
	if p.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(recordCtx, p.cfg.RecordTimeout)
		defer cancel()
	}

	outcome, err := p.processRecord(recordCtx, record, logger)
	p.metrics.ObserveRecord(string(outcome))
	return outcome, err
}

func (p *Processor) processRecord(ctx context.Context, record model.RawLogRecord, logger *zap.Logger) (Outcome, error) {
	event, err := p.decoder.Decode(record)
	if err != nil {
		logger.Warn("decode failed, marking record processed", zap.String("topic0", record.Topic0()), zap.Error(err))
		if err := p.store.MarkProcessed(ctx, record.ID); err != nil {
			logger.Error("mark undecodable record processed", zap.Error(err))
			if p.store.Transient(err) {
				return OutcomeFailed, err
			}
			return OutcomeFailed, nil
		}
		return OutcomeDecodeFailed, nil
	}
	logger = logger.With(zap.String("event", event.Name))

	h, hasHandler := p.registry.Lookup(event.Name)
	claimed := false
	err = p.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		claimed, err = tx.ClaimRecord(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("claim record: %w", err)
		}
		if !claimed {
			return nil
		}
		if hasHandler {
			if err := h.Apply(ctx, tx, event.Args, event.BlockTime); err != nil {
				return fmt.Errorf("apply %s: %w", event.Name, err)
			}
		}
		if err := tx.MarkProcessed(ctx, record.ID); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		return nil
	})

	switch {
	case err == nil && !claimed:
		logger.Debug("record already processed elsewhere")
		return OutcomeSkipped, nil
	case err == nil && !hasHandler:
		logger.Info("no handler for event")
		return OutcomeNoHandler, nil
	case err == nil:
		logger.Debug("record committed")
		return OutcomeCommitted, nil
	case p.store.Transient(err):
		logger.Warn("transient store failure, record left pending", zap.Error(err))
		return OutcomeFailed, err
	}

	logger.Error("apply failed, transaction rolled back",
		zap.Bool("validation", errors.Is(err, handler.ErrInvalidEvent)),
		zap.Error(err),
	)
	deadLettered, ferr := p.store.RecordFailure(ctx, record.ID, err.Error(), p.cfg.MaxAttempts)
	if ferr != nil {
		logger.Error("record failure attempt", zap.Error(ferr))
		if p.store.Transient(ferr) {
			return OutcomeFailed, ferr
		}
		return OutcomeFailed, nil
	}
	if deadLettered {
		logger.Error("record dead-lettered after repeated failures", zap.Int("max_attempts", p.cfg.MaxAttempts))
		return OutcomeDeadLettered, nil
	}
	return OutcomeFailed, nil
}
