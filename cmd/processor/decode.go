package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"debateETL/internal/config"
	"debateETL/internal/contract"
	"debateETL/internal/model"
	"debateETL/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	contractABI, err := contract.LoadABI(cfg.ABIPath)
	if err != nil {
		return err
	}
	decoder := contract.NewDecoder(contractABI)

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := storage.NewJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := storage.NewJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Strings("events", decoder.EventNames()),
	)

	var total, decoded, failed, unknown int
	err = storage.ReadRawRecords(inputFile, func(line int, record model.RawLogRecord, parseErr error) error {
		total++
		if parseErr != nil {
			failed++
			return errWriter.Write(model.DecodeError{Message: fmt.Sprintf("line %d: %v", line, parseErr)})
		}

		event, err := decoder.Decode(record)
		if err != nil {
			failed++
			if !decoder.CanDecode(record.Topic0()) {
				unknown++
			}
			logger.Debug("decode failed",
				zap.Int64("record_id", record.ID),
				zap.Uint64("block_number", record.BlockNumber),
				zap.Uint64("log_index", record.LogIndex),
				zap.Error(err),
			)
			var decodeErr *model.DecodeError
			if !errors.As(err, &decodeErr) {
				decodeErr = model.NewDecodeError(record, err)
			}
			return errWriter.Write(decodeErr)
		}

		decoded++
		return outWriter.Write(event)
	})
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("decoded", decoded),
		zap.Int("failed", failed),
		zap.Int("unknown_event", unknown),
	)

	return nil
}
