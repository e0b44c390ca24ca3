package model

import "fmt"

// DecodeError records a structural decode failure for a raw log record.
type DecodeError struct {
	RecordID    int64  `json:"record_id"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
	TxHash      string `json:"tx_hash"`
	Topic0      string `json:"topic0"`
	Message     string `json:"error"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record %d (block %d, log %d): %s", e.RecordID, e.BlockNumber, e.LogIndex, e.Message)
}

// NewDecodeError builds a DecodeError for record from err.
func NewDecodeError(record RawLogRecord, err error) *DecodeError {
	return &DecodeError{
		RecordID:    record.ID,
		BlockNumber: record.BlockNumber,
		LogIndex:    record.LogIndex,
		TxHash:      record.TxHash,
		Topic0:      record.Topic0(),
		Message:     err.Error(),
	}
}
