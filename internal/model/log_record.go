package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RawLogRecord is one row of the append-only raw log table.
type RawLogRecord struct {
	ID             int64    `json:"id"`
	BlockNumber    uint64   `json:"block_number"`
	LogIndex       uint64   `json:"log_index"`
	TxHash         string   `json:"tx_hash"`
	Address        string   `json:"address"`
	Topics         []string `json:"topics"`
	Data           string   `json:"data"`
	BlockTimestamp string   `json:"block_timestamp"`
	Processed      bool     `json:"processed"`
	Attempts       int      `json:"attempts,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
}

// Topic0 returns the event signature topic, or "" when the record has none.
func (lr RawLogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}

// SplitTopics parses the comma-separated topics column.
func SplitTopics(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// JoinTopics is the inverse of SplitTopics.
func JoinTopics(topics []string) string {
	return strings.Join(topics, ",")
}

// UnmarshalJSON accepts topics as an array or as the comma-separated column
// text, and block_timestamp as a number or a string.
func (lr *RawLogRecord) UnmarshalJSON(data []byte) error {
	type Alias RawLogRecord
	var a struct {
		Alias
		Topics         json.RawMessage `json:"topics"`
		BlockTimestamp json.RawMessage `json:"block_timestamp"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*lr = RawLogRecord(a.Alias)

	topics, err := decodeTopics(a.Topics)
	if err != nil {
		return err
	}
	lr.Topics = topics

	ts, err := decodeTimestamp(a.BlockTimestamp)
	if err != nil {
		return err
	}
	lr.BlockTimestamp = ts
	return nil
}

func decodeTopics(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("topics: %w", err)
	}
	return SplitTopics(joined), nil
}

func decodeTimestamp(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("block_timestamp: %w", err)
	}
	return num.String(), nil
}
