package model

import "time"

// EventArg is one decoded event argument.
type EventArg struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Indexed bool        `json:"indexed"`
	Value   interface{} `json:"value"`
}

// Args holds decoded arguments in declaration order.
type Args []EventArg

// Get returns the value of the named argument.
func (a Args) Get(name string) (interface{}, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, arg.Value != nil
		}
	}
	return nil, false
}

// DecodedEvent is a raw log record resolved against the contract schema.
type DecodedEvent struct {
	RecordID    int64     `json:"record_id"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint64    `json:"log_index"`
	TxHash      string    `json:"tx_hash"`
	Name        string    `json:"event_name"`
	Args        Args      `json:"args"`
	BlockTime   time.Time `json:"block_time"`
}
