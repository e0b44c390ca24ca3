package contract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"debateETL/internal/model"
)

// Decoder resolves raw log records against a contract ABI.
type Decoder struct {
	byTopic map[common.Hash]abi.Event
}

// NewDecoder indexes every non-anonymous event of contractABI by its topic0.
func NewDecoder(contractABI abi.ABI) *Decoder {
	byTopic := make(map[common.Hash]abi.Event, len(contractABI.Events))
	for _, event := range contractABI.Events {
		if event.Anonymous {
			continue
		}
		byTopic[event.ID] = event
	}
	return &Decoder{byTopic: byTopic}
}

// CanDecode checks if the topic0 belongs to a known event.
func (d *Decoder) CanDecode(topic0 string) bool {
	hash, err := parseTopicHash(topic0)
	if err != nil {
		return false
	}
	_, ok := d.byTopic[hash]
	return ok
}

// EventNames lists the decodable events, sorted.
func (d *Decoder) EventNames() []string {
	names := make([]string, 0, len(d.byTopic))
	for _, event := range d.byTopic {
		names = append(names, event.Name)
	}
	sort.Strings(names)
	return names
}

// Decode turns a raw record into a DecodedEvent. Every failure is returned as
// a *model.DecodeError. Integer arguments are left as decoded by the ABI
// package (*big.Int or sized ints); narrowing is up to the consumer.
func (d *Decoder) Decode(record model.RawLogRecord) (event model.DecodedEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.NewDecodeError(record, fmt.Errorf("panic during decode: %v", r))
		}
	}()

	args, name, err := d.decodeArgs(record)
	if err != nil {
		return model.DecodedEvent{}, model.NewDecodeError(record, err)
	}

	blockTime, err := ParseBlockTime(record.BlockTimestamp)
	if err != nil {
		return model.DecodedEvent{}, model.NewDecodeError(record, err)
	}

	return model.DecodedEvent{
		RecordID:    record.ID,
		BlockNumber: record.BlockNumber,
		LogIndex:    record.LogIndex,
		TxHash:      record.TxHash,
		Name:        name,
		Args:        args,
		BlockTime:   blockTime,
	}, nil
}

func (d *Decoder) decodeArgs(record model.RawLogRecord) (model.Args, string, error) {
	if len(record.Topics) == 0 {
		return nil, "", fmt.Errorf("missing topics")
	}
	topic0, err := parseTopicHash(record.Topics[0])
	if err != nil {
		return nil, "", err
	}
	event, ok := d.byTopic[topic0]
	if !ok {
		return nil, "", fmt.Errorf("unsupported topic0: %s", record.Topics[0])
	}

	indexedTopics, err := parseIndexedTopics(event, record.Topics)
	if err != nil {
		return nil, "", err
	}
	indexed := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return nil, "", fmt.Errorf("parse topics: %w", err)
	}

	data, err := decodeData(record.Data)
	if err != nil {
		return nil, "", err
	}
	nonIndexed := make(map[string]interface{})
	if err := event.Inputs.UnpackIntoMap(nonIndexed, data); err != nil {
		return nil, "", fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	args := make(model.Args, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		var value interface{}
		if input.Indexed {
			value = indexed[input.Name]
		} else {
			value = nonIndexed[input.Name]
		}
		args = append(args, model.EventArg{
			Name:    input.Name,
			Type:    input.Type.String(),
			Indexed: input.Indexed,
			Value:   value,
		})
	}
	return args, event.Name, nil
}

// ParseBlockTime parses a block timestamp given as unix seconds.
func ParseBlockTime(input string) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("missing block timestamp")
	}
	secs, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid block timestamp %q: %w", input, err)
	}
	if secs < 0 {
		return time.Time{}, fmt.Errorf("negative block timestamp %d", secs)
	}
	return time.Unix(secs, 0).UTC(), nil
}
