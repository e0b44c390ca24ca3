package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func parseTopicHash(input string) (common.Hash, error) {
	data, err := hexutil.Decode(strings.TrimSpace(input))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic %q: %w", input, err)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid topic length %d", len(data))
	}
	return common.BytesToHash(data), nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("%s: expected %d topics, got %d", event.Name, indexedCount+1, len(topics))
	}
	out := make([]common.Hash, 0, indexedCount)
	for _, topic := range topics[1:] {
		hash, err := parseTopicHash(topic)
		if err != nil {
			return nil, err
		}
		out = append(out, hash)
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func decodeData(dataHex string) ([]byte, error) {
	dataHex = strings.TrimSpace(dataHex)
	if dataHex == "" || dataHex == "0x" {
		return nil, nil
	}
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return data, nil
}
