package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const debateABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "debateId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "title", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "startDelay", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "duration", "type": "uint256"}
    ],
    "name": "DebateCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "debateId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "actualStartTime", "type": "uint256"}
    ],
    "name": "DebateStarted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "debateId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "who", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "team", "type": "uint8"}
    ],
    "name": "Joined",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "debateId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "team1Score", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "team2Score", "type": "uint256"}
    ],
    "name": "Finished",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "debateId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "persuader", "type": "address"}
    ],
    "name": "Flipped",
    "type": "event"
  }
]`

var (
	debateABI     abi.ABI
	debateABIOnce sync.Once
	debateABIErr  error
)

// DebateABI returns the parsed built-in debate contract ABI.
func DebateABI() (abi.ABI, error) {
	debateABIOnce.Do(func() {
		debateABI, debateABIErr = abi.JSON(strings.NewReader(debateABIJSON))
	})
	return debateABI, debateABIErr
}

// LoadABI reads an ABI from path. An empty path selects the built-in debate
// ABI. The file may hold a bare ABI array or a compiler artifact with an
// "abi" field.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return DebateABI()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi: %w", err)
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("parse abi artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("abi artifact %s has no abi field", path)
		}
		data = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	if len(parsed.Events) == 0 {
		return abi.ABI{}, fmt.Errorf("abi %s declares no events", path)
	}
	return parsed, nil
}
