package handler

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"debateETL/internal/model"
)

// ErrInvalidEvent marks events whose arguments fail validation.
var ErrInvalidEvent = errors.New("invalid event")

// ValidationError describes a missing or unusable event argument.
type ValidationError struct {
	Event  string
	Arg    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: argument %s: %s", e.Event, e.Arg, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

func missing(event, arg string) error {
	return &ValidationError{Event: event, Arg: arg, Reason: "missing"}
}

func invalid(event, arg, format string, a ...interface{}) error {
	return &ValidationError{Event: event, Arg: arg, Reason: fmt.Sprintf(format, a...)}
}

func requireInt64(event string, args model.Args, name string) (int64, error) {
	value, ok := args.Get(name)
	if !ok {
		return 0, missing(event, name)
	}
	n, ok := toBigInt(value)
	if !ok {
		return 0, invalid(event, name, "unexpected type %T", value)
	}
	if !n.IsInt64() {
		return 0, invalid(event, name, "value %s does not fit int64", n)
	}
	return n.Int64(), nil
}

func requireString(event string, args model.Args, name string) (string, error) {
	value, ok := args.Get(name)
	if !ok {
		return "", missing(event, name)
	}
	s, ok := value.(string)
	if !ok {
		return "", invalid(event, name, "unexpected type %T", value)
	}
	if s == "" {
		return "", missing(event, name)
	}
	return s, nil
}

// requireAddress returns the EIP-55 form of an address argument.
func requireAddress(event string, args model.Args, name string) (string, error) {
	value, ok := args.Get(name)
	if !ok {
		return "", missing(event, name)
	}
	switch typed := value.(type) {
	case common.Address:
		return typed.Hex(), nil
	case string:
		if typed == "" {
			return "", missing(event, name)
		}
		return typed, nil
	default:
		return "", invalid(event, name, "unexpected type %T", value)
	}
}

func requireTeam(event string, args model.Args, name string) (int16, error) {
	team, err := requireInt64(event, args, name)
	if err != nil {
		return 0, err
	}
	if team != 1 && team != 2 {
		return 0, invalid(event, name, "team %d is not 1 or 2", team)
	}
	return int16(team), nil
}

func toBigInt(value interface{}) (*big.Int, bool) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return v, true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case int:
		return big.NewInt(int64(v)), true
	default:
		return nil, false
	}
}

func otherTeam(team int16) int16 {
	if team == 1 {
		return 2
	}
	return 1
}
