package contract

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"debateETL/internal/model"
)

func TestDecoderDebateCreated(t *testing.T) {
	debateABI, err := DebateABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := NewDecoder(debateABI)

	event := debateABI.Events["DebateCreated"]
	data, err := event.Inputs.NonIndexed().Pack("Pineapple on pizza", big.NewInt(60), big.NewInt(30))
	if err != nil {
		t.Fatalf("pack debate created: %v", err)
	}

	record := buildRecord(event.ID, data, []common.Hash{common.BigToHash(big.NewInt(7))})
	decoded, err := decoder.Decode(record)
	if err != nil {
		t.Fatalf("decode debate created: %v", err)
	}

	if decoded.Name != "DebateCreated" {
		t.Fatalf("name mismatch: %s", decoded.Name)
	}
	wantOrder := []string{"debateId", "title", "startDelay", "duration"}
	if len(decoded.Args) != len(wantOrder) {
		t.Fatalf("arg count mismatch: %d", len(decoded.Args))
	}
	for i, name := range wantOrder {
		if decoded.Args[i].Name != name {
			t.Fatalf("arg %d: got %s want %s", i, decoded.Args[i].Name, name)
		}
	}
	if !decoded.Args[0].Indexed || decoded.Args[1].Indexed {
		t.Fatalf("indexed flags mismatch: %+v", decoded.Args)
	}

	id, ok := decoded.Args[0].Value.(*big.Int)
	if !ok || id.Int64() != 7 {
		t.Fatalf("debateId mismatch: %#v", decoded.Args[0].Value)
	}
	if title, _ := decoded.Args.Get("title"); title != "Pineapple on pizza" {
		t.Fatalf("title mismatch: %#v", title)
	}
	if decoded.BlockTime.Unix() != 1700000000 {
		t.Fatalf("block time mismatch: %s", decoded.BlockTime)
	}
	if decoded.RecordID != record.ID || decoded.LogIndex != record.LogIndex {
		t.Fatalf("position mismatch: %+v", decoded)
	}
}

func TestDecoderJoinedAndFlipped(t *testing.T) {
	debateABI, err := DebateABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := NewDecoder(debateABI)

	who := common.HexToAddress("0x2222222222222222222222222222222222222222")
	persuader := common.HexToAddress("0x3333333333333333333333333333333333333333")

	joined := debateABI.Events["Joined"]
	joinedData, err := joined.Inputs.NonIndexed().Pack(uint8(2))
	if err != nil {
		t.Fatalf("pack joined: %v", err)
	}
	decoded, err := decoder.Decode(buildRecord(joined.ID, joinedData, []common.Hash{
		common.BigToHash(big.NewInt(3)),
		topicFromAddress(who),
	}))
	if err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if got, _ := decoded.Args.Get("who"); got != who {
		t.Fatalf("who mismatch: %#v", got)
	}
	if got, _ := decoded.Args.Get("team"); got != uint8(2) {
		t.Fatalf("team mismatch: %#v", got)
	}

	flipped := debateABI.Events["Flipped"]
	decoded, err = decoder.Decode(buildRecord(flipped.ID, nil, []common.Hash{
		common.BigToHash(big.NewInt(3)),
		topicFromAddress(who),
		topicFromAddress(persuader),
	}))
	if err != nil {
		t.Fatalf("decode flipped: %v", err)
	}
	if got, _ := decoded.Args.Get("persuader"); got != persuader {
		t.Fatalf("persuader mismatch: %#v", got)
	}
}

func TestDecoderLargeIntegersStayExact(t *testing.T) {
	debateABI, err := DebateABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := NewDecoder(debateABI)

	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	event := debateABI.Events["Finished"]
	data, err := event.Inputs.NonIndexed().Pack(huge, big.NewInt(9))
	if err != nil {
		t.Fatalf("pack finished: %v", err)
	}

	decoded, err := decoder.Decode(buildRecord(event.ID, data, []common.Hash{common.BigToHash(big.NewInt(1))}))
	if err != nil {
		t.Fatalf("decode finished: %v", err)
	}
	got, _ := decoded.Args.Get("team1Score")
	if v, ok := got.(*big.Int); !ok || v.Cmp(huge) != 0 {
		t.Fatalf("team1Score mismatch: %#v", got)
	}
}

func TestDecoderStructuralFailures(t *testing.T) {
	debateABI, err := DebateABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := NewDecoder(debateABI)
	finished := debateABI.Events["Finished"]
	goodData, err := finished.Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(2))
	if err != nil {
		t.Fatalf("pack finished: %v", err)
	}
	idTopic := []common.Hash{common.BigToHash(big.NewInt(1))}

	cases := map[string]model.RawLogRecord{
		"no topics":       {ID: 1, Data: "0x", BlockTimestamp: "1"},
		"unknown topic0":  buildRecord(common.HexToHash("0x01"), goodData, idTopic),
		"missing indexed": buildRecord(finished.ID, goodData, nil),
		"truncated data":  buildRecord(finished.ID, goodData[:40], idTopic),
		"empty data":      buildRecord(finished.ID, nil, idTopic),
		"bad hex":         withData(buildRecord(finished.ID, goodData, idTopic), "0xzz"),
		"bad timestamp":   withTimestamp(buildRecord(finished.ID, goodData, idTopic), "yesterday"),
	}

	for name, record := range cases {
		_, err := decoder.Decode(record)
		if err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
		var decodeErr *model.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("%s: expected *model.DecodeError, got %T", name, err)
		}
		if decodeErr.RecordID != record.ID {
			t.Fatalf("%s: record id mismatch: %d", name, decodeErr.RecordID)
		}
	}
}

func TestDecoderCanDecode(t *testing.T) {
	debateABI, err := DebateABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := NewDecoder(debateABI)

	if !decoder.CanDecode(debateABI.Events["Joined"].ID.Hex()) {
		t.Fatalf("expected Joined topic to be decodable")
	}
	if decoder.CanDecode("0x1234") {
		t.Fatalf("short topic should not be decodable")
	}
	names := decoder.EventNames()
	if len(names) != 5 || names[0] != "DebateCreated" {
		t.Fatalf("event names mismatch: %v", names)
	}
}

func TestLoadABIArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Debate.json")
	artifact := `{"contractName":"Debate","abi":` + debateABIJSON + `}`
	if err := os.WriteFile(path, []byte(artifact), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	parsed, err := LoadABI(path)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	builtin, err := DebateABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if parsed.Events["Flipped"].ID != builtin.Events["Flipped"].ID {
		t.Fatalf("Flipped topic mismatch")
	}

	if err := os.WriteFile(path, []byte(`{"contractName":"Empty"}`), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if _, err := LoadABI(path); err == nil {
		t.Fatalf("expected error for artifact without abi")
	}
}

func buildRecord(topic0 common.Hash, data []byte, indexed []common.Hash) model.RawLogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.RawLogRecord{
		ID:             11,
		BlockNumber:    12345,
		LogIndex:       1,
		TxHash:         "0xdef",
		Address:        "0x1111111111111111111111111111111111111111",
		Topics:         topics,
		Data:           hexutil.Encode(data),
		BlockTimestamp: "1700000000",
	}
}

func withData(record model.RawLogRecord, data string) model.RawLogRecord {
	record.Data = data
	return record
}

func withTimestamp(record model.RawLogRecord, ts string) model.RawLogRecord {
	record.BlockTimestamp = ts
	return record
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
