package processor

import (
	"math/big"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"debateETL/internal/contract"
	"debateETL/internal/model"
)

const baseTimestamp = 1700000000

// logBuilder packs raw records the way the ingester stores them.
type logBuilder struct {
	t     *testing.T
	abi   abi.ABI
	block uint64
}

func newLogBuilder(t *testing.T) *logBuilder {
	t.Helper()
	debateABI, err := contract.DebateABI()
	require.NoError(t, err)
	return &logBuilder{t: t, abi: debateABI, block: 100}
}

func (b *logBuilder) record(name string, indexed []common.Hash, values ...interface{}) model.RawLogRecord {
	b.t.Helper()
	event, ok := b.abi.Events[name]
	require.True(b.t, ok, "unknown event %s", name)
	data, err := event.Inputs.NonIndexed().Pack(values...)
	require.NoError(b.t, err)

	topics := []string{event.ID.Hex()}
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	b.block++
	return model.RawLogRecord{
		BlockNumber:    b.block,
		LogIndex:       0,
		TxHash:         common.BigToHash(new(big.Int).SetUint64(b.block)).Hex(),
		Address:        "0x1111111111111111111111111111111111111111",
		Topics:         topics,
		Data:           hexutil.Encode(data),
		BlockTimestamp: strconv.FormatUint(baseTimestamp+b.block, 10),
	}
}

func (b *logBuilder) debateCreated(debateID int64, title string, duration int64) model.RawLogRecord {
	return b.record("DebateCreated", []common.Hash{idTopic(debateID)}, title, big.NewInt(0), big.NewInt(duration))
}

func (b *logBuilder) debateStarted(debateID, startSeconds int64) model.RawLogRecord {
	return b.record("DebateStarted", []common.Hash{idTopic(debateID)}, big.NewInt(startSeconds))
}

func (b *logBuilder) joined(debateID int64, who common.Address, team uint8) model.RawLogRecord {
	return b.record("Joined", []common.Hash{idTopic(debateID), addressTopic(who)}, team)
}

func (b *logBuilder) finished(debateID, team1, team2 int64) model.RawLogRecord {
	return b.record("Finished", []common.Hash{idTopic(debateID)}, big.NewInt(team1), big.NewInt(team2))
}

func (b *logBuilder) flipped(debateID int64, user, persuader common.Address) model.RawLogRecord {
	return b.record("Flipped", []common.Hash{idTopic(debateID), addressTopic(user), addressTopic(persuader)})
}

func idTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
