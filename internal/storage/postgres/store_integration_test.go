//go:build integration_test

package postgres

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"debateETL/internal/contract"
	"debateETL/internal/handler"
	"debateETL/internal/model"
	"debateETL/internal/processor"
	"debateETL/internal/storage"
)

type StoreSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	dsn       string
	store     *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "debate",
			"POSTGRES_PASSWORD": "debate",
			"POSTGRES_DB":       "debate",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(3 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)

	s.dsn = fmt.Sprintf("postgres://debate:debate@%s:%s/debate?sslmode=disable", host, port.Port())
	store, err := NewStore(s.ctx, s.dsn, Options{StatementTimeout: 5 * time.Second})
	s.Require().NoError(err)
	s.Require().NoError(store.Migrate(s.ctx))
	// second run must be a no-op
	s.Require().NoError(store.Migrate(s.ctx))
	s.store = store
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *StoreSuite) SetupTest() {
	_, err := s.store.pool.Exec(s.ctx, `TRUNCATE flips, finished_debates, debate_starts, users, debates, raw_logs RESTART IDENTITY`)
	s.Require().NoError(err)
}

func (s *StoreSuite) insertRaw(block, logIndex uint64) int64 {
	var id int64
	err := s.store.pool.QueryRow(s.ctx, `
		INSERT INTO raw_logs (block_number, log_index, tx_hash, address, topics, data, block_timestamp)
		VALUES ($1, $2, '0xabc', '0x1111', '0xaaa,0xbbb', '0x', '1700000000')
		RETURNING id
	`, int64(block), int64(logIndex)).Scan(&id)
	s.Require().NoError(err)
	return id
}

func (s *StoreSuite) TestFetchPendingOrderAndLimit() {
	third := s.insertRaw(11, 0)
	first := s.insertRaw(10, 0)
	second := s.insertRaw(10, 4)

	records, err := s.store.FetchPending(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(first, records[0].ID)
	s.Equal(second, records[1].ID)
	s.Equal([]string{"0xaaa", "0xbbb"}, records[0].Topics)
	s.Equal("1700000000", records[0].BlockTimestamp)

	s.Require().NoError(s.store.MarkProcessed(s.ctx, first))
	records, err = s.store.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(third, records[1].ID)
}

func (s *StoreSuite) TestNullProcessedIsPending() {
	id := s.insertRaw(1, 0)
	_, err := s.store.pool.Exec(s.ctx, `UPDATE raw_logs SET processed = NULL WHERE id = $1`, id)
	s.Require().NoError(err)

	records, err := s.store.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.False(records[0].Processed)
}

func (s *StoreSuite) TestTransactionRollsBack() {
	id := s.insertRaw(1, 0)
	err := s.store.WithTx(s.ctx, func(tx storage.Tx) error {
		claimed, err := tx.ClaimRecord(s.ctx, id)
		s.Require().NoError(err)
		s.Require().True(claimed)
		s.Require().NoError(tx.UpsertDebate(s.ctx, model.Debate{DebateID: 7, Title: "t", Duration: 5, CreatedAt: time.Now(), IsActive: true}))
		s.Require().NoError(tx.UpsertFinishedDebate(s.ctx, model.FinishedDebate{DebateID: 7, Team1Score: 3, Team2Score: 9, EndedAt: time.Now()}))
		return tx.DeactivateDebate(s.ctx, 8)
	})
	s.Require().ErrorIs(err, storage.ErrNotFound)

	var debates int
	s.Require().NoError(s.store.pool.QueryRow(s.ctx, `SELECT count(*) FROM debates`).Scan(&debates))
	s.Zero(debates)
	records, err := s.store.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *StoreSuite) TestUpsertsAreIdempotent() {
	created := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 2; i++ {
		err := s.store.WithTx(s.ctx, func(tx storage.Tx) error {
			return tx.UpsertDebate(s.ctx, model.Debate{DebateID: 7, Title: "Cats vs Dogs", Duration: 30, CreatedAt: created, IsActive: true})
		})
		s.Require().NoError(err)
	}

	var (
		count int
		title string
	)
	s.Require().NoError(s.store.pool.QueryRow(s.ctx, `SELECT count(*), max(title) FROM debates`).Scan(&count, &title))
	s.Equal(1, count)
	s.Equal("Cats vs Dogs", title)
}

func (s *StoreSuite) TestUserLifecycle() {
	wallet := "0xAbCd000000000000000000000000000000000001"
	debateID := int64(7)
	team := int16(1)
	joined := time.Unix(1700000000, 0).UTC()

	var userID int64
	err := s.store.WithTx(s.ctx, func(tx storage.Tx) error {
		user, err := tx.UpsertUser(s.ctx, model.User{WalletAddress: wallet, DebateID: &debateID, Team: &team, JoinedAt: &joined})
		if err != nil {
			return err
		}
		userID = user.ID
		s.Equal("user_0xAbCd00", user.Username)

		other := int16(2)
		again, err := tx.UpsertUser(s.ctx, model.User{WalletAddress: wallet, Username: "ignored", DebateID: &debateID, Team: &other, JoinedAt: &joined})
		if err != nil {
			return err
		}
		s.Equal(userID, again.ID)
		s.Equal("user_0xAbCd00", again.Username)
		s.Equal(int16(2), *again.Team)

		_, found, err := tx.FindUserByWallet(s.ctx, "0xabcd000000000000000000000000000000000001")
		s.Require().NoError(err)
		s.False(found)

		s.Require().NoError(tx.InsertFlip(s.ctx, model.Flip{DebateID: 7, UserID: userID, PersuaderID: userID, FromTeam: 2, ToTeam: 1, FlippedAt: joined}))
		return tx.UpdateUserTeam(s.ctx, userID, 1)
	})
	s.Require().NoError(err)

	err = s.store.WithTx(s.ctx, func(tx storage.Tx) error {
		user, found, err := tx.FindUserByWallet(s.ctx, wallet)
		s.Require().NoError(err)
		s.Require().True(found)
		s.Equal(int16(1), *user.Team)
		s.Equal(debateID, *user.DebateID)
		return tx.UpdateUserTeam(s.ctx, userID+100, 2)
	})
	s.Require().ErrorIs(err, storage.ErrNotFound)
}

func (s *StoreSuite) TestRecordFailureDeadLettersAndRequeue() {
	id := s.insertRaw(1, 0)

	dead, err := s.store.RecordFailure(s.ctx, id, "first", 2)
	s.Require().NoError(err)
	s.False(dead)
	dead, err = s.store.RecordFailure(s.ctx, id, "second", 2)
	s.Require().NoError(err)
	s.True(dead)

	records, err := s.store.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(records)

	s.Require().NoError(s.store.Requeue(s.ctx, id))
	records, err = s.store.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Zero(records[0].Attempts)

	_, err = s.store.RecordFailure(s.ctx, id+100, "missing", 2)
	s.Require().ErrorIs(err, storage.ErrNotFound)
}

func (s *StoreSuite) TestConcurrentClaimProcessesOnce() {
	id := s.insertRaw(1, 0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.WithTx(s.ctx, func(tx storage.Tx) error {
				ok, err := tx.ClaimRecord(s.ctx, id)
				if err != nil || !ok {
					return err
				}
				// hold the lock so the others queue behind it
				time.Sleep(50 * time.Millisecond)
				mu.Lock()
				claimed++
				mu.Unlock()
				return tx.MarkProcessed(s.ctx, id)
			})
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(1, claimed)
}

// ingesterStore creates a raw table the way an external ingester might, with
// nullable columns and without tx_hash or address, migrates it and returns a
// store reading from it.
func (s *StoreSuite) ingesterStore(name string) *Store {
	table := pgx.Identifier{name}.Sanitize()
	_, err := s.store.pool.Exec(s.ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			id BIGSERIAL PRIMARY KEY,
			block_number BIGINT,
			log_index BIGINT,
			topics TEXT,
			data TEXT,
			block_timestamp TEXT,
			processed BOOLEAN
		)
	`, table))
	s.Require().NoError(err)
	s.T().Cleanup(func() {
		_, _ = s.store.pool.Exec(s.ctx, "DROP TABLE IF EXISTS "+table)
	})

	store, err := NewStore(s.ctx, s.dsn, Options{RawTable: name, StatementTimeout: 5 * time.Second})
	s.Require().NoError(err)
	s.T().Cleanup(store.Close)
	s.Require().NoError(store.Migrate(s.ctx))
	return store
}

func (s *StoreSuite) TestMigrateAddsOptionalColumns() {
	store := s.ingesterStore("ingest_plain")

	_, err := store.pool.Exec(s.ctx, `
		INSERT INTO ingest_plain (block_number, log_index, topics, data, block_timestamp)
		VALUES (3, 1, '0xaaa', '0x', '1700000000')
	`)
	s.Require().NoError(err)

	records, err := store.FetchPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Empty(records[0].TxHash)
	s.Empty(records[0].Address)
	s.Equal(uint64(3), records[0].BlockNumber)
}

func (s *StoreSuite) TestNullColumnsDoNotBlockCycle() {
	store := s.ingesterStore("ingest_nulls")

	debateABI, err := contract.DebateABI()
	s.Require().NoError(err)
	created := debateABI.Events["DebateCreated"]
	rawCreated := func(debateID int64, title string) (string, string) {
		data, err := created.Inputs.NonIndexed().Pack(title, big.NewInt(0), big.NewInt(30))
		s.Require().NoError(err)
		topics := model.JoinTopics([]string{created.ID.Hex(), common.BigToHash(big.NewInt(debateID)).Hex()})
		return topics, hexutil.Encode(data)
	}

	var emptied, valid int64
	topics, data := rawCreated(7, "no timestamp")
	s.Require().NoError(store.pool.QueryRow(s.ctx, `
		INSERT INTO ingest_nulls (block_number, log_index, topics, data, block_timestamp)
		VALUES (1, 0, $1, $2, NULL) RETURNING id
	`, topics, data).Scan(&emptied))
	topics, data = rawCreated(8, "Cats vs Dogs")
	s.Require().NoError(store.pool.QueryRow(s.ctx, `
		INSERT INTO ingest_nulls (block_number, log_index, tx_hash, topics, data, block_timestamp)
		VALUES (2, 0, '0xabc', $1, $2, '1700000000') RETURNING id
	`, topics, data).Scan(&valid))

	p := processor.NewProcessor(processor.Config{BatchSize: 10}, store,
		contract.NewDecoder(debateABI), handler.NewDefaultRegistry(nil), nil, nil)
	stats, err := p.RunCycle(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.DecodeFailed)
	s.Equal(1, stats.Committed)

	var processed int
	s.Require().NoError(store.pool.QueryRow(s.ctx, `
		SELECT count(*) FROM ingest_nulls WHERE processed AND id IN ($1, $2)
	`, emptied, valid).Scan(&processed))
	s.Equal(2, processed)

	var debates []int64
	rows, err := store.pool.Query(s.ctx, `SELECT debate_id FROM debates ORDER BY debate_id`)
	s.Require().NoError(err)
	debates, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	s.Require().NoError(err)
	s.Equal([]int64{8}, debates)
}

func (s *StoreSuite) TestFetchPendingLargeLimit() {
	id := s.insertRaw(1, 0)

	records, err := s.store.FetchPending(s.ctx, math.MaxInt32)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(id, records[0].ID)
}
