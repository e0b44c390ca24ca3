package model

import "time"

// Debate is keyed by the on-chain debate id.
type Debate struct {
	DebateID  int64
	Title     string
	Duration  int64
	CreatedAt time.Time
	IsActive  bool
}

// DebateStart records when a debate actually started.
type DebateStart struct {
	DebateID        int64
	ActualStartTime time.Time
}

// User is keyed by wallet address. ID is the internal surrogate key.
type User struct {
	ID            int64
	WalletAddress string
	Username      string
	DebateID      *int64
	Team          *int16
	JoinedAt      *time.Time
}

// FinishedDebate holds the final score of a debate.
type FinishedDebate struct {
	DebateID   int64
	Team1Score int64
	Team2Score int64
	EndedAt    time.Time
}

// Flip is one team switch. Rows are never updated.
type Flip struct {
	ID          int64
	DebateID    int64
	UserID      int64
	PersuaderID int64
	FromTeam    int16
	ToTeam      int16
	FlippedAt   time.Time
}

// DefaultUsername derives a username for a wallet first seen on chain.
func DefaultUsername(wallet string) string {
	if len(wallet) > 8 {
		wallet = wallet[:8]
	}
	return "user_" + wallet
}
