package game

import (
	"context"
	"time"
)

// LedgerStore applies additive counter changes as single atomic operations.
type LedgerStore interface {
	AddToCounter(ctx context.Context, key AccountKey, delta int64) (int64, error)
	Transfer(ctx context.Context, from, to AccountKey, amount int64) (TransferResult, error)
	CounterValue(ctx context.Context, key AccountKey) (int64, error)
}

// RegistryStore owns user rows and their conditional transitions.
type RegistryStore interface {
	// CreateUser inserts the user unless it exists; created reports whether this call inserted it.
	CreateUser(ctx context.Context, in NewUser) (u User, created bool, err error)
	GetUser(ctx context.Context, userID int64) (User, error)
	// AcceptLiveness stores the photo and, on the first photo of a referred user,
	// pays bonus to both parties inside the same transaction.
	AcceptLiveness(ctx context.Context, userID int64, photoRef string, bonus int64) (LivenessOutcome, error)
	PromoteVerification(ctx context.Context, userID int64) (changed bool, err error)
	// SwapCombatState moves from -> to and reports whether the row was in from.
	SwapCombatState(ctx context.Context, userID int64, from, to CombatState) (bool, error)
	// ClearAmbush moves LOCKED -> NONE and credits one kill in the same
	// statement; false means the user was not locked and nothing changed.
	ClearAmbush(ctx context.Context, userID int64) (bool, error)
	TouchActivity(ctx context.Context, userID int64, at time.Time) error
	SetSponsor(ctx context.Context, userID int64, sponsor string) error
}

type FeedStore interface {
	// CandidatePool returns up to limit VERIFIED users that are not the requester
	// and have never been swiped by the requester.
	CandidatePool(ctx context.Context, requesterID int64, limit int) ([]User, error)
}

type SwipeStore interface {
	// RecordSwipe applies the whole swipe resolution in one transaction.
	RecordSwipe(ctx context.Context, s Swipe, ambushEvery int) (SwipeOutcome, error)
}

type RankingStore interface {
	// Leaderboard orders by AP desc, then user_id.
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)
	// HallOfFame orders by kills_lifetime desc, then user_id.
	HallOfFame(ctx context.Context, limit int) ([]HallRow, error)
}

type TribunalStore interface {
	FirstPending(ctx context.Context) (User, error)
	// CastVote appends the vote, recounts and, when decide returns true, flips
	// the target PENDING -> VERIFIED, all in one transaction.
	CastVote(ctx context.Context, v TribunalVote, decide func(Tally) bool) (VoteOutcome, error)
}

type MaintenanceStore interface {
	// ResetMonthlyTallies closes the previous month once per month key: it
	// sets every faction from the closing tallies, then zeroes them. The
	// first call on a store only records monthKey and resets nothing.
	ResetMonthlyTallies(ctx context.Context, monthKey int64) (MonthRoll, error)
	Ping(ctx context.Context) error
}

type Store interface {
	LedgerStore
	RegistryStore
	FeedStore
	SwipeStore
	RankingStore
	TribunalStore
	MaintenanceStore
}
