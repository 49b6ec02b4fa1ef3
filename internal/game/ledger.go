package game

import (
	"context"
	"fmt"
)

// Ledger is the only writer of additive counters. Every change is a delta the
// store applies atomically; callers never send absolute values.
type Ledger struct {
	store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) ApplyDelta(ctx context.Context, key AccountKey, amount int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	v, err := l.store.AddToCounter(ctx, key, amount)
	if err != nil {
		return 0, fmt.Errorf("apply delta %s %+d: %w", key, amount, err)
	}
	return v, nil
}

func (l *Ledger) Transfer(ctx context.Context, from, to AccountKey, amount int64) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if err := validateKey(from); err != nil {
		return TransferResult{}, err
	}
	if err := validateKey(to); err != nil {
		return TransferResult{}, err
	}
	out, err := l.store.Transfer(ctx, from, to, amount)
	if err != nil {
		return TransferResult{}, fmt.Errorf("transfer %d %s -> %s: %w", amount, from, to, err)
	}
	return out, nil
}

func (l *Ledger) Balance(ctx context.Context, key AccountKey) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	return l.store.CounterValue(ctx, key)
}

func validateKey(key AccountKey) error {
	switch key.Kind {
	case AccountAP, AccountVotesLight, AccountVotesSpite, AccountKills:
		if key.UserID == 0 {
			return fmt.Errorf("%w: account %s needs a user id", ErrValidation, key.Kind)
		}
	case AccountConfig:
		if key.Name == "" {
			return fmt.Errorf("%w: config account needs a name", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown account kind %q", ErrValidation, key.Kind)
	}
	return nil
}
