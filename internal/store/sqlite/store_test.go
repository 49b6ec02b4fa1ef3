package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"azeuqer/internal/game"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "azq.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func newUser(id int64) game.NewUser {
	return game.NewUser{
		UserID:       id,
		Username:     "u",
		Traits:       (*game.TraitsInput)(nil).Resolve(),
		Stats:        game.DefaultStats(),
		PioneerLimit: 1,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	s, path := openTestStore(t)
	if _, _, err := s.CreateUser(t.Context(), newUser(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	u, err := again.GetUser(t.Context(), 1)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if !u.IsPioneer || u.CombatState != game.CombatIdle || u.Str != game.DefaultBaseStat {
		t.Fatalf("unexpected user: %+v", u)
	}
	if !u.CreatedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at = %v", u.CreatedAt)
	}
}

func TestCreateUserReportsExisting(t *testing.T) {
	s, _ := openTestStore(t)
	if _, created, err := s.CreateUser(t.Context(), newUser(1)); err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}
	in := newUser(1)
	in.Username = "renamed"
	u, created, err := s.CreateUser(t.Context(), in)
	if err != nil || created {
		t.Fatalf("second create = %v, %v", created, err)
	}
	if u.Username != "u" {
		t.Fatalf("existing row must not be overwritten, got %q", u.Username)
	}
	n, err := s.CounterValue(t.Context(), game.ConfigAccount(game.RegistrationsKey))
	if err != nil || n != 1 {
		t.Fatalf("registrations = %d, %v", n, err)
	}
}

func TestConditionalUpdatesReportMissingUser(t *testing.T) {
	s, _ := openTestStore(t)
	if _, err := s.SwapCombatState(t.Context(), 9, game.CombatIdle, game.CombatLocked); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("swap on missing user = %v", err)
	}
	if _, err := s.PromoteVerification(t.Context(), 9); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("promote on missing user = %v", err)
	}
	if err := s.TouchActivity(t.Context(), 9, time.Now()); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("touch on missing user = %v", err)
	}

	if _, _, err := s.CreateUser(t.Context(), newUser(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := s.SwapCombatState(t.Context(), 1, game.CombatLocked, game.CombatIdle)
	if err != nil || ok {
		t.Fatalf("unlock of idle user = %v, %v", ok, err)
	}
	ok, err = s.SwapCombatState(t.Context(), 1, game.CombatIdle, game.CombatLocked)
	if err != nil || !ok {
		t.Fatalf("lock = %v, %v", ok, err)
	}
	ok, err = s.PromoteVerification(t.Context(), 1)
	if err != nil || ok {
		t.Fatalf("pioneer is already verified, promote = %v, %v", ok, err)
	}
}

func TestCounterValueDefaults(t *testing.T) {
	s, _ := openTestStore(t)
	v, err := s.CounterValue(t.Context(), game.ConfigAccount("missing"))
	if err != nil || v != 0 {
		t.Fatalf("missing config = %d, %v", v, err)
	}
	if _, err := s.CounterValue(t.Context(), game.APAccount(5)); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("missing user counter = %v", err)
	}
}

func TestTransferRollsBackOnMissingTarget(t *testing.T) {
	s, _ := openTestStore(t)
	if _, _, err := s.CreateUser(t.Context(), newUser(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddToCounter(t.Context(), game.APAccount(1), 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Transfer(t.Context(), game.APAccount(1), game.APAccount(2), 4); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("transfer to missing user = %v", err)
	}
	v, _ := s.CounterValue(t.Context(), game.APAccount(1))
	if v != 10 {
		t.Fatalf("debit must roll back, ap = %d", v)
	}
}
