package postgres_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"azeuqer/internal/game"
	"azeuqer/internal/store/postgres"
)

// openStore connects to AZQ_TEST_DATABASE_URL and empties the game schema.
// Tests in this package share that database and must not run in parallel.
func openStore(t *testing.T) (*postgres.Store, *game.Service) {
	t.Helper()
	url := os.Getenv("AZQ_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AZQ_TEST_DATABASE_URL not set")
	}
	pool, err := postgres.Connect(t.Context(), url, 16)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	st := postgres.New(pool)
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(t.Context()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(t.Context(), `TRUNCATE game.users, game.swipes, game.tribunal_votes, game.config`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return st, game.NewService(st, game.Config{Registry: game.DefaultRegistryConfig()}, logger)
}

func login(t *testing.T, svc *game.Service, id int64, code string) {
	t.Helper()
	if _, _, err := svc.Login(t.Context(), game.Identity{UserID: id, Username: "pg", ReferralCode: code}, nil); err != nil {
		t.Fatalf("login %d: %v", id, err)
	}
}

func balance(t *testing.T, svc *game.Service, key game.AccountKey) int64 {
	t.Helper()
	v, err := svc.Ledger.Balance(t.Context(), key)
	if err != nil {
		t.Fatalf("balance %s: %v", key, err)
	}
	return v
}

// run starts n goroutines and collects their errors.
func run(n int, fn func(i int) error) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return errs
}

func TestConcurrentDeltas(t *testing.T) {
	_, svc := openStore(t)
	login(t, svc, 1, "")

	const n = 64
	errs := run(n, func(int) error {
		_, err := svc.Ledger.ApplyDelta(t.Context(), game.APAccount(1), 1)
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("deltas failed: %v", errs)
	}
	if got := balance(t, svc, game.APAccount(1)); got != n {
		t.Fatalf("ap = %d, want %d", got, n)
	}

	errs = run(n, func(int) error {
		_, err := svc.Donate(t.Context(), 1, 1)
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("donations failed: %v", errs)
	}
	if got := balance(t, svc, game.ConfigAccount(game.FoundationPoolKey)); got != n {
		t.Fatalf("pool = %d, want %d", got, n)
	}
	if _, err := svc.Donate(t.Context(), 1, 1); !errors.Is(err, game.ErrInsufficientBalance) {
		t.Fatalf("overdraft = %v", err)
	}
}

func TestConcurrentFirstLogin(t *testing.T) {
	_, svc := openStore(t)

	var (
		mu      sync.Mutex
		created int
	)
	errs := run(16, func(int) error {
		_, ok, err := svc.Login(t.Context(), game.Identity{UserID: 42, Username: "racer"}, nil)
		if ok {
			mu.Lock()
			created++
			mu.Unlock()
		}
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("logins failed: %v", errs)
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly one", created)
	}
	if got := balance(t, svc, game.ConfigAccount(game.RegistrationsKey)); got != 1 {
		t.Fatalf("registrations = %d, want 1", got)
	}
}

func TestPayoutOnceUnderRace(t *testing.T) {
	_, svc := openStore(t)
	login(t, svc, 1, "")
	login(t, svc, 2, "1")

	errs := run(8, func(i int) error {
		_, err := svc.Registry.RecordLivenessAccepted(t.Context(), 2, "https://cdn.example/2.png")
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("liveness failed: %v", errs)
	}
	bonus := game.DefaultReferralBonus
	if got := balance(t, svc, game.APAccount(1)); got != bonus {
		t.Fatalf("referrer ap = %d, want %d", got, bonus)
	}
	if got := balance(t, svc, game.APAccount(2)); got != bonus {
		t.Fatalf("referee ap = %d, want %d", got, bonus)
	}
}

func TestPayoutWhileReferrerSwipesReferee(t *testing.T) {
	_, svc := openStore(t)
	const pairs = 12
	for k := int64(0); k < pairs; k++ {
		login(t, svc, 500+k, "")
		login(t, svc, 700+k, strconv.FormatInt(500+k, 10))
	}

	// the referee's payout locks referee then referrer while the referrer's
	// swipe of the referee touches the same two rows
	errs := run(2*pairs, func(i int) error {
		k := int64(i / 2)
		if i%2 == 0 {
			_, err := svc.Registry.RecordLivenessAccepted(t.Context(), 700+k, "https://cdn.example/x.png")
			return err
		}
		_, err := svc.Swipe(t.Context(), 500+k, 700+k, game.DirectionLight)
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("crossed payout and swipe failed: %v", errs)
	}
	for k := int64(0); k < pairs; k++ {
		if got := balance(t, svc, game.APAccount(500+k)); got != game.DefaultReferralBonus+1 {
			t.Fatalf("referrer %d ap = %d, want %d", 500+k, got, game.DefaultReferralBonus+1)
		}
		if got := balance(t, svc, game.TallyAccount(700+k, game.DirectionLight)); got != 1 {
			t.Fatalf("referee %d light tally = %d, want 1", 700+k, got)
		}
	}
}

func TestCrossedSwipesDoNotDeadlock(t *testing.T) {
	_, svc := openStore(t)
	const pairs = 16
	for i := int64(0); i < 2*pairs; i++ {
		login(t, svc, 1000+i, "")
	}

	errs := run(2*pairs, func(i int) error {
		x, y := int64(1000+(i/2)*2), int64(1001+(i/2)*2)
		if i%2 == 1 {
			x, y = y, x
		}
		_, err := svc.Swipe(t.Context(), x, y, game.DirectionSpite)
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("crossed swipes failed: %v", errs)
	}
	for i := int64(0); i < 2*pairs; i++ {
		if got := balance(t, svc, game.TallyAccount(1000+i, game.DirectionSpite)); got != 1 {
			t.Fatalf("user %d spite tally = %d, want 1", 1000+i, got)
		}
	}
}

func TestAmbushCycle(t *testing.T) {
	_, svc := openStore(t)
	login(t, svc, 1, "")
	for id := int64(100); id < 111; id++ {
		login(t, svc, id, "")
	}

	// concurrent swipes by one actor still lock exactly on the tenth
	errs := run(10, func(i int) error {
		_, err := svc.Swipe(t.Context(), 1, 100+int64(i), game.DirectionLight)
		return err
	})
	if len(errs) > 0 {
		t.Fatalf("swipes failed: %v", errs)
	}
	u, err := svc.Registry.Get(t.Context(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.CombatState != game.CombatLocked || u.AP != 10 {
		t.Fatalf("after ten swipes: state %s ap %d", u.CombatState, u.AP)
	}
	if _, err := svc.Swipe(t.Context(), 1, 110, game.DirectionLight); !errors.Is(err, game.ErrCombatLocked) {
		t.Fatalf("locked swipe = %v", err)
	}

	cleared, err := svc.Registry.ClearAmbush(t.Context(), 1)
	if err != nil || !cleared {
		t.Fatalf("clear = %v, %v", cleared, err)
	}
	if again, _ := svc.Registry.ClearAmbush(t.Context(), 1); again {
		t.Fatalf("a second clear must not credit another kill")
	}
	if got := balance(t, svc, game.KillsAccount(1)); got != 1 {
		t.Fatalf("kills = %d, want 1", got)
	}
	if res, err := svc.Swipe(t.Context(), 1, 110, game.DirectionLight); err != nil || res.SwipeCount != 11 {
		t.Fatalf("swipe after clear = %+v, %v", res, err)
	}
}

func TestMonthRollStartsWithoutReset(t *testing.T) {
	_, svc := openStore(t)
	login(t, svc, 1, "")
	login(t, svc, 2, "")
	if _, err := svc.Swipe(t.Context(), 1, 2, game.DirectionLight); err != nil {
		t.Fatalf("swipe: %v", err)
	}

	oct := time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)
	if roll, err := svc.RollMonth(t.Context(), oct); err != nil || !roll.Initialized || roll.Reset {
		t.Fatalf("first roll = %+v, %v", roll, err)
	}
	if got := balance(t, svc, game.TallyAccount(2, game.DirectionLight)); got != 1 {
		t.Fatalf("light tally = %d, want it kept", got)
	}
	if roll, err := svc.RollMonth(t.Context(), oct.AddDate(0, 1, 0)); err != nil || !roll.Reset {
		t.Fatalf("next roll = %+v, %v", roll, err)
	}
	u, _ := svc.Registry.Get(t.Context(), 2)
	if u.Faction != game.FactionEuphoria || u.VotesLightMonth != 0 {
		t.Fatalf("after close: faction %s light %d", u.Faction, u.VotesLightMonth)
	}
}
