// Package postgres implements game.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"azeuqer/internal/game"
	"azeuqer/internal/store/postgres/migrations"
	"azeuqer/internal/store/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID serializes concurrent migrators across API replicas.
const migrationLockID = 727_001

type Store struct {
	db *pgxpool.Pool
}

var _ game.Store = (*Store)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate applies embedded migrations that are not yet recorded.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := schema.Load(migrations.FS)
	if err != nil {
		return err
	}
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS public.azeuqer_schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	for _, m := range files {
		var applied bool
		if err := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM public.azeuqer_schema_migrations WHERE name = $1)`, m.Name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if applied {
			continue
		}
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("exec migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO public.azeuqer_schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

const (
	maxTxAttempts  = 8
	firstTxBackoff = 75 * time.Millisecond
	maxTxBackoff   = 1200 * time.Millisecond
)

// withTx runs fn in a READ COMMITTED transaction and retries it from the
// start on serialization failures and deadlocks.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	retryDelay := firstTxBackoff
	var last error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		last = err
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxTxBackoff {
			retryDelay *= 2
		}
	}
	return fmt.Errorf("%w: %v", game.ErrTxConflict, last)
}

func (s *Store) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isRetryable reports serialization_failure and deadlock_detected.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// lockUsers takes row locks in ascending user_id order, so any two
// transactions touching the same pair of users queue instead of deadlocking.
// It returns the combat state of every id that exists.
func lockUsers(ctx context.Context, tx pgx.Tx, ids ...int64) (map[int64]game.CombatState, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	rows, err := tx.Query(ctx,
		`SELECT user_id, combat_state FROM game.users WHERE user_id = ANY($1) ORDER BY user_id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock users: %w", err)
	}
	defer rows.Close()
	states := make(map[int64]game.CombatState, len(ids))
	for rows.Next() {
		var (
			id    int64
			state string
		)
		if err := rows.Scan(&id, &state); err != nil {
			return nil, err
		}
		states[id] = game.CombatState(state)
	}
	return states, rows.Err()
}

const userColumns = `user_id, username, aura, chaos, empathy, drive, verification_status,
	is_pioneer, referred_by, bio_lock_url, referral_paid, ap, votes_light_month, votes_spite_month,
	combat_state, faction, kills_lifetime, base_str, base_agi, base_int, base_vit, sponsor_id,
	created_at, last_active_at`

func scanUser(row pgx.Row) (game.User, error) {
	var (
		u       game.User
		status  string
		combat  string
		faction string
	)
	err := row.Scan(
		&u.UserID, &u.Username,
		&u.Traits.Aura, &u.Traits.Chaos, &u.Traits.Empathy, &u.Traits.Drive,
		&status, &u.IsPioneer, &u.ReferredBy, &u.BioLockURL, &u.ReferralPaid,
		&u.AP, &u.VotesLightMonth, &u.VotesSpiteMonth, &combat, &faction, &u.KillsLifetime,
		&u.Str, &u.Agi, &u.Int, &u.Vit, &u.SponsorID, &u.CreatedAt, &u.LastActiveAt,
	)
	if err != nil {
		return game.User{}, err
	}
	u.VerificationStatus = game.VerificationStatus(status)
	u.CombatState = game.CombatState(combat)
	u.Faction = game.Faction(faction)
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastActiveAt = u.LastActiveAt.UTC()
	return u, nil
}

func getUser(ctx context.Context, q querier, userID int64) (game.User, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM game.users WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.User{}, game.ErrNotFound
	}
	if err != nil {
		return game.User{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	return u, nil
}

func userExists(ctx context.Context, q querier, userID int64) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM game.users WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

func counterColumn(kind game.AccountKind) (string, error) {
	switch kind {
	case game.AccountAP:
		return "ap", nil
	case game.AccountVotesLight:
		return "votes_light_month", nil
	case game.AccountVotesSpite:
		return "votes_spite_month", nil
	case game.AccountKills:
		return "kills_lifetime", nil
	default:
		return "", fmt.Errorf("%w: %q is not a user counter", game.ErrValidation, kind)
	}
}

func addToCounter(ctx context.Context, q querier, key game.AccountKey, delta int64) (int64, error) {
	var v int64
	if key.Kind == game.AccountConfig {
		err := q.QueryRow(ctx, `
			INSERT INTO game.config (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = game.config.value + EXCLUDED.value
			RETURNING value
		`, key.Name, delta).Scan(&v)
		return v, err
	}
	col, err := counterColumn(key.Kind)
	if err != nil {
		return 0, err
	}
	err = q.QueryRow(ctx,
		`UPDATE game.users SET `+col+` = `+col+` + $1 WHERE user_id = $2 AND `+col+` + $1 >= 0 RETURNING `+col,
		delta, key.UserID,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		ok, exErr := userExists(ctx, q, key.UserID)
		if exErr != nil {
			return 0, exErr
		}
		if !ok {
			return 0, game.ErrNotFound
		}
		return 0, game.ErrInsufficientBalance
	}
	return v, err
}

func (s *Store) AddToCounter(ctx context.Context, key game.AccountKey, delta int64) (int64, error) {
	return addToCounter(ctx, s.db, key, delta)
}

func (s *Store) CounterValue(ctx context.Context, key game.AccountKey) (int64, error) {
	var v int64
	if key.Kind == game.AccountConfig {
		err := s.db.QueryRow(ctx, `SELECT value FROM game.config WHERE key = $1`, key.Name).Scan(&v)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return v, err
	}
	col, err := counterColumn(key.Kind)
	if err != nil {
		return 0, err
	}
	err = s.db.QueryRow(ctx, `SELECT `+col+` FROM game.users WHERE user_id = $1`, key.UserID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, game.ErrNotFound
	}
	return v, err
}

func (s *Store) Transfer(ctx context.Context, from, to game.AccountKey, amount int64) (game.TransferResult, error) {
	var out game.TransferResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if out.FromBalance, err = addToCounter(ctx, tx, from, -amount); err != nil {
			return err
		}
		out.ToBalance, err = addToCounter(ctx, tx, to, amount)
		return err
	})
	if err != nil {
		return game.TransferResult{}, err
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, in game.NewUser) (game.User, bool, error) {
	var (
		u       game.User
		created bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO game.users (user_id, username, aura, chaos, empathy, drive,
				base_str, base_agi, base_int, base_vit, created_at, last_active_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (user_id) DO NOTHING
		`, in.UserID, in.Username, in.Traits.Aura, in.Traits.Chaos, in.Traits.Empathy, in.Traits.Drive,
			in.Stats.Str, in.Stats.Agi, in.Stats.Int, in.Stats.Vit, in.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		created = tag.RowsAffected() == 1
		if created {
			// the config row lock orders concurrent registrations
			ordinal, err := addToCounter(ctx, tx, game.ConfigAccount(game.RegistrationsKey), 1)
			if err != nil {
				return fmt.Errorf("take registration ordinal: %w", err)
			}
			if ordinal <= int64(in.PioneerLimit) {
				if _, err := tx.Exec(ctx,
					`UPDATE game.users SET is_pioneer = TRUE, verification_status = $2 WHERE user_id = $1`,
					in.UserID, string(game.StatusVerified),
				); err != nil {
					return fmt.Errorf("mark pioneer: %w", err)
				}
			}
			if ref := in.ReferredBy; ref != 0 {
				if _, err := tx.Exec(ctx, `
					UPDATE game.users SET referred_by = $2
					WHERE user_id = $1 AND EXISTS (SELECT 1 FROM game.users WHERE user_id = $2)
				`, in.UserID, ref); err != nil {
					return fmt.Errorf("resolve referral: %w", err)
				}
			}
		}
		u, err = getUser(ctx, tx, in.UserID)
		return err
	})
	if err != nil {
		return game.User{}, false, err
	}
	return u, created, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (game.User, error) {
	return getUser(ctx, s.db, userID)
}

func (s *Store) AcceptLiveness(ctx context.Context, userID int64, photoRef string, bonus int64) (game.LivenessOutcome, error) {
	var out game.LivenessOutcome
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		out = game.LivenessOutcome{}
		// referred_by is written once at creation, so it can be read before locking
		var referrer *int64
		err := tx.QueryRow(ctx, `SELECT referred_by FROM game.users WHERE user_id = $1`, userID).Scan(&referrer)
		if errors.Is(err, pgx.ErrNoRows) {
			return game.ErrNotFound
		}
		if err != nil {
			return err
		}
		ids := []int64{userID}
		if referrer != nil {
			ids = append(ids, *referrer)
		}
		if _, err := lockUsers(ctx, tx, ids...); err != nil {
			return err
		}

		prev, err := getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE game.users SET bio_lock_url = $2 WHERE user_id = $1`, userID, photoRef); err != nil {
			return fmt.Errorf("store photo ref: %w", err)
		}

		out.FirstPhoto = prev.BioLockURL == ""
		if out.FirstPhoto && prev.ReferredBy != nil && !prev.ReferralPaid {
			if _, err := tx.Exec(ctx,
				`UPDATE game.users SET referral_paid = TRUE, ap = ap + $2 WHERE user_id = $1`, userID, bonus,
			); err != nil {
				return fmt.Errorf("credit referee: %w", err)
			}
			tag, err := tx.Exec(ctx, `UPDATE game.users SET ap = ap + $2 WHERE user_id = $1`, *prev.ReferredBy, bonus)
			if err != nil {
				return fmt.Errorf("credit referrer: %w", err)
			}
			out.ReferralPaid = true
			out.ReferrerID = *prev.ReferredBy
			out.ReferrerFound = tag.RowsAffected() == 1
		}

		out.User, err = getUser(ctx, tx, userID)
		return err
	})
	if err != nil {
		return game.LivenessOutcome{}, err
	}
	return out, nil
}

func conditional(ctx context.Context, q querier, userID int64, query string, args ...any) (bool, error) {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	ok, err := userExists(ctx, q, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, game.ErrNotFound
	}
	return false, nil
}

func (s *Store) PromoteVerification(ctx context.Context, userID int64) (bool, error) {
	return conditional(ctx, s.db, userID,
		`UPDATE game.users SET verification_status = 'VERIFIED' WHERE user_id = $1 AND verification_status = 'PENDING'`,
		userID)
}

func (s *Store) SwapCombatState(ctx context.Context, userID int64, from, to game.CombatState) (bool, error) {
	return conditional(ctx, s.db, userID,
		`UPDATE game.users SET combat_state = $3 WHERE user_id = $1 AND combat_state = $2`,
		userID, string(from), string(to))
}

func (s *Store) ClearAmbush(ctx context.Context, userID int64) (bool, error) {
	return conditional(ctx, s.db, userID,
		`UPDATE game.users SET combat_state = 'NONE', kills_lifetime = kills_lifetime + 1
		 WHERE user_id = $1 AND combat_state = 'LOCKED'`,
		userID)
}

func (s *Store) TouchActivity(ctx context.Context, userID int64, at time.Time) error {
	ok, err := conditional(ctx, s.db, userID,
		`UPDATE game.users SET last_active_at = $2 WHERE user_id = $1`, userID, at.UTC())
	if err == nil && !ok {
		return game.ErrNotFound
	}
	return err
}

func (s *Store) SetSponsor(ctx context.Context, userID int64, sponsor string) error {
	ok, err := conditional(ctx, s.db, userID,
		`UPDATE game.users SET sponsor_id = $2 WHERE user_id = $1`, userID, sponsor)
	if err == nil && !ok {
		return game.ErrNotFound
	}
	return err
}

func (s *Store) CandidatePool(ctx context.Context, requesterID int64, limit int) ([]game.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM game.users u
		WHERE u.verification_status = 'VERIFIED'
		  AND u.user_id <> $1
		  AND NOT EXISTS (SELECT 1 FROM game.swipes s WHERE s.actor_id = $1 AND s.target_id = u.user_id)
		ORDER BY random()
		LIMIT $2
	`, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) RecordSwipe(ctx context.Context, sw game.Swipe, ambushEvery int) (game.SwipeOutcome, error) {
	if sw.ActorID == sw.TargetID {
		return game.SwipeOutcome{}, game.ErrSelfSwipe
	}
	tally, err := counterColumn(game.TallyAccount(sw.TargetID, sw.Direction).Kind)
	if err != nil {
		return game.SwipeOutcome{}, err
	}

	var out game.SwipeOutcome
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		out = game.SwipeOutcome{}
		// the actor lock also serializes one actor's swipes so counts are exact
		states, err := lockUsers(ctx, tx, sw.ActorID, sw.TargetID)
		if err != nil {
			return err
		}
		actorState, ok := states[sw.ActorID]
		if !ok {
			return game.ErrNotFound
		}
		if actorState == game.CombatLocked {
			return game.ErrCombatLocked
		}
		if _, ok := states[sw.TargetID]; !ok {
			return game.ErrNotFound
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO game.swipes (actor_id, target_id, direction, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (actor_id, target_id) DO NOTHING
		`, sw.ActorID, sw.TargetID, string(sw.Direction), sw.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert swipe: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return game.ErrAlreadySwiped
		}

		if err := tx.QueryRow(ctx,
			`UPDATE game.users SET ap = ap + 1 WHERE user_id = $1 RETURNING ap`, sw.ActorID,
		).Scan(&out.ActorAP); err != nil {
			return fmt.Errorf("credit actor: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE game.users SET `+tally+` = `+tally+` + 1 WHERE user_id = $1`, sw.TargetID); err != nil {
			return fmt.Errorf("tally target: %w", err)
		}

		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM game.swipes WHERE actor_id = $1`, sw.ActorID,
		).Scan(&out.SwipeCount); err != nil {
			return err
		}
		if ambushEvery > 0 && out.SwipeCount%int64(ambushEvery) == 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE game.users SET combat_state = 'LOCKED' WHERE user_id = $1 AND combat_state = 'NONE'`,
				sw.ActorID,
			); err != nil {
				return fmt.Errorf("ambush lock: %w", err)
			}
			out.Locked = true
		}
		return nil
	})
	if err != nil {
		return game.SwipeOutcome{}, err
	}
	return out, nil
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT username, ap, bio_lock_url, sponsor_id
		FROM game.users
		ORDER BY ap DESC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.LeaderboardRow, 0, limit)
	for rows.Next() {
		var r game.LeaderboardRow
		if err := rows.Scan(&r.Username, &r.AP, &r.BioLockURL, &r.SponsorID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) HallOfFame(ctx context.Context, limit int) ([]game.HallRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT username, kills_lifetime, faction, base_str, base_agi, base_int, base_vit
		FROM game.users
		ORDER BY kills_lifetime DESC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.HallRow, 0, limit)
	for rows.Next() {
		var (
			r       game.HallRow
			faction string
		)
		if err := rows.Scan(&r.Username, &r.KillsLifetime, &faction, &r.Str, &r.Agi, &r.Int, &r.Vit); err != nil {
			return nil, err
		}
		r.Faction = game.Faction(faction)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FirstPending(ctx context.Context) (game.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM game.users
		WHERE verification_status = 'PENDING'
		ORDER BY created_at ASC, user_id ASC
		LIMIT 1
	`))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.User{}, game.ErrNotFound
	}
	return u, err
}

func (s *Store) CastVote(ctx context.Context, v game.TribunalVote, decide func(game.Tally) bool) (game.VoteOutcome, error) {
	var out game.VoteOutcome
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		out = game.VoteOutcome{}
		// the target row lock makes recount and flip one step per target
		var status string
		err := tx.QueryRow(ctx,
			`SELECT verification_status FROM game.users WHERE user_id = $1 FOR UPDATE`, v.TargetID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return game.ErrNotFound
		}
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO game.tribunal_votes (judge_id, target_id, vote, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (judge_id, target_id) DO NOTHING
		`, v.JudgeID, v.TargetID, string(v.Vote), v.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return game.ErrAlreadyVoted
		}

		if err := tx.QueryRow(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE vote = 'APPROVE'),
				COUNT(*) FILTER (WHERE vote = 'REJECT')
			FROM game.tribunal_votes WHERE target_id = $1
		`, v.TargetID).Scan(&out.Tally.Approve, &out.Tally.Reject); err != nil {
			return fmt.Errorf("count votes: %w", err)
		}

		if game.VerificationStatus(status) == game.StatusPending && decide != nil && decide(out.Tally) {
			tag, err := tx.Exec(ctx,
				`UPDATE game.users SET verification_status = 'VERIFIED' WHERE user_id = $1 AND verification_status = 'PENDING'`,
				v.TargetID)
			if err != nil {
				return fmt.Errorf("flip verification: %w", err)
			}
			out.Verified = tag.RowsAffected() == 1
		}
		return nil
	})
	if err != nil {
		return game.VoteOutcome{}, err
	}
	return out, nil
}

func (s *Store) ResetMonthlyTallies(ctx context.Context, monthKey int64) (game.MonthRoll, error) {
	var roll game.MonthRoll
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		roll = game.MonthRoll{}
		tag, err := tx.Exec(ctx,
			`INSERT INTO game.config (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			game.TallyMonthKey, monthKey)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			roll.Initialized = true
			return nil
		}
		if err := tx.QueryRow(ctx,
			`SELECT value FROM game.config WHERE key = $1 FOR UPDATE`, game.TallyMonthKey,
		).Scan(&roll.Previous); err != nil {
			return err
		}
		if roll.Previous >= monthKey {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE game.config SET value = $2 WHERE key = $1`, game.TallyMonthKey, monthKey,
		); err != nil {
			return err
		}
		if roll.Previous == 0 {
			roll.Initialized = true
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game.users SET
				faction = CASE
					WHEN votes_light_month = 0 AND votes_spite_month = 0 THEN 'UNSORTED'
					WHEN votes_light_month > votes_spite_month THEN 'EUPHORIA'
					WHEN votes_spite_month > votes_light_month THEN 'DISSONANCE'
					WHEN (user_id + $1) % 2 = 0 THEN 'EUPHORIA'
					ELSE 'DISSONANCE'
				END,
				votes_light_month = 0,
				votes_spite_month = 0
		`, monthKey); err != nil {
			return fmt.Errorf("close month: %w", err)
		}
		roll.Reset = true
		return nil
	})
	if err != nil {
		return game.MonthRoll{}, err
	}
	return roll, nil
}
