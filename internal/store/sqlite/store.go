// Package sqlite implements game.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"azeuqer/internal/game"
	"azeuqer/internal/store/schema"
	"azeuqer/internal/store/sqlite/migrations"

	_ "modernc.org/sqlite"
)

const migrationTable = "schema_migrations"

// Store keeps a single connection so write transactions serialize.
type Store struct {
	db *sql.DB
}

var _ game.Store = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database file at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	files, err := schema.Load(migrations.FS)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	for _, m := range files {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+migrationTable+` WHERE name = ?`, m.Name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if n > 0 {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, m.Name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `user_id, username, aura, chaos, empathy, drive, verification_status,
	is_pioneer, referred_by, bio_lock_url, referral_paid, ap, votes_light_month, votes_spite_month,
	combat_state, faction, kills_lifetime, base_str, base_agi, base_int, base_vit, sponsor_id,
	created_at, last_active_at`

func scanUser(row rowScanner) (game.User, error) {
	var (
		u        game.User
		status   string
		combat   string
		faction  string
		referred sql.NullInt64
		created  int64
		active   int64
	)
	err := row.Scan(
		&u.UserID, &u.Username,
		&u.Traits.Aura, &u.Traits.Chaos, &u.Traits.Empathy, &u.Traits.Drive,
		&status, &u.IsPioneer, &referred, &u.BioLockURL, &u.ReferralPaid,
		&u.AP, &u.VotesLightMonth, &u.VotesSpiteMonth, &combat, &faction, &u.KillsLifetime,
		&u.Str, &u.Agi, &u.Int, &u.Vit, &u.SponsorID, &created, &active,
	)
	if err != nil {
		return game.User{}, err
	}
	u.VerificationStatus = game.VerificationStatus(status)
	u.CombatState = game.CombatState(combat)
	u.Faction = game.Faction(faction)
	if referred.Valid {
		id := referred.Int64
		u.ReferredBy = &id
	}
	u.CreatedAt = fromMillis(created)
	u.LastActiveAt = fromMillis(active)
	return u, nil
}

func getUser(ctx context.Context, q querier, userID int64) (game.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return game.User{}, game.ErrNotFound
	}
	if err != nil {
		return game.User{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	return u, nil
}

func userExists(ctx context.Context, q querier, userID int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
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
	if key.Kind == game.AccountConfig {
		var v int64
		err := q.QueryRowContext(ctx, `
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = value + excluded.value
			RETURNING value
		`, key.Name, delta).Scan(&v)
		return v, err
	}
	col, err := counterColumn(key.Kind)
	if err != nil {
		return 0, err
	}
	var v int64
	err = q.QueryRowContext(ctx,
		`UPDATE users SET `+col+` = `+col+` + ? WHERE user_id = ? AND `+col+` + ? >= 0 RETURNING `+col,
		delta, key.UserID, delta,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
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

func counterValue(ctx context.Context, q querier, key game.AccountKey) (int64, error) {
	var v int64
	if key.Kind == game.AccountConfig {
		err := q.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key.Name).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return v, err
	}
	col, err := counterColumn(key.Kind)
	if err != nil {
		return 0, err
	}
	err = q.QueryRowContext(ctx, `SELECT `+col+` FROM users WHERE user_id = ?`, key.UserID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, game.ErrNotFound
	}
	return v, err
}

func (s *Store) AddToCounter(ctx context.Context, key game.AccountKey, delta int64) (int64, error) {
	return addToCounter(ctx, s.db, key, delta)
}

func (s *Store) CounterValue(ctx context.Context, key game.AccountKey) (int64, error) {
	return counterValue(ctx, s.db, key)
}

func (s *Store) Transfer(ctx context.Context, from, to game.AccountKey, amount int64) (game.TransferResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.TransferResult{}, err
	}
	defer tx.Rollback()

	fromBal, err := addToCounter(ctx, tx, from, -amount)
	if err != nil {
		return game.TransferResult{}, err
	}
	toBal, err := addToCounter(ctx, tx, to, amount)
	if err != nil {
		return game.TransferResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return game.TransferResult{}, err
	}
	return game.TransferResult{FromBalance: fromBal, ToBalance: toBal}, nil
}

func (s *Store) CreateUser(ctx context.Context, in game.NewUser) (game.User, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.User{}, false, err
	}
	defer tx.Rollback()

	created := toMillis(in.CreatedAt)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, username, aura, chaos, empathy, drive,
			base_str, base_agi, base_int, base_vit, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`, in.UserID, in.Username, in.Traits.Aura, in.Traits.Chaos, in.Traits.Empathy, in.Traits.Drive,
		in.Stats.Str, in.Stats.Agi, in.Stats.Int, in.Stats.Vit, created, created)
	if err != nil {
		return game.User{}, false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return game.User{}, false, err
	}
	if n == 0 {
		u, err := getUser(ctx, tx, in.UserID)
		return u, false, err
	}

	ordinal, err := addToCounter(ctx, tx, game.ConfigAccount(game.RegistrationsKey), 1)
	if err != nil {
		return game.User{}, false, fmt.Errorf("take registration ordinal: %w", err)
	}
	if ordinal <= int64(in.PioneerLimit) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET is_pioneer = 1, verification_status = ? WHERE user_id = ?`,
			string(game.StatusVerified), in.UserID,
		); err != nil {
			return game.User{}, false, fmt.Errorf("mark pioneer: %w", err)
		}
	}
	if ref := in.ReferredBy; ref != 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET referred_by = ?
			WHERE user_id = ? AND EXISTS (SELECT 1 FROM users WHERE user_id = ?)
		`, ref, in.UserID, ref); err != nil {
			return game.User{}, false, fmt.Errorf("resolve referral: %w", err)
		}
	}

	u, err := getUser(ctx, tx, in.UserID)
	if err != nil {
		return game.User{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return game.User{}, false, err
	}
	return u, true, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (game.User, error) {
	return getUser(ctx, s.db, userID)
}

func (s *Store) AcceptLiveness(ctx context.Context, userID int64, photoRef string, bonus int64) (game.LivenessOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.LivenessOutcome{}, err
	}
	defer tx.Rollback()

	var (
		prev     string
		referred sql.NullInt64
		paid     bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT bio_lock_url, referred_by, referral_paid FROM users WHERE user_id = ?`, userID,
	).Scan(&prev, &referred, &paid)
	if errors.Is(err, sql.ErrNoRows) {
		return game.LivenessOutcome{}, game.ErrNotFound
	}
	if err != nil {
		return game.LivenessOutcome{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET bio_lock_url = ? WHERE user_id = ?`, photoRef, userID); err != nil {
		return game.LivenessOutcome{}, fmt.Errorf("store photo ref: %w", err)
	}

	out := game.LivenessOutcome{FirstPhoto: prev == ""}
	if out.FirstPhoto && referred.Valid && !paid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET referral_paid = 1, ap = ap + ? WHERE user_id = ?`, bonus, userID,
		); err != nil {
			return game.LivenessOutcome{}, fmt.Errorf("credit referee: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET ap = ap + ? WHERE user_id = ?`, bonus, referred.Int64)
		if err != nil {
			return game.LivenessOutcome{}, fmt.Errorf("credit referrer: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return game.LivenessOutcome{}, err
		}
		out.ReferralPaid = true
		out.ReferrerID = referred.Int64
		out.ReferrerFound = n == 1
	}

	out.User, err = getUser(ctx, tx, userID)
	if err != nil {
		return game.LivenessOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return game.LivenessOutcome{}, err
	}
	return out, nil
}

// conditional runs a guarded single-row update. A miss is reported as false,
// or ErrNotFound when the user does not exist at all.
func conditional(ctx context.Context, q querier, userID int64, query string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
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
		`UPDATE users SET verification_status = ? WHERE user_id = ? AND verification_status = ?`,
		string(game.StatusVerified), userID, string(game.StatusPending))
}

func (s *Store) SwapCombatState(ctx context.Context, userID int64, from, to game.CombatState) (bool, error) {
	return conditional(ctx, s.db, userID,
		`UPDATE users SET combat_state = ? WHERE user_id = ? AND combat_state = ?`,
		string(to), userID, string(from))
}

func (s *Store) ClearAmbush(ctx context.Context, userID int64) (bool, error) {
	return conditional(ctx, s.db, userID,
		`UPDATE users SET combat_state = ?, kills_lifetime = kills_lifetime + 1 WHERE user_id = ? AND combat_state = ?`,
		string(game.CombatIdle), userID, string(game.CombatLocked))
}

func (s *Store) TouchActivity(ctx context.Context, userID int64, at time.Time) error {
	ok, err := conditional(ctx, s.db, userID,
		`UPDATE users SET last_active_at = ? WHERE user_id = ?`, toMillis(at), userID)
	if err == nil && !ok {
		return game.ErrNotFound
	}
	return err
}

func (s *Store) SetSponsor(ctx context.Context, userID int64, sponsor string) error {
	ok, err := conditional(ctx, s.db, userID,
		`UPDATE users SET sponsor_id = ? WHERE user_id = ?`, sponsor, userID)
	if err == nil && !ok {
		return game.ErrNotFound
	}
	return err
}

func (s *Store) CandidatePool(ctx context.Context, requesterID int64, limit int) ([]game.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.verification_status = ?
		  AND u.user_id <> ?
		  AND NOT EXISTS (SELECT 1 FROM swipes s WHERE s.actor_id = ? AND s.target_id = u.user_id)
		ORDER BY RANDOM()
		LIMIT ?
	`, string(game.StatusVerified), requesterID, requesterID, limit)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.SwipeOutcome{}, err
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT combat_state FROM users WHERE user_id = ?`, sw.ActorID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return game.SwipeOutcome{}, game.ErrNotFound
	}
	if err != nil {
		return game.SwipeOutcome{}, err
	}
	if game.CombatState(state) == game.CombatLocked {
		return game.SwipeOutcome{}, game.ErrCombatLocked
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO swipes (actor_id, target_id, direction, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (actor_id, target_id) DO NOTHING
	`, sw.ActorID, sw.TargetID, string(sw.Direction), toMillis(sw.CreatedAt))
	if err != nil {
		return game.SwipeOutcome{}, fmt.Errorf("insert swipe: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return game.SwipeOutcome{}, err
	} else if n == 0 {
		return game.SwipeOutcome{}, game.ErrAlreadySwiped
	}

	var out game.SwipeOutcome
	if err := tx.QueryRowContext(ctx,
		`UPDATE users SET ap = ap + 1 WHERE user_id = ? RETURNING ap`, sw.ActorID,
	).Scan(&out.ActorAP); err != nil {
		return game.SwipeOutcome{}, fmt.Errorf("credit actor: %w", err)
	}
	res, err = tx.ExecContext(ctx, `UPDATE users SET `+tally+` = `+tally+` + 1 WHERE user_id = ?`, sw.TargetID)
	if err != nil {
		return game.SwipeOutcome{}, fmt.Errorf("tally target: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return game.SwipeOutcome{}, err
	} else if n == 0 {
		return game.SwipeOutcome{}, game.ErrNotFound
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swipes WHERE actor_id = ?`, sw.ActorID,
	).Scan(&out.SwipeCount); err != nil {
		return game.SwipeOutcome{}, err
	}
	if ambushEvery > 0 && out.SwipeCount%int64(ambushEvery) == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET combat_state = ? WHERE user_id = ? AND combat_state = ?`,
			string(game.CombatLocked), sw.ActorID, string(game.CombatIdle),
		); err != nil {
			return game.SwipeOutcome{}, fmt.Errorf("ambush lock: %w", err)
		}
		out.Locked = true
	}

	if err := tx.Commit(); err != nil {
		return game.SwipeOutcome{}, err
	}
	return out, nil
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, ap, bio_lock_url, sponsor_id
		FROM users
		ORDER BY ap DESC, user_id ASC
		LIMIT ?
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, kills_lifetime, faction, base_str, base_agi, base_int, base_vit
		FROM users
		ORDER BY kills_lifetime DESC, user_id ASC
		LIMIT ?
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
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE verification_status = ?
		ORDER BY created_at ASC, user_id ASC
		LIMIT 1
	`, string(game.StatusPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return game.User{}, game.ErrNotFound
	}
	return u, err
}

func (s *Store) CastVote(ctx context.Context, v game.TribunalVote, decide func(game.Tally) bool) (game.VoteOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.VoteOutcome{}, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT verification_status FROM users WHERE user_id = ?`, v.TargetID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return game.VoteOutcome{}, game.ErrNotFound
	}
	if err != nil {
		return game.VoteOutcome{}, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tribunal_votes (judge_id, target_id, vote, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (judge_id, target_id) DO NOTHING
	`, v.JudgeID, v.TargetID, string(v.Vote), toMillis(v.CreatedAt))
	if err != nil {
		return game.VoteOutcome{}, fmt.Errorf("insert vote: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return game.VoteOutcome{}, err
	} else if n == 0 {
		return game.VoteOutcome{}, game.ErrAlreadyVoted
	}

	var out game.VoteOutcome
	if err := tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN vote = 'APPROVE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote = 'REJECT' THEN 1 ELSE 0 END), 0)
		FROM tribunal_votes WHERE target_id = ?
	`, v.TargetID).Scan(&out.Tally.Approve, &out.Tally.Reject); err != nil {
		return game.VoteOutcome{}, fmt.Errorf("count votes: %w", err)
	}

	if game.VerificationStatus(status) == game.StatusPending && decide != nil && decide(out.Tally) {
		out.Verified, err = conditional(ctx, tx, v.TargetID,
			`UPDATE users SET verification_status = ? WHERE user_id = ? AND verification_status = ?`,
			string(game.StatusVerified), v.TargetID, string(game.StatusPending))
		if err != nil {
			return game.VoteOutcome{}, fmt.Errorf("flip verification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return game.VoteOutcome{}, err
	}
	return out, nil
}

func (s *Store) ResetMonthlyTallies(ctx context.Context, monthKey int64) (game.MonthRoll, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.MonthRoll{}, err
	}
	defer tx.Rollback()

	var prev int64
	err = tx.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, game.TallyMonthKey).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		prev = 0
	case err != nil:
		return game.MonthRoll{}, err
	}
	if prev >= monthKey {
		return game.MonthRoll{Previous: prev}, nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, game.TallyMonthKey, monthKey); err != nil {
		return game.MonthRoll{}, fmt.Errorf("record month: %w", err)
	}
	roll := game.MonthRoll{Previous: prev}
	if prev == 0 {
		roll.Initialized = true
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET `+factionFromTallies+`, votes_light_month = 0, votes_spite_month = 0`,
			string(game.FactionUnsorted), string(game.FactionEuphoria), string(game.FactionDissonance),
			monthKey, string(game.FactionEuphoria), string(game.FactionDissonance),
		); err != nil {
			return game.MonthRoll{}, fmt.Errorf("close month: %w", err)
		}
		roll.Reset = true
	}
	if err := tx.Commit(); err != nil {
		return game.MonthRoll{}, err
	}
	return roll, nil
}

// factionFromTallies mirrors game.FactionFor; its placeholders are
// unsorted, euphoria, dissonance, month key, tie euphoria, tie dissonance.
const factionFromTallies = `faction = CASE
	WHEN votes_light_month = 0 AND votes_spite_month = 0 THEN ?
	WHEN votes_light_month > votes_spite_month THEN ?
	WHEN votes_spite_month > votes_light_month THEN ?
	WHEN (user_id + ?) % 2 = 0 THEN ?
	ELSE ?
END`
