package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const MaxPhotoBytes = 5 << 20

// LivenessChecker is the external face-presence classifier.
type LivenessChecker interface {
	FacePresent(ctx context.Context, image []byte, contentType string) (bool, error)
}

// PhotoStore persists accepted liveness photos and returns their public URL.
type PhotoStore interface {
	PutPhoto(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type Config struct {
	Registry     RegistryConfig
	AmbushEvery  int
	FeedPoolSize int
	Policy       ConsensusPolicy
	Roller       Roller
	Liveness     LivenessChecker
	Photos       PhotoStore
}

type Service struct {
	store  Store
	log    *slog.Logger
	tracer trace.Tracer

	ambushEvery int
	liveness    LivenessChecker
	photos      PhotoStore

	Ledger   *Ledger
	Registry *Registry
	Feed     *FeedSelector
	Combat   *CombatEngine
	Tribunal *TribunalEngine
}

func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AmbushEvery <= 0 {
		cfg.AmbushEvery = DefaultAmbushEvery
	}
	registry := NewRegistry(store, cfg.Registry)
	return &Service{
		store:       store,
		log:         logger,
		tracer:      otel.Tracer("azeuqer/internal/game"),
		ambushEvery: cfg.AmbushEvery,
		liveness:    cfg.Liveness,
		photos:      cfg.Photos,
		Ledger:      NewLedger(store),
		Registry:    registry,
		Feed:        NewFeedSelector(store, cfg.FeedPoolSize),
		Combat:      NewCombatEngine(registry, cfg.Roller),
		Tribunal:    NewTribunalEngine(store, cfg.Policy),
	}
}

func (s *Service) span(ctx context.Context, name string, userID int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("azeuqer.user_id", userID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login registers the caller on first sight and records activity.
func (s *Service) Login(ctx context.Context, id Identity, traits *TraitsInput) (u User, created bool, err error) {
	ctx, span := s.span(ctx, "game.Login", id.UserID)
	defer func() { endSpan(span, err) }()

	u, created, err = s.Registry.GetOrCreate(ctx, id, traits)
	if err != nil {
		return User{}, false, err
	}
	if created {
		s.log.Info("user registered", "user_id", u.UserID, "pioneer", u.IsPioneer, "referred_by", u.ReferredBy)
	}
	if err := s.Registry.TouchActivity(ctx, u.UserID, time.Now()); err != nil {
		s.log.Warn("touch activity failed", "user_id", u.UserID, "err", err)
	}
	return u, created, nil
}

// SubmitBioLock runs the liveness check, stores the photo and records it.
// A rejected photo writes nothing.
func (s *Service) SubmitBioLock(ctx context.Context, userID int64, image []byte) (out LivenessOutcome, err error) {
	ctx, span := s.span(ctx, "game.SubmitBioLock", userID)
	defer func() { endSpan(span, err) }()

	if s.liveness == nil || s.photos == nil {
		return LivenessOutcome{}, errors.New("biolock is not configured")
	}
	if len(image) == 0 {
		return LivenessOutcome{}, fmt.Errorf("%w: image is empty", ErrValidation)
	}
	if len(image) > MaxPhotoBytes {
		return LivenessOutcome{}, fmt.Errorf("%w: image exceeds %d bytes", ErrValidation, MaxPhotoBytes)
	}
	contentType := http.DetectContentType(image)
	ext, ok := photoExtensions[contentType]
	if !ok {
		return LivenessOutcome{}, fmt.Errorf("%w: unsupported image type %s", ErrValidation, contentType)
	}
	if _, err := s.Registry.Get(ctx, userID); err != nil {
		return LivenessOutcome{}, err
	}

	face, err := s.liveness.FacePresent(ctx, image, contentType)
	if err != nil {
		return LivenessOutcome{}, fmt.Errorf("liveness check: %w", err)
	}
	if !face {
		return LivenessOutcome{}, ErrNoFaceDetected
	}

	key := fmt.Sprintf("%d/%s%s", userID, uuid.NewString(), ext)
	url, err := s.photos.PutPhoto(ctx, key, image, contentType)
	if err != nil {
		return LivenessOutcome{}, fmt.Errorf("store photo: %w", err)
	}
	out, err = s.Registry.RecordLivenessAccepted(ctx, userID, url)
	if err != nil {
		return LivenessOutcome{}, err
	}
	if out.ReferralPaid {
		s.log.Info("referral payout", "user_id", userID, "referrer_id", out.ReferrerID, "referrer_found", out.ReferrerFound)
	}
	return out, nil
}

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

func (s *Service) FeedCards(ctx context.Context, userID int64, limit int) (cards []Card, err error) {
	ctx, span := s.span(ctx, "game.FeedCards", userID)
	defer func() { endSpan(span, err) }()

	users, err := s.Feed.CollectCandidates(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	cards = make([]Card, 0, len(users))
	for _, u := range users {
		cards = append(cards, u.Card())
	}
	return cards, nil
}

// Swipe resolves one judgement: actor AP +1, target tally +1, the event row,
// and the ambush lock on every AmbushEvery-th swipe, in one store transaction.
func (s *Service) Swipe(ctx context.Context, actorID, targetID int64, direction Direction) (out SwipeResult, err error) {
	ctx, span := s.span(ctx, "game.Swipe", actorID)
	defer func() { endSpan(span, err) }()

	if _, err := ParseDirection(string(direction)); err != nil {
		return SwipeResult{}, err
	}
	if targetID == 0 {
		return SwipeResult{}, fmt.Errorf("%w: target_id is required", ErrValidation)
	}
	if actorID == targetID {
		return SwipeResult{}, ErrSelfSwipe
	}
	res, err := s.store.RecordSwipe(ctx, Swipe{
		ActorID:   actorID,
		TargetID:  targetID,
		Direction: direction,
		CreatedAt: time.Now().UTC(),
	}, s.ambushEvery)
	if err != nil {
		return SwipeResult{}, fmt.Errorf("swipe %d -> %d: %w", actorID, targetID, err)
	}
	out = SwipeResult{Status: SwipeOK, SwipeCount: res.SwipeCount, AP: res.ActorAP}
	if res.Locked {
		out.Status = SwipeAmbush
		s.log.Info("ambush triggered", "user_id", actorID, "swipe_count", res.SwipeCount)
	}
	return out, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = DefaultBoardLimit
	}
	return s.store.Leaderboard(ctx, limit)
}

// HallOfFame ranks players by bosses defeated.
func (s *Service) HallOfFame(ctx context.Context, limit int) ([]HallRow, error) {
	if limit <= 0 {
		limit = DefaultHallLimit
	}
	return s.store.HallOfFame(ctx, limit)
}

func (s *Service) EquipSponsor(ctx context.Context, userID int64, logo string) error {
	return s.Registry.SetSponsor(ctx, userID, logo)
}

// Donate moves AP from the user into the shared foundation pool. An
// overdraft changes neither side.
func (s *Service) Donate(ctx context.Context, userID, amount int64) (out DonateResult, err error) {
	ctx, span := s.span(ctx, "game.Donate", userID)
	defer func() { endSpan(span, err) }()

	res, err := s.Ledger.Transfer(ctx, APAccount(userID), ConfigAccount(FoundationPoolKey), amount)
	if err != nil {
		return DonateResult{}, err
	}
	return DonateResult{AP: res.FromBalance, Pool: res.ToBalance}, nil
}

func (s *Service) CombatInfo(ctx context.Context, userID int64) (Boss, error) {
	return s.Combat.StartEncounter(ctx, userID)
}

func (s *Service) CombatTurn(ctx context.Context, userID int64, action string, bossHP int) (out TurnResult, err error) {
	ctx, span := s.span(ctx, "game.CombatTurn", userID)
	defer func() { endSpan(span, err) }()

	a, err := ParseAction(action)
	if err != nil {
		return TurnResult{}, err
	}
	out, err = s.Combat.ResolveTurn(ctx, userID, a, bossHP)
	if err != nil {
		return TurnResult{}, err
	}
	if out.Status == TurnVictory {
		s.log.Info("boss defeated", "user_id", userID, "kill_credited", out.KillCredited)
	}
	return out, nil
}

func (s *Service) TribunalCase(ctx context.Context, judgeID int64) (Card, error) {
	u, err := s.Tribunal.AssignCase(ctx, judgeID)
	if err != nil {
		return Card{}, err
	}
	return u.Card(), nil
}

func (s *Service) TribunalVote(ctx context.Context, judgeID, targetID int64, vote string) (out VoteOutcome, err error) {
	ctx, span := s.span(ctx, "game.TribunalVote", judgeID)
	defer func() { endSpan(span, err) }()

	v, err := ParseVote(vote)
	if err != nil {
		return VoteOutcome{}, err
	}
	out, err = s.Tribunal.CastVote(ctx, judgeID, targetID, v)
	if err != nil {
		return VoteOutcome{}, err
	}
	if out.Verified {
		s.log.Info("tribunal verified user", "target_id", targetID, "approve", out.Tally.Approve, "reject", out.Tally.Reject)
	}
	return out, nil
}

// MonthKey encodes a calendar month as YYYYMM.
func MonthKey(t time.Time) int64 {
	t = t.UTC()
	return int64(t.Year())*100 + int64(t.Month())
}

// RollMonth closes the previous calendar month once: factions are set from
// its tallies and the tallies restart at zero. On a store that has never
// rolled, it only records the current month so tallies already earned in it
// survive.
func (s *Service) RollMonth(ctx context.Context, now time.Time) (MonthRoll, error) {
	key := MonthKey(now)
	roll, err := s.store.ResetMonthlyTallies(ctx, key)
	if err != nil {
		return MonthRoll{}, fmt.Errorf("roll month %d: %w", key, err)
	}
	switch {
	case roll.Initialized:
		s.log.Info("month tracking started", "month", key)
	case roll.Reset:
		s.log.Info("monthly tallies reset", "month", key, "previous", roll.Previous)
	}
	return roll, nil
}
