package game

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type RegistryConfig struct {
	// PioneerLimit is how many of the first registrants are auto-verified.
	PioneerLimit  int
	ReferralBonus int64
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{PioneerLimit: DefaultPioneerLimit, ReferralBonus: DefaultReferralBonus}
}

// Registry is the single source of truth for a user's mutable fields.
type Registry struct {
	store RegistryStore
	cfg   RegistryConfig
	now   func() time.Time
}

func NewRegistry(store RegistryStore, cfg RegistryConfig) *Registry {
	if cfg.PioneerLimit < 0 {
		cfg.PioneerLimit = 0
	}
	if cfg.ReferralBonus < 0 {
		cfg.ReferralBonus = 0
	}
	return &Registry{store: store, cfg: cfg, now: time.Now}
}

// GetOrCreate returns the stored user, creating it on first sight. The store
// resolves concurrent first logins through the user_id uniqueness constraint.
func (r *Registry) GetOrCreate(ctx context.Context, id Identity, traits *TraitsInput) (User, bool, error) {
	if id.UserID == 0 {
		return User{}, false, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	u, created, err := r.store.CreateUser(ctx, NewUser{
		UserID:       id.UserID,
		Username:     sanitizeUsername(id.Username, id.UserID),
		Traits:       traits.Resolve(),
		Stats:        DefaultStats(),
		ReferredBy:   ParseReferralCode(id.ReferralCode, id.UserID),
		PioneerLimit: r.cfg.PioneerLimit,
		CreatedAt:    r.now().UTC(),
	})
	if err != nil {
		return User{}, false, fmt.Errorf("get or create user %d: %w", id.UserID, err)
	}
	return u, created, nil
}

func (r *Registry) Get(ctx context.Context, userID int64) (User, error) {
	return r.store.GetUser(ctx, userID)
}

func (r *Registry) RecordLivenessAccepted(ctx context.Context, userID int64, photoRef string) (LivenessOutcome, error) {
	photoRef = strings.TrimSpace(photoRef)
	if photoRef == "" {
		return LivenessOutcome{}, fmt.Errorf("%w: photo reference is required", ErrValidation)
	}
	out, err := r.store.AcceptLiveness(ctx, userID, photoRef, r.cfg.ReferralBonus)
	if err != nil {
		return LivenessOutcome{}, fmt.Errorf("record liveness for %d: %w", userID, err)
	}
	return out, nil
}

// SetVerification only moves users forward; VERIFIED is terminal.
func (r *Registry) SetVerification(ctx context.Context, userID int64, status VerificationStatus) error {
	switch status {
	case StatusVerified:
		_, err := r.store.PromoteVerification(ctx, userID)
		return err
	case StatusPending:
		u, err := r.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.VerificationStatus != StatusPending {
			return fmt.Errorf("%w: verification cannot be revoked", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown verification status %q", ErrValidation, status)
	}
}

func (r *Registry) TouchActivity(ctx context.Context, userID int64, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	return r.store.TouchActivity(ctx, userID, at.UTC())
}

func (r *Registry) Lock(ctx context.Context, userID int64) (bool, error) {
	return r.store.SwapCombatState(ctx, userID, CombatIdle, CombatLocked)
}

func (r *Registry) Unlock(ctx context.Context, userID int64) (bool, error) {
	return r.store.SwapCombatState(ctx, userID, CombatLocked, CombatIdle)
}

// ClearAmbush ends an ambush with a kill. Only a LOCKED user gains a kill.
func (r *Registry) ClearAmbush(ctx context.Context, userID int64) (bool, error) {
	return r.store.ClearAmbush(ctx, userID)
}

func (r *Registry) SetSponsor(ctx context.Context, userID int64, logo string) error {
	clean, err := validateSponsor(logo)
	if err != nil {
		return err
	}
	return r.store.SetSponsor(ctx, userID, clean)
}
