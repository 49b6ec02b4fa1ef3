package game

import (
	"strconv"
	"time"
)

type VerificationStatus string

const (
	StatusPending  VerificationStatus = "PENDING"
	StatusVerified VerificationStatus = "VERIFIED"
)

type CombatState string

const (
	// CombatIdle is the IDLE state of the encounter machine; it is stored as NONE.
	CombatIdle   CombatState = "NONE"
	CombatLocked CombatState = "LOCKED"
)

// Faction is derived each month from the previous month's tallies.
type Faction string

const (
	FactionUnsorted   Faction = "UNSORTED"
	FactionEuphoria   Faction = "EUPHORIA"
	FactionDissonance Faction = "DISSONANCE"
)

// FactionFor picks the faction earned by one month of tallies. A tie is
// broken by the parity of userID+monthKey so it is stable for a given roll.
func FactionFor(light, spite, userID, monthKey int64) Faction {
	switch {
	case light == 0 && spite == 0:
		return FactionUnsorted
	case light > spite:
		return FactionEuphoria
	case spite > light:
		return FactionDissonance
	case (userID+monthKey)%2 == 0:
		return FactionEuphoria
	default:
		return FactionDissonance
	}
}

type Direction string

const (
	DirectionLight Direction = "LIGHT"
	DirectionSpite Direction = "SPITE"
)

type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
)

type Action string

const ActionAttack Action = "ATTACK"

type SwipeStatus string

const (
	SwipeOK     SwipeStatus = "SWIPE_OK"
	SwipeAmbush SwipeStatus = "AMBUSH"
)

type TurnStatus string

const (
	TurnVictory TurnStatus = "VICTORY"
	TurnOngoing TurnStatus = "ONGOING"
)

type Traits struct {
	Aura    float64 `json:"aura"`
	Chaos   float64 `json:"chaos"`
	Empathy float64 `json:"empathy"`
	Drive   float64 `json:"drive"`
}

// TraitsInput carries client supplied traits; nil fields take the default.
type TraitsInput struct {
	Aura    *float64 `json:"aura,omitempty"`
	Chaos   *float64 `json:"chaos,omitempty"`
	Empathy *float64 `json:"empathy,omitempty"`
	Drive   *float64 `json:"drive,omitempty"`
}

func (in *TraitsInput) Resolve() Traits {
	if in == nil {
		in = &TraitsInput{}
	}
	return Traits{
		Aura:    traitOrDefault(in.Aura),
		Chaos:   traitOrDefault(in.Chaos),
		Empathy: traitOrDefault(in.Empathy),
		Drive:   traitOrDefault(in.Drive),
	}
}

func traitOrDefault(v *float64) float64 {
	if v == nil {
		return DefaultTraitValue
	}
	switch {
	case *v < 0:
		return 0
	case *v > 1:
		return 1
	}
	return *v
}

type Stats struct {
	Str int `json:"base_str"`
	Agi int `json:"base_agi"`
	Int int `json:"base_int"`
	Vit int `json:"base_vit"`
}

func (s Stats) Sum() int {
	return s.Str + s.Agi + s.Int + s.Vit
}

func DefaultStats() Stats {
	return Stats{Str: DefaultBaseStat, Agi: DefaultBaseStat, Int: DefaultBaseStat, Vit: DefaultBaseStat}
}

type User struct {
	UserID             int64              `json:"user_id"`
	Username           string             `json:"username"`
	Traits             Traits             `json:"traits"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	IsPioneer          bool               `json:"is_pioneer"`
	ReferredBy         *int64             `json:"referred_by,omitempty"`
	BioLockURL         string             `json:"bio_lock_url,omitempty"`
	ReferralPaid       bool               `json:"-"`
	AP                 int64              `json:"ap"`
	VotesLightMonth    int64              `json:"votes_light_month"`
	VotesSpiteMonth    int64              `json:"votes_spite_month"`
	CombatState        CombatState        `json:"combat_state"`
	Faction            Faction            `json:"faction"`
	KillsLifetime      int64              `json:"kills_lifetime"`
	Stats
	SponsorID    string    `json:"sponsor_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Card is the public projection of a user shown to other players.
type Card struct {
	UserID             int64              `json:"user_id"`
	Username           string             `json:"username"`
	Traits             Traits             `json:"traits"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	IsPioneer          bool               `json:"is_pioneer"`
	Faction            Faction            `json:"faction"`
	BioLockURL         string             `json:"bio_lock_url,omitempty"`
	SponsorID          string             `json:"sponsor_id,omitempty"`
}

func (u User) Card() Card {
	return Card{
		UserID:             u.UserID,
		Username:           u.Username,
		Traits:             u.Traits,
		VerificationStatus: u.VerificationStatus,
		IsPioneer:          u.IsPioneer,
		Faction:            u.Faction,
		BioLockURL:         u.BioLockURL,
		SponsorID:          u.SponsorID,
	}
}

// Identity is the trusted tuple produced by launch-data verification.
type Identity struct {
	UserID       int64
	Username     string
	ReferralCode string
}

// NewUser is a fully resolved creation request handed to the store.
type NewUser struct {
	UserID   int64
	Username string
	Traits   Traits
	Stats    Stats

	// ReferredBy is a candidate referrer id; the store keeps it only if that user exists.
	ReferredBy   int64
	PioneerLimit int
	CreatedAt    time.Time
}

type AccountKind string

const (
	AccountAP         AccountKind = "ap"
	AccountVotesLight AccountKind = "votes_light_month"
	AccountVotesSpite AccountKind = "votes_spite_month"
	AccountKills      AccountKind = "kills_lifetime"
	AccountConfig     AccountKind = "config"
)

// AccountKey names one additive counter: a user column or a global config value.
type AccountKey struct {
	Kind   AccountKind
	UserID int64
	Name   string
}

func APAccount(userID int64) AccountKey { return AccountKey{Kind: AccountAP, UserID: userID} }

func TallyAccount(userID int64, d Direction) AccountKey {
	if d == DirectionSpite {
		return AccountKey{Kind: AccountVotesSpite, UserID: userID}
	}
	return AccountKey{Kind: AccountVotesLight, UserID: userID}
}

func KillsAccount(userID int64) AccountKey { return AccountKey{Kind: AccountKills, UserID: userID} }

func ConfigAccount(name string) AccountKey { return AccountKey{Kind: AccountConfig, Name: name} }

// Floored counters may never drop below zero.
func (k AccountKey) Floored() bool {
	return k.Kind != AccountConfig
}

func (k AccountKey) String() string {
	if k.Kind == AccountConfig {
		return "config:" + k.Name
	}
	return string(k.Kind) + ":" + strconv.FormatInt(k.UserID, 10)
}

type TransferResult struct {
	FromBalance int64 `json:"from_balance"`
	ToBalance   int64 `json:"to_balance"`
}

type LivenessOutcome struct {
	User          User  `json:"user"`
	FirstPhoto    bool  `json:"first_photo"`
	ReferralPaid  bool  `json:"referral_paid"`
	ReferrerID    int64 `json:"referrer_id,omitempty"`
	ReferrerFound bool  `json:"-"`
}

type Swipe struct {
	ActorID   int64
	TargetID  int64
	Direction Direction
	CreatedAt time.Time
}

type SwipeOutcome struct {
	SwipeCount int64
	ActorAP    int64
	Locked     bool
}

type SwipeResult struct {
	Status     SwipeStatus `json:"status"`
	SwipeCount int64       `json:"swipe_count"`
	AP         int64       `json:"ap"`
}

type TribunalVote struct {
	JudgeID   int64
	TargetID  int64
	Vote      Vote
	CreatedAt time.Time
}

type Tally struct {
	Approve int64 `json:"approve"`
	Reject  int64 `json:"reject"`
}

func (t Tally) Total() int64 { return t.Approve + t.Reject }

type VoteOutcome struct {
	Tally    Tally `json:"tally"`
	Verified bool  `json:"verified"`
}

type Boss struct {
	Name string `json:"name"`
	HP   int    `json:"hp"`
	Dmg  int    `json:"dmg"`
}

type CombatEvent struct {
	Actor  string `json:"actor"`
	Damage int    `json:"damage"`
}

type TurnResult struct {
	Status    TurnStatus    `json:"status"`
	Log       []string      `json:"log"`
	Events    []CombatEvent `json:"-"`
	NewBossHP *int          `json:"new_boss_hp,omitempty"`

	// KillCredited is set when the victory cleared a real ambush lock.
	KillCredited bool `json:"kill_credited,omitempty"`
}

type DonateResult struct {
	AP   int64 `json:"ap"`
	Pool int64 `json:"pool"`
}

type LeaderboardRow struct {
	Username   string `json:"username"`
	AP         int64  `json:"ap"`
	BioLockURL string `json:"bio_lock_url,omitempty"`
	SponsorID  string `json:"sponsor_id,omitempty"`
}

// HallRow ranks players by bosses defeated.
type HallRow struct {
	Username      string  `json:"username"`
	KillsLifetime int64   `json:"kills_lifetime"`
	Faction       Faction `json:"faction"`
	Stats
}

// MonthRoll reports what one ResetMonthlyTallies call did.
type MonthRoll struct {
	// Initialized is set when the store had no month recorded yet.
	Initialized bool
	Reset       bool
	Previous    int64
}
