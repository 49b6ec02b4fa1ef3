package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPioneerLimit  = 100
	DefaultReferralBonus = int64(50)
	DefaultAmbushEvery   = 10
	DefaultFeedPoolSize  = 50
	DefaultFeedLimit     = 10
	DefaultBoardLimit    = 20
	DefaultHallLimit     = 50

	DefaultBaseStat   = 10
	DefaultTraitValue = 0.5

	FoundationPoolKey = "foundation_pool_current"
	RegistrationsKey  = "registrations"
	TallyMonthKey     = "tally_month"

	maxSponsorLen  = 128
	maxUsernameLen = 32
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrValidation          = errors.New("validation failed")
	ErrNoFaceDetected      = errors.New("NO_FACE_DETECTED")
	ErrAlreadySwiped       = errors.New("target already swiped")
	ErrAlreadyVoted        = errors.New("vote already cast for target")
	ErrCombatLocked        = errors.New("combat lock active: finish the encounter first")
	ErrTxConflict          = errors.New("transaction conflict, retry later")
	ErrInvalidDirection    = fmt.Errorf("%w: direction must be LIGHT or SPITE", ErrValidation)
	ErrInvalidVote         = fmt.Errorf("%w: vote must be APPROVE or REJECT", ErrValidation)
	ErrInvalidAction       = fmt.Errorf("%w: action must be ATTACK", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be > 0", ErrValidation)
	ErrSelfSwipe           = fmt.Errorf("%w: cannot swipe yourself", ErrValidation)
)

func ParseDirection(v string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(v))); d {
	case DirectionLight, DirectionSpite:
		return d, nil
	default:
		return "", ErrInvalidDirection
	}
}

func ParseVote(v string) (Vote, error) {
	switch vote := Vote(strings.ToUpper(strings.TrimSpace(v))); vote {
	case VoteApprove, VoteReject:
		return vote, nil
	default:
		return "", ErrInvalidVote
	}
}

func ParseAction(v string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(v)))
	if a == "" {
		a = ActionAttack
	}
	if a != ActionAttack {
		return "", ErrInvalidAction
	}
	return a, nil
}

func validateSponsor(logo string) (string, error) {
	clean := strings.TrimSpace(logo)
	if clean == "" {
		return "", fmt.Errorf("%w: sponsor logo is required", ErrValidation)
	}
	if len(clean) > maxSponsorLen {
		return "", fmt.Errorf("%w: sponsor logo too long (max %d chars)", ErrValidation, maxSponsorLen)
	}
	return clean, nil
}

func sanitizeUsername(s string, userID int64) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Sprintf("user_%d", userID)
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if res == "" {
		return fmt.Sprintf("user_%d", userID)
	}
	if len(res) > maxUsernameLen {
		res = res[:maxUsernameLen]
	}
	return res
}

// ParseReferralCode reads a referral code as a referrer user id. Unparseable
// codes and self-referrals yield 0 and are dropped silently.
func ParseReferralCode(code string, self int64) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(code), 10, 64)
	if err != nil || id <= 0 || id == self {
		return 0
	}
	return id
}
