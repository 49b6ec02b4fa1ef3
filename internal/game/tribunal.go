package game

import (
	"context"
	"fmt"
	"time"
)

type Verdict int

const (
	VerdictUndecided Verdict = iota
	VerdictVerify
)

// ConsensusPolicy turns a target's vote tally into a verdict. It is consulted
// inside the vote transaction, so it must be a pure function of the tally.
type ConsensusPolicy interface {
	Decide(t Tally) Verdict
}

// NeverPolicy never flips anyone; it is the policy when no threshold is configured.
type NeverPolicy struct{}

func (NeverPolicy) Decide(Tally) Verdict { return VerdictUndecided }

// MajorityPolicy verifies once at least Quorum votes exist and the approving
// share is strictly greater than Ratio.
type MajorityPolicy struct {
	Quorum int64
	Ratio  float64
}

func (p MajorityPolicy) Decide(t Tally) Verdict {
	total := t.Total()
	if p.Quorum <= 0 || total < p.Quorum {
		return VerdictUndecided
	}
	if float64(t.Approve)/float64(total) > p.Ratio {
		return VerdictVerify
	}
	return VerdictUndecided
}

func PolicyFromQuorum(quorum int64, ratio float64) ConsensusPolicy {
	if quorum <= 0 {
		return NeverPolicy{}
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return MajorityPolicy{Quorum: quorum, Ratio: ratio}
}

type TribunalEngine struct {
	store  TribunalStore
	policy ConsensusPolicy
	now    func() time.Time
}

func NewTribunalEngine(store TribunalStore, policy ConsensusPolicy) *TribunalEngine {
	if policy == nil {
		policy = NeverPolicy{}
	}
	return &TribunalEngine{store: store, policy: policy, now: time.Now}
}

// AssignCase hands the judge one PENDING user, or ErrNotFound when the queue is empty.
func (t *TribunalEngine) AssignCase(ctx context.Context, judgeID int64) (User, error) {
	u, err := t.store.FirstPending(ctx)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (t *TribunalEngine) CastVote(ctx context.Context, judgeID, targetID int64, vote Vote) (VoteOutcome, error) {
	if _, err := ParseVote(string(vote)); err != nil {
		return VoteOutcome{}, err
	}
	if targetID == 0 {
		return VoteOutcome{}, fmt.Errorf("%w: target_id is required", ErrValidation)
	}
	out, err := t.store.CastVote(ctx, TribunalVote{
		JudgeID:   judgeID,
		TargetID:  targetID,
		Vote:      vote,
		CreatedAt: t.now().UTC(),
	}, func(tally Tally) bool {
		return t.policy.Decide(tally) == VerdictVerify
	})
	if err != nil {
		return VoteOutcome{}, fmt.Errorf("cast vote on %d: %w", targetID, err)
	}
	return out, nil
}
