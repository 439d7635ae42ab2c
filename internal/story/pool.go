package story

import (
	"fmt"
	"strings"
	"time"
)

// RemainderPolicy decides who receives the wei left over by an uneven split.
type RemainderPolicy string

const (
	RemainderToFirst RemainderPolicy = "first"
	RemainderToLast  RemainderPolicy = "last"
)

func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch p := RemainderPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RemainderToFirst, nil
	case RemainderToFirst, RemainderToLast:
		return p, nil
	default:
		return "", fmt.Errorf("unknown remainder policy %q", s)
	}
}

// RewardPool holds donations until the story completes and then pays them
// out once. Like Ledger it relies on Story for locking.
type RewardPool struct {
	balance     Amount
	closed      bool
	distributed bool
	policy      RemainderPolicy
	settlement  *Settlement
}

func NewRewardPool(policy RemainderPolicy) *RewardPool {
	if policy == "" {
		policy = RemainderToFirst
	}
	return &RewardPool{policy: policy}
}

// Donate adds amount to the balance and returns the new balance.
func (p *RewardPool) Donate(amount Amount) (Amount, error) {
	if err := p.checkDonation(amount); err != nil {
		return p.balance, err
	}
	p.balance = p.balance.Add(amount)
	return p.balance, nil
}

func (p *RewardPool) checkDonation(amount Amount) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.closed || p.distributed {
		return ErrStoryComplete
	}
	return nil
}

// close stops accepting donations; called when the ledger completes.
func (p *RewardPool) close() { p.closed = true }

// OnStoryCompleted distributes the balance equally among contributors.
func (p *RewardPool) OnStoryCompleted(contributors []Address, now time.Time) (Settlement, error) {
	s, err := p.plan(contributors, now)
	if err != nil {
		return Settlement{}, err
	}
	p.apply(s)
	return s, nil
}

// plan computes the settlement without touching the pool.
func (p *RewardPool) plan(contributors []Address, now time.Time) (Settlement, error) {
	if p.distributed {
		return Settlement{}, ErrAlreadyDistributed
	}
	if len(contributors) == 0 {
		return Settlement{}, ErrNoContributors
	}
	share, remainder := p.balance.Split(len(contributors))
	payouts := make([]Payout, len(contributors))
	for i, c := range contributors {
		payouts[i] = Payout{Recipient: c, Amount: share}
	}
	if !remainder.IsZero() {
		i := 0
		if p.policy == RemainderToLast {
			i = len(payouts) - 1
		}
		payouts[i].Amount = payouts[i].Amount.Add(remainder)
	}
	return Settlement{
		Total:     p.balance,
		Share:     share,
		Remainder: remainder,
		Policy:    p.policy,
		Payouts:   payouts,
		SettledAt: now.UTC(),
	}, nil
}

func (p *RewardPool) apply(s Settlement) {
	p.closed = true
	p.distributed = true
	p.balance = Amount{}
	p.settlement = &s
}

func (p *RewardPool) Balance() Amount { return p.balance }

func (p *RewardPool) Distributed() bool { return p.distributed }

// Settlement returns a copy of the payout result, or nil before distribution.
func (p *RewardPool) Settlement() *Settlement {
	if p.settlement == nil {
		return nil
	}
	s := *p.settlement
	s.Payouts = append([]Payout(nil), p.settlement.Payouts...)
	return &s
}
