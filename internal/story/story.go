package story

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Story is one collaborative story: a Ledger and a RewardPool guarded by a
// single lock. Mutations are serialized; reads take a consistent snapshot.
type Story struct {
	info Info

	mu     sync.RWMutex
	ledger *Ledger
	pool   *RewardPool

	store    Store
	notifier Notifier
	now      func() time.Time
}

// Options configures a Story. Store and Notifier may be nil.
type Options struct {
	MaxLines  int
	Remainder RemainderPolicy
	Store     Store
	Notifier  Notifier
	Clock     func() time.Time
}

func (o Options) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

// New creates an empty story.
func New(id string, opts Options) *Story {
	now := opts.clock()
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	remainder := opts.Remainder
	if remainder == "" {
		remainder = RemainderToFirst
	}
	return &Story{
		info: Info{
			ID:        id,
			MaxLines:  maxLines,
			Remainder: remainder,
			CreatedAt: now().UTC(),
		},
		ledger:   NewLedger(maxLines),
		pool:     NewRewardPool(remainder),
		store:    opts.Store,
		notifier: opts.Notifier,
		now:      now,
	}
}

// Restore rebuilds a story from persisted records without writing to the store.
func Restore(rec Record, opts Options) (*Story, error) {
	s := &Story{
		info:     rec.Info,
		ledger:   NewLedger(rec.MaxLines),
		pool:     NewRewardPool(rec.Remainder),
		store:    opts.Store,
		notifier: opts.Notifier,
		now:      opts.clock(),
	}
	s.info.MaxLines = s.ledger.MaxLines()
	s.info.Remainder = s.pool.policy
	for _, d := range rec.Donations {
		if _, err := s.pool.Donate(d.Amount); err != nil {
			return nil, fmt.Errorf("restore donation: %w", err)
		}
	}
	for _, line := range rec.Lines {
		completed, err := s.ledger.commit(line)
		if err != nil {
			return nil, fmt.Errorf("restore line %d: %w", line.Index, err)
		}
		if completed {
			s.pool.close()
		}
	}
	if rec.Settlement != nil {
		if !s.ledger.Completed() {
			return nil, fmt.Errorf("restore settlement: %w", ErrStoryOpen)
		}
		s.pool.apply(*rec.Settlement)
	}
	return s, nil
}

func (s *Story) ID() string { return s.info.ID }

func (s *Story) Info() Info { return s.info }

// AddLine appends a line by author. When the line fills the last slot the
// story completes and the reward pool is distributed before returning.
// A failed or cancelled call never reserves an index.
func (s *Story) AddLine(ctx context.Context, text string, author Address) (Line, error) {
	if err := ctx.Err(); err != nil {
		return Line{}, err
	}

	s.mu.Lock()
	line, events, err := s.addLineLocked(ctx, text, author)
	s.mu.Unlock()
	if err != nil {
		return Line{}, err
	}

	s.emit(ctx, events)
	return line, nil
}

func (s *Story) addLineLocked(ctx context.Context, text string, author Address) (Line, []Event, error) {
	line, err := s.ledger.prepare(text, author, s.now())
	if err != nil {
		return Line{}, nil, err
	}
	// The caller may have waited on the lock; do not write for a dead request.
	if err := ctx.Err(); err != nil {
		return Line{}, nil, err
	}
	if s.store != nil {
		if err := s.store.SaveLine(ctx, s.info.ID, line); err != nil {
			return Line{}, nil, fmt.Errorf("save line: %w", err)
		}
	}
	completed, err := s.ledger.commit(line)
	if err != nil {
		s.logInvariant(err)
		return Line{}, nil, err
	}

	events := []Event{{Kind: EventLineAdded, StoryID: s.info.ID, Line: &line}}
	if !completed {
		return line, events, nil
	}

	s.pool.close()
	events = append(events, Event{Kind: EventStoryCompleted, StoryID: s.info.ID, Balance: s.pool.Balance()})
	settlement, err := s.settleLocked(ctx)
	if err != nil {
		// The line is committed; the payout stays pending until Settle succeeds.
		logrus.WithFields(logrus.Fields{
			"story_id": s.info.ID,
			"error":    err,
		}).Warn("story completed but payout is pending")
		return line, events, nil
	}
	return line, append(events, settlementEvents(s.info.ID, settlement)...), nil
}

// Settle performs the pending payout of a completed story.
func (s *Story) Settle(ctx context.Context) (Settlement, error) {
	if err := ctx.Err(); err != nil {
		return Settlement{}, err
	}

	s.mu.Lock()
	var settlement Settlement
	var err error
	switch {
	case !s.ledger.Completed():
		err = ErrStoryOpen
	case s.pool.Distributed():
		err = ErrAlreadySettled
	default:
		settlement, err = s.settleLocked(ctx)
	}
	s.mu.Unlock()
	if err != nil {
		return Settlement{}, err
	}

	s.emit(ctx, settlementEvents(s.info.ID, settlement))
	return settlement, nil
}

func (s *Story) settleLocked(ctx context.Context) (Settlement, error) {
	settlement, err := s.pool.plan(s.ledger.Contributors(), s.now())
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			s.logInvariant(err)
		}
		return Settlement{}, err
	}
	if s.store != nil {
		if err := s.store.SaveSettlement(ctx, s.info.ID, settlement); err != nil {
			if !errors.Is(err, ErrAlreadyDistributed) {
				return Settlement{}, fmt.Errorf("save settlement: %w", err)
			}
			// An earlier write committed but its result was lost; adopt it.
			persisted, lerr := s.store.LoadSettlement(ctx, s.info.ID)
			if lerr != nil {
				return Settlement{}, fmt.Errorf("reload settlement: %w", lerr)
			}
			if persisted == nil {
				s.logInvariant(err)
				return Settlement{}, fmt.Errorf("save settlement: %w", err)
			}
			logrus.WithField("story_id", s.info.ID).Warn("settlement was already persisted, adopting stored result")
			settlement = *persisted
		}
	}
	s.pool.apply(settlement)
	return settlement, nil
}

// Donate adds amount from a donor to the reward pool and returns the new balance.
func (s *Story) Donate(ctx context.Context, amount Amount, from Address) (Amount, error) {
	if err := ctx.Err(); err != nil {
		return Amount{}, err
	}
	from, err := ParseAddress(string(from))
	if err != nil {
		return Amount{}, err
	}

	s.mu.Lock()
	balance, donation, err := s.donateLocked(ctx, amount, from)
	s.mu.Unlock()
	if err != nil {
		return balance, err
	}

	s.emit(ctx, []Event{{Kind: EventDonation, StoryID: s.info.ID, Donation: &donation, Balance: balance}})
	return balance, nil
}

func (s *Story) donateLocked(ctx context.Context, amount Amount, from Address) (Amount, Donation, error) {
	if err := s.pool.checkDonation(amount); err != nil {
		return s.pool.Balance(), Donation{}, err
	}
	if err := ctx.Err(); err != nil {
		return s.pool.Balance(), Donation{}, err
	}
	d := Donation{From: from, Amount: amount, CreatedAt: s.now().UTC()}
	if s.store != nil {
		if err := s.store.SaveDonation(ctx, s.info.ID, d); err != nil {
			return s.pool.Balance(), Donation{}, fmt.Errorf("save donation: %w", err)
		}
	}
	balance, err := s.pool.Donate(amount)
	return balance, d, err
}

// Snapshot returns the ledger contents.
func (s *Story) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Snapshot()
}

// State returns the aggregated read model.
func (s *Story) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.ledger.Snapshot()
	maxLines := s.ledger.MaxLines()
	return State{
		ID:                s.info.ID,
		Status:            s.statusLocked(),
		Lines:             snap.Lines,
		Authors:           snap.Authors,
		Completed:         snap.Completed,
		Balance:           s.pool.Balance(),
		ContributorsCount: len(s.ledger.Contributors()),
		MaxLines:          maxLines,
		LinesRemaining:    maxLines - len(snap.Lines),
		ProgressPercent:   int(math.Round(float64(len(snap.Lines)) / float64(maxLines) * 100)),
		Settlement:        s.pool.Settlement(),
		CreatedAt:         s.info.CreatedAt,
	}
}

func (s *Story) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Story) statusLocked() Status {
	switch {
	case s.pool.Distributed():
		return StatusSettled
	case s.ledger.Completed():
		return StatusPendingPayout
	default:
		return StatusOpen
	}
}

func (s *Story) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:        s.info.ID,
		Status:    s.statusLocked(),
		LineCount: s.ledger.Len(),
		MaxLines:  s.ledger.MaxLines(),
		Balance:   s.pool.Balance(),
		CreatedAt: s.info.CreatedAt,
	}
}

func (s *Story) emit(ctx context.Context, events []Event) {
	if s.notifier == nil {
		return
	}
	for _, ev := range events {
		s.notifier.Notify(ctx, ev)
	}
}

func (s *Story) logInvariant(err error) {
	logrus.WithFields(logrus.Fields{
		"story_id": s.info.ID,
		"error":    err,
	}).Error("story invariant violated")
}
