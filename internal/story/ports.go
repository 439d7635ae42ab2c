package story

import "context"

// Store persists story changes. Every write happens before the in-memory
// state changes, so a failed write leaves the story untouched.
type Store interface {
	CreateStory(ctx context.Context, info Info) error
	SaveLine(ctx context.Context, storyID string, line Line) error
	SaveDonation(ctx context.Context, storyID string, d Donation) error
	// SaveSettlement returns ErrAlreadyDistributed when the story already has one.
	SaveSettlement(ctx context.Context, storyID string, s Settlement) error
	// LoadSettlement returns nil when the story has not been settled.
	LoadSettlement(ctx context.Context, storyID string) (*Settlement, error)
	LoadStories(ctx context.Context) ([]Record, error)
}

type EventKind string

const (
	EventLineAdded      EventKind = "line_added"
	EventDonation       EventKind = "donation"
	EventStoryCompleted EventKind = "story_completed"
	EventPayout         EventKind = "payout"
	EventSettled        EventKind = "settled"
)

type Event struct {
	Kind       EventKind
	StoryID    string
	Line       *Line
	Donation   *Donation
	Balance    Amount
	Payout     *Payout
	Settlement *Settlement
}

// Notifier receives story events after the story lock is released.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

func settlementEvents(storyID string, s Settlement) []Event {
	events := make([]Event, 0, len(s.Payouts)+1)
	for i := range s.Payouts {
		p := s.Payouts[i]
		events = append(events, Event{Kind: EventPayout, StoryID: storyID, Payout: &p})
	}
	events = append(events, Event{Kind: EventSettled, StoryID: storyID, Settlement: &s})
	return events
}
