package story

import "time"

const (
	// DefaultMaxLines is the line cap of a story.
	DefaultMaxLines = 10
	// MaxLineLength is the maximum number of characters in one line.
	MaxLineLength = 200
)

type Line struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Author    Address   `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type Donation struct {
	From      Address   `json:"from"`
	Amount    Amount    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type Payout struct {
	Recipient Address `json:"recipient"`
	Amount    Amount  `json:"amount"`
}

// Settlement is the result of the one-time reward distribution.
type Settlement struct {
	Total     Amount          `json:"total"`
	Share     Amount          `json:"share"`
	Remainder Amount          `json:"remainder"`
	Policy    RemainderPolicy `json:"remainder_policy"`
	Payouts   []Payout        `json:"payouts"`
	SettledAt time.Time       `json:"settled_at"`
}

// PaidOut sums all payouts.
func (s Settlement) PaidOut() Amount {
	var total Amount
	for _, p := range s.Payouts {
		total = total.Add(p.Amount)
	}
	return total
}

type Status string

const (
	StatusOpen          Status = "open"
	StatusPendingPayout Status = "completed_pending_payout"
	StatusSettled       Status = "settled"
)

// Snapshot is a point-in-time read of the ledger.
type Snapshot struct {
	Lines     []Line    `json:"lines"`
	Authors   []Address `json:"authors"`
	Completed bool      `json:"completed"`
}

// State is the aggregated read model the UI renders.
type State struct {
	ID                string      `json:"id"`
	Status            Status      `json:"status"`
	Lines             []Line      `json:"lines"`
	Authors           []Address   `json:"authors"`
	Completed         bool        `json:"completed"`
	Balance           Amount      `json:"balance"`
	ContributorsCount int         `json:"contributors_count"`
	MaxLines          int         `json:"max_lines"`
	LinesRemaining    int         `json:"lines_remaining"`
	ProgressPercent   int         `json:"progress_percent"`
	Settlement        *Settlement `json:"settlement,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Info describes a story instance independent of its contents.
type Info struct {
	ID        string          `json:"id"`
	MaxLines  int             `json:"max_lines"`
	Remainder RemainderPolicy `json:"remainder_policy"`
	CreatedAt time.Time       `json:"created_at"`
}

// Record is everything persisted for one story, used to restore it.
type Record struct {
	Info
	Lines      []Line
	Donations  []Donation
	Settlement *Settlement
}

// Summary is the list-view of a story.
type Summary struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	LineCount int       `json:"line_count"`
	MaxLines  int       `json:"max_lines"`
	Balance   Amount    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}
