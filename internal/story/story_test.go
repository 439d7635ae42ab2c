package story

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu             sync.Mutex
	infos          []Info
	lines          map[string][]Line
	donations      map[string][]Donation
	settlements    map[string]Settlement
	failLines      bool
	failSettlement int
	// lostAcks makes SaveSettlement persist but still report failure.
	lostAcks int
}

func newMemStore() *memStore {
	return &memStore{
		lines:       make(map[string][]Line),
		donations:   make(map[string][]Donation),
		settlements: make(map[string]Settlement),
	}
}

func (m *memStore) CreateStory(_ context.Context, info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, info)
	return nil
}

func (m *memStore) SaveLine(ctx context.Context, id string, line Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failLines {
		return errors.New("disk full")
	}
	m.lines[id] = append(m.lines[id], line)
	return nil
}

func (m *memStore) SaveDonation(_ context.Context, id string, d Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donations[id] = append(m.donations[id], d)
	return nil
}

func (m *memStore) SaveSettlement(_ context.Context, id string, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettlement > 0 {
		m.failSettlement--
		return errors.New("connection reset")
	}
	if _, ok := m.settlements[id]; ok {
		return ErrAlreadyDistributed
	}
	m.settlements[id] = s
	if m.lostAcks > 0 {
		m.lostAcks--
		return errors.New("connection reset")
	}
	return nil
}

func (m *memStore) LoadSettlement(_ context.Context, id string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) LoadStories(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, info := range m.infos {
		rec := Record{Info: info, Lines: m.lines[info.ID], Donations: m.donations[info.ID]}
		if s, ok := m.settlements[info.ID]; ok {
			rec.Settlement = &s
		}
		out = append(out, rec)
	}
	return out, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func author(i int) Address {
	return Address(fmt.Sprintf("0x%040x", i+1))
}

func mustAmount(t *testing.T, s string) Amount {
	t.Helper()
	a, err := ParseAmount(s)
	if err != nil {
		t.Fatalf("ParseAmount(%q): %v", s, err)
	}
	return a
}

func TestStoryCompletionScenario(t *testing.T) {
	ctx := context.Background()
	rec := &eventRecorder{}
	st := New("s1", Options{Notifier: rec})

	for i := 0; i < 9; i++ {
		if _, err := st.AddLine(ctx, fmt.Sprintf("line %d", i), author(i)); err != nil {
			t.Fatalf("AddLine %d: %v", i, err)
		}
	}
	if st.Status() != StatusOpen {
		t.Fatalf("status = %s, want open", st.Status())
	}
	if _, err := st.Donate(ctx, mustAmount(t, "0.4"), "donor"); err != nil {
		t.Fatal(err)
	}
	bal, err := st.Donate(ctx, mustAmount(t, "0.6"), "donor")
	if err != nil {
		t.Fatal(err)
	}
	if bal.String() != "1" {
		t.Fatalf("balance = %s, want 1", bal)
	}

	line, err := st.AddLine(ctx, "The end.", author(9))
	if err != nil {
		t.Fatalf("final AddLine: %v", err)
	}
	if line.Index != 9 {
		t.Errorf("final index = %d, want 9", line.Index)
	}

	state := st.State()
	if !state.Completed || state.Status != StatusSettled {
		t.Fatalf("state = %s completed=%v", state.Status, state.Completed)
	}
	if !state.Balance.IsZero() {
		t.Errorf("balance after payout = %s", state.Balance)
	}
	if state.ContributorsCount != 10 || state.ProgressPercent != 100 || state.LinesRemaining != 0 {
		t.Errorf("state counts = %+v", state)
	}
	if state.Settlement == nil || len(state.Settlement.Payouts) != 10 {
		t.Fatalf("settlement = %+v", state.Settlement)
	}
	for i, p := range state.Settlement.Payouts {
		if p.Amount.String() != "0.1" {
			t.Errorf("payout %d = %s, want 0.1", i, p.Amount)
		}
		if p.Recipient != author(i) {
			t.Errorf("payout %d recipient = %s", i, p.Recipient)
		}
	}
	if n := rec.count(EventPayout); n != 10 {
		t.Errorf("payout events = %d, want 10", n)
	}
	if n := rec.count(EventSettled); n != 1 {
		t.Errorf("settled events = %d, want 1", n)
	}

	if _, err := st.AddLine(ctx, "an eleventh line", author(11)); !errors.Is(err, ErrStoryComplete) {
		t.Errorf("11th line err = %v, want ErrStoryComplete", err)
	}
	if got := len(st.Snapshot().Lines); got != 10 {
		t.Errorf("ledger length = %d, want 10", got)
	}
	if _, err := st.Donate(ctx, mustAmount(t, "1"), "late"); !errors.Is(err, ErrStoryComplete) {
		t.Errorf("late donation err = %v, want ErrStoryComplete", err)
	}
	if !st.State().Balance.IsZero() {
		t.Error("late donation changed balance")
	}
}

func TestStoryDuplicateAuthorsShareByUniqueContributor(t *testing.T) {
	ctx := context.Background()
	st := New("s1", Options{MaxLines: 4})
	st.Donate(ctx, NewAmount(7), "donor")
	for _, a := range []Address{"alice", "bob", "alice", "bob"} {
		if _, err := st.AddLine(ctx, "text", a); err != nil {
			t.Fatal(err)
		}
	}
	s := st.State().Settlement
	if s == nil || len(s.Payouts) != 2 {
		t.Fatalf("settlement = %+v", s)
	}
	if s.Payouts[0].Recipient != "alice" || s.Payouts[0].Amount.WeiString() != "4" {
		t.Errorf("first payout = %+v", s.Payouts[0])
	}
	if s.Payouts[1].Amount.WeiString() != "3" {
		t.Errorf("second payout = %+v", s.Payouts[1])
	}
}

func TestStoryConcurrentFinalSlot(t *testing.T) {
	for round := 0; round < 50; round++ {
		ctx := context.Background()
		rec := &eventRecorder{}
		st := New("race", Options{MaxLines: 10, Notifier: rec})
		for i := 0; i < 9; i++ {
			if _, err := st.AddLine(ctx, "x", author(i)); err != nil {
				t.Fatal(err)
			}
		}

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok, rejected int
		start := make(chan struct{})
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				<-start
				line, err := st.AddLine(ctx, "last", author(100+w))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
					if line.Index != 9 {
						t.Errorf("winner index = %d", line.Index)
					}
				case errors.Is(err, ErrStoryComplete):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(w)
		}
		close(start)
		wg.Wait()

		if ok != 1 || rejected != writers-1 {
			t.Fatalf("round %d: ok=%d rejected=%d", round, ok, rejected)
		}
		if n := rec.count(EventStoryCompleted); n != 1 {
			t.Fatalf("round %d: completion events = %d", round, n)
		}
		if n := rec.count(EventSettled); n != 1 {
			t.Fatalf("round %d: settled events = %d", round, n)
		}
	}
}

func TestStoryConcurrentReadsAreConsistent(t *testing.T) {
	ctx := context.Background()
	st := New("reads", Options{MaxLines: 10})
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s := st.State()
			if len(s.Lines) != len(s.Authors) {
				t.Errorf("torn read: %d lines, %d authors", len(s.Lines), len(s.Authors))
				return
			}
			if s.Completed != (len(s.Lines) == s.MaxLines) {
				t.Errorf("completed=%v with %d lines", s.Completed, len(s.Lines))
				return
			}
			if s.Status == StatusSettled && !s.Balance.IsZero() {
				t.Errorf("settled with balance %s", s.Balance)
				return
			}
		}
	}()

	for i := 0; i < 10; i++ {
		st.Donate(ctx, NewAmount(int64(i+1)), "donor")
		if _, err := st.AddLine(ctx, "line", author(i)); err != nil {
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()
}

func TestStoryFailedWriteReservesNoIndex(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	st := New("s", Options{Store: store})

	if _, err := st.AddLine(ctx, "first", "alice"); err != nil {
		t.Fatal(err)
	}
	store.failLines = true
	if _, err := st.AddLine(ctx, "second", "bob"); err == nil {
		t.Fatal("expected store error")
	}
	store.failLines = false

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := st.AddLine(cancelled, "cancelled", "carol"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled AddLine err = %v", err)
	}

	line, err := st.AddLine(ctx, "third", "dave")
	if err != nil {
		t.Fatal(err)
	}
	if line.Index != 1 {
		t.Errorf("index after failures = %d, want 1", line.Index)
	}
	if got := len(store.lines["s"]); got != 2 {
		t.Errorf("stored lines = %d, want 2", got)
	}
}

func TestStoryPendingPayoutThenSettle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failSettlement = 1
	rec := &eventRecorder{}
	st := New("s", Options{MaxLines: 2, Store: store, Notifier: rec})

	if _, err := st.Settle(ctx); !errors.Is(err, ErrStoryOpen) {
		t.Fatalf("Settle on open story err = %v", err)
	}
	st.Donate(ctx, NewAmount(10), "donor")
	st.AddLine(ctx, "a", "alice")
	if _, err := st.AddLine(ctx, "b", "bob"); err != nil {
		t.Fatalf("completing line should succeed even if payout fails: %v", err)
	}
	if st.Status() != StatusPendingPayout {
		t.Fatalf("status = %s, want pending payout", st.Status())
	}
	if st.State().Balance.WeiString() != "10" {
		t.Errorf("balance while pending = %s", st.State().Balance.WeiString())
	}
	if _, err := st.Donate(ctx, NewAmount(1), "donor"); !errors.Is(err, ErrStoryComplete) {
		t.Errorf("donation while pending err = %v", err)
	}
	if rec.count(EventPayout) != 0 {
		t.Error("payout events emitted before settlement persisted")
	}

	s, err := st.Settle(ctx)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if s.PaidOut().WeiString() != "10" {
		t.Errorf("paid out = %s", s.PaidOut().WeiString())
	}
	if st.Status() != StatusSettled {
		t.Errorf("status = %s", st.Status())
	}
	_, err = st.Settle(ctx)
	if !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second Settle err = %v, want ErrAlreadySettled", err)
	}
	if !errors.Is(err, ErrValidation) || errors.Is(err, ErrInvariantViolation) {
		t.Errorf("second Settle err = %v should be a validation error only", err)
	}
	if rec.count(EventPayout) != 2 || rec.count(EventSettled) != 1 {
		t.Errorf("events: payouts=%d settled=%d", rec.count(EventPayout), rec.count(EventSettled))
	}
}

func TestSettleAfterSettledIsValidationError(t *testing.T) {
	ctx := context.Background()
	rec := &eventRecorder{}
	st := New("s", Options{MaxLines: 1, Notifier: rec})
	st.Donate(ctx, NewAmount(5), "donor")
	if _, err := st.AddLine(ctx, "only line", "alice"); err != nil {
		t.Fatal(err)
	}
	if st.Status() != StatusSettled {
		t.Fatalf("status = %s, want settled", st.Status())
	}

	_, err := st.Settle(ctx)
	if !errors.Is(err, ErrAlreadySettled) || !errors.Is(err, ErrValidation) {
		t.Fatalf("Settle on settled story err = %v, want ErrAlreadySettled", err)
	}
	if errors.Is(err, ErrInvariantViolation) {
		t.Errorf("err = %v must not be an invariant violation", err)
	}
	if n := rec.count(EventSettled); n != 1 {
		t.Errorf("settled events = %d, want 1", n)
	}
}

func TestSettleAdoptsPersistedSettlement(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.lostAcks = 1
	rec := &eventRecorder{}
	st := New("s", Options{MaxLines: 2, Store: store, Notifier: rec})
	store.CreateStory(ctx, st.Info())

	st.Donate(ctx, NewAmount(7), "donor")
	st.AddLine(ctx, "a", "alice")
	if _, err := st.AddLine(ctx, "b", "bob"); err != nil {
		t.Fatal(err)
	}
	if st.Status() != StatusPendingPayout {
		t.Fatalf("status after lost ack = %s, want pending", st.Status())
	}

	s, err := st.Settle(ctx)
	if err != nil {
		t.Fatalf("Settle after lost ack: %v", err)
	}
	if st.Status() != StatusSettled {
		t.Errorf("status = %s, want settled", st.Status())
	}
	stored := store.settlements["s"]
	if s.Total.Cmp(stored.Total) != 0 || !s.SettledAt.Equal(stored.SettledAt) || len(s.Payouts) != len(stored.Payouts) {
		t.Errorf("adopted settlement %+v differs from stored %+v", s, stored)
	}
	if got := st.State().Settlement; got == nil || got.PaidOut().WeiString() != "7" {
		t.Errorf("state settlement = %+v", got)
	}
	if n := rec.count(EventSettled); n != 1 {
		t.Errorf("settled events = %d, want 1", n)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	st := New("s", Options{MaxLines: 3, Store: store, Clock: clock})
	store.CreateStory(ctx, st.Info())
	st.Donate(ctx, NewAmount(9), "donor")
	for i := 0; i < 3; i++ {
		if _, err := st.AddLine(ctx, "x", author(i)); err != nil {
			t.Fatal(err)
		}
	}

	records, _ := store.LoadStories(ctx)
	restored, err := Restore(records[0], Options{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	want, got := st.State(), restored.State()
	if got.Status != StatusSettled || len(got.Lines) != 3 || !got.Balance.IsZero() {
		t.Errorf("restored state = %+v", got)
	}
	if got.Settlement.PaidOut().Cmp(want.Settlement.PaidOut()) != 0 {
		t.Errorf("restored payout %s, want %s", got.Settlement.PaidOut(), want.Settlement.PaidOut())
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}
