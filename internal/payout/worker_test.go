package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/susu3304/monkibaat/internal/story"
)

// flakyStore accepts everything except settlements while down is set.
type flakyStore struct {
	mu          sync.Mutex
	down        bool
	settlements int
}

func (s *flakyStore) CreateStory(context.Context, story.Info) error { return nil }
func (s *flakyStore) SaveLine(context.Context, string, story.Line) error { return nil }
func (s *flakyStore) SaveDonation(context.Context, string, story.Donation) error { return nil }
func (s *flakyStore) LoadStories(context.Context) ([]story.Record, error) { return nil, nil }
func (s *flakyStore) LoadSettlement(context.Context, string) (*story.Settlement, error) {
	return nil, nil
}

func (s *flakyStore) SaveSettlement(context.Context, string, story.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("store unavailable")
	}
	s.settlements++
	return nil
}

func (s *flakyStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func author(i int) story.Address {
	return story.Address(fmt.Sprintf("0x%040x", i+1))
}

// pendingStory completes a story while settlements fail.
func pendingStory(t *testing.T, svc *story.Service, store *flakyStore) *story.Story {
	t.Helper()
	ctx := context.Background()
	st, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	amount, _ := story.ParseAmount("0.3")
	if _, err := st.Donate(ctx, amount, author(9)); err != nil {
		t.Fatalf("Donate: %v", err)
	}
	store.setDown(true)
	for i := 0; i < 3; i++ {
		if _, err := st.AddLine(ctx, fmt.Sprintf("line %d", i), author(i)); err != nil {
			t.Fatalf("AddLine %d: %v", i, err)
		}
	}
	if st.Status() != story.StatusPendingPayout {
		t.Fatalf("status = %s, want %s", st.Status(), story.StatusPendingPayout)
	}
	return st
}

func TestTickSettlesPendingStories(t *testing.T) {
	store := &flakyStore{}
	svc := story.NewService(story.ServiceConfig{MaxLines: 3, Store: store})
	st := pendingStory(t, svc, store)

	w := NewWorker(svc, time.Hour)
	if n := w.Tick(context.Background()); n != 0 {
		t.Errorf("Tick while store is down settled %d stories", n)
	}
	if st.Status() != story.StatusPendingPayout {
		t.Fatalf("status = %s after failed tick", st.Status())
	}

	store.setDown(false)
	if n := w.Tick(context.Background()); n != 1 {
		t.Fatalf("Tick settled %d stories, want 1", n)
	}
	if st.Status() != story.StatusSettled {
		t.Fatalf("status = %s, want settled", st.Status())
	}
	settlement := st.State().Settlement
	if settlement == nil || len(settlement.Payouts) != 3 || settlement.Payouts[0].Amount.String() != "0.1" {
		t.Errorf("settlement = %+v", settlement)
	}

	if n := w.Tick(context.Background()); n != 0 {
		t.Errorf("second Tick settled %d stories", n)
	}
	if store.settlements != 1 {
		t.Errorf("settlements persisted = %d, want 1", store.settlements)
	}
}

func TestTickAndManualSettleRace(t *testing.T) {
	for round := 0; round < 20; round++ {
		store := &flakyStore{}
		svc := story.NewService(story.ServiceConfig{MaxLines: 3, Store: store})
		var mu sync.Mutex
		settledEvents := 0
		svc.Subscribe(story.NotifierFunc(func(_ context.Context, ev story.Event) {
			if ev.Kind == story.EventSettled {
				mu.Lock()
				settledEvents++
				mu.Unlock()
			}
		}))
		st := pendingStory(t, svc, store)
		store.setDown(false)
		w := NewWorker(svc, time.Hour)

		var wg sync.WaitGroup
		var ticked int
		var manualErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			ticked = w.Tick(context.Background())
		}()
		go func() {
			defer wg.Done()
			<-start
			_, manualErr = st.Settle(context.Background())
		}()
		close(start)
		wg.Wait()

		manualOK := manualErr == nil
		if manualErr != nil && !errors.Is(manualErr, story.ErrAlreadySettled) {
			t.Fatalf("round %d: manual Settle err = %v, want nil or ErrAlreadySettled", round, manualErr)
		}
		successes := ticked
		if manualOK {
			successes++
		}
		if successes != 1 {
			t.Fatalf("round %d: %d successful settlements, want 1", round, successes)
		}
		if settledEvents != 1 {
			t.Fatalf("round %d: settled events = %d, want 1", round, settledEvents)
		}
		if store.settlements != 1 {
			t.Fatalf("round %d: settlements persisted = %d, want 1", round, store.settlements)
		}
	}
}

func TestWorkerStartStop(t *testing.T) {
	store := &flakyStore{}
	svc := story.NewService(story.ServiceConfig{MaxLines: 3, Store: store})
	st := pendingStory(t, svc, store)
	store.setDown(false)

	w := NewWorker(svc, time.Hour)
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for st.Status() != story.StatusSettled {
		if time.Now().After(deadline) {
			t.Fatal("worker did not settle the pending story")
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	w := NewWorker(&story.Service{}, time.Minute)
	w.Stop()

	var nilWorker *Worker
	nilWorker.Start()
	nilWorker.Stop()
}
