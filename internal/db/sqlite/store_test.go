package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/susu3304/monkibaat/internal/story"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stories.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	tick := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	svc := story.NewService(story.ServiceConfig{Store: store, MaxLines: 3, Remainder: story.RemainderToLast, Clock: clock})

	st, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	donation, _ := story.ParseAmount("1")
	if _, err := st.Donate(ctx, donation, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err != nil {
		t.Fatalf("donate: %v", err)
	}
	for _, a := range []story.Address{"alice", "bob", "carol"} {
		if _, err := st.AddLine(ctx, "line by "+string(a), a); err != nil {
			t.Fatalf("add line: %v", err)
		}
	}
	open, err := svc.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := open.AddLine(ctx, "a new beginning", "dave"); err != nil {
		t.Fatal(err)
	}

	reloaded := story.NewService(story.ServiceConfig{Store: store})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	got, err := reloaded.GetState(st.ID())
	if err != nil {
		t.Fatal(err)
	}
	want := st.State()
	if got.Status != story.StatusSettled || len(got.Lines) != 3 || got.MaxLines != 3 {
		t.Fatalf("restored state = %+v", got)
	}
	if got.Settlement == nil || len(got.Settlement.Payouts) != 3 {
		t.Fatalf("restored settlement = %+v", got.Settlement)
	}
	for i := range want.Settlement.Payouts {
		w, g := want.Settlement.Payouts[i], got.Settlement.Payouts[i]
		if w.Recipient != g.Recipient || w.Amount.Cmp(g.Amount) != 0 {
			t.Errorf("payout %d = %+v, want %+v", i, g, w)
		}
	}
	if got.Settlement.Policy != story.RemainderToLast {
		t.Errorf("policy = %s", got.Settlement.Policy)
	}
	if got.Lines[0].Text != "line by alice" || !got.Lines[0].CreatedAt.Equal(want.Lines[0].CreatedAt) {
		t.Errorf("line 0 = %+v", got.Lines[0])
	}

	cur, _ := reloaded.Current(ctx)
	if cur.ID() != open.ID() {
		t.Errorf("current = %s, want %s", cur.ID(), open.ID())
	}
	if s := cur.State(); s.Status != story.StatusOpen || len(s.Lines) != 1 {
		t.Errorf("open story state = %+v", s)
	}
}

func TestStoreRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	info := story.Info{ID: "s1", MaxLines: 10, Remainder: story.RemainderToFirst, CreatedAt: time.Now()}
	if err := store.CreateStory(ctx, info); err != nil {
		t.Fatal(err)
	}
	line := story.Line{Index: 0, Text: "x", Author: "alice", CreatedAt: time.Now()}
	if err := store.SaveLine(ctx, "s1", line); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveLine(ctx, "s1", line); !errors.Is(err, story.ErrIndexCollision) {
		t.Errorf("duplicate line err = %v, want ErrIndexCollision", err)
	}

	settlement := story.Settlement{Policy: story.RemainderToFirst, SettledAt: time.Now()}
	if err := store.SaveSettlement(ctx, "s1", settlement); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSettlement(ctx, "s1", settlement); !errors.Is(err, story.ErrAlreadyDistributed) {
		t.Errorf("duplicate settlement err = %v, want ErrAlreadyDistributed", err)
	}

	stored, err := store.LoadSettlement(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Policy != story.RemainderToFirst {
		t.Errorf("LoadSettlement = %+v", stored)
	}
	if missing, err := store.LoadSettlement(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("LoadSettlement of unsettled story = %+v, %v", missing, err)
	}
}
