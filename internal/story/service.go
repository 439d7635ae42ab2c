package story

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Service owns every story instance and is the query facade the transports use.
type Service struct {
	mu        sync.RWMutex
	stories   map[string]*Story
	order     []string
	notifiers multiNotifier

	store     Store
	maxLines  int
	remainder RemainderPolicy
	clock     func() time.Time
}

type ServiceConfig struct {
	MaxLines  int
	Remainder RemainderPolicy
	Store     Store
	Clock     func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		stories:   make(map[string]*Story),
		store:     cfg.Store,
		maxLines:  cfg.MaxLines,
		remainder: cfg.Remainder,
		clock:     cfg.Clock,
	}
}

// Subscribe registers n for events of every story, existing and future.
// It must be called before the service starts serving requests.
func (s *Service) Subscribe(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

func (s *Service) options() Options {
	return Options{
		MaxLines:  s.maxLines,
		Remainder: s.remainder,
		Store:     s.store,
		Notifier:  NotifierFunc(s.notify),
		Clock:     s.clock,
	}
}

func (s *Service) notify(ctx context.Context, ev Event) {
	s.mu.RLock()
	notifiers := s.notifiers
	s.mu.RUnlock()
	notifiers.Notify(ctx, ev)
}

// Load restores all stories from the store.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	records, err := s.store.LoadStories(ctx)
	if err != nil {
		return fmt.Errorf("load stories: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		st, err := Restore(rec, s.options())
		if err != nil {
			return fmt.Errorf("restore story %s: %w", rec.ID, err)
		}
		if _, ok := s.stories[st.ID()]; ok {
			continue
		}
		s.stories[st.ID()] = st
		s.order = append(s.order, st.ID())
	}
	logrus.WithField("stories", len(records)).Info("stories restored")
	return nil
}

// Create starts a new story.
func (s *Service) Create(ctx context.Context) (*Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx)
}

func (s *Service) createLocked(ctx context.Context) (*Story, error) {
	st := New(uuid.NewString(), s.options())
	if s.store != nil {
		if err := s.store.CreateStory(ctx, st.Info()); err != nil {
			return nil, fmt.Errorf("create story: %w", err)
		}
	}
	s.stories[st.ID()] = st
	s.order = append(s.order, st.ID())
	logrus.WithField("story_id", st.ID()).Info("story created")
	return st, nil
}

// Current returns the newest story, creating the first one if none exist.
func (s *Service) Current(ctx context.Context) (*Story, error) {
	s.mu.RLock()
	if n := len(s.order); n > 0 {
		st := s.stories[s.order[n-1]]
		s.mu.RUnlock()
		return st, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.order); n > 0 {
		return s.stories[s.order[n-1]], nil
	}
	return s.createLocked(ctx)
}

// Latest returns the newest story without creating one.
func (s *Service) Latest() (*Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.order); n > 0 {
		return s.stories[s.order[n-1]], nil
	}
	return nil, ErrStoryNotFound
}

func (s *Service) Get(id string) (*Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stories[id]
	if !ok {
		return nil, ErrStoryNotFound
	}
	return st, nil
}

// List returns summaries, newest first.
func (s *Service) List() []Summary {
	s.mu.RLock()
	stories := make([]*Story, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		stories = append(stories, s.stories[s.order[i]])
	}
	s.mu.RUnlock()

	out := make([]Summary, len(stories))
	for i, st := range stories {
		out[i] = st.Summary()
	}
	return out
}

// PendingPayouts returns completed stories whose payout has not happened yet.
func (s *Service) PendingPayouts() []*Story {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Story
	for _, id := range s.order {
		if st := s.stories[id]; st.Status() == StatusPendingPayout {
			out = append(out, st)
		}
	}
	return out
}

// GetState is the read-only view of a story.
func (s *Service) GetState(id string) (State, error) {
	st, err := s.Get(id)
	if err != nil {
		return State{}, err
	}
	return st.State(), nil
}

func (s *Service) AddLine(ctx context.Context, id, text string, author Address) (Line, error) {
	st, err := s.Get(id)
	if err != nil {
		return Line{}, err
	}
	return st.AddLine(ctx, text, author)
}

func (s *Service) Donate(ctx context.Context, id string, amount Amount, from Address) (Amount, error) {
	st, err := s.Get(id)
	if err != nil {
		return Amount{}, err
	}
	return st.Donate(ctx, amount, from)
}
