package payout

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/story"
)

// Source lists the completed stories still waiting for their payout.
type Source interface {
	PendingPayouts() []*story.Story
}

// Worker periodically retries pending payouts, e.g. after the store was
// unavailable at completion time or after a restart.
type Worker struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	done     chan struct{}
	ticker   *time.Ticker
}

func NewWorker(source Source, interval time.Duration) *Worker {
	return &Worker{
		source:   source,
		interval: interval,
		timeout:  30 * time.Second,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one pass immediately, then one per interval.
func (w *Worker) Start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	go w.loop()
}

func (w *Worker) Stop() {
	if w == nil || w.ticker == nil {
		return
	}
	close(w.stopChan)
	w.ticker.Stop()
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	ctx := context.Background()
	w.Tick(ctx)
	for {
		select {
		case <-w.ticker.C:
			w.Tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

// Tick settles every pending story once and returns how many succeeded.
func (w *Worker) Tick(ctx context.Context) int {
	settled := 0
	for _, st := range w.source.PendingPayouts() {
		select {
		case <-w.stopChan:
			return settled
		default:
		}

		tctx, cancel := context.WithTimeout(ctx, w.timeout)
		s, err := st.Settle(tctx)
		cancel()
		if errors.Is(err, story.ErrAlreadySettled) {
			// Settled elsewhere, e.g. by /settle, since PendingPayouts ran.
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"story_id": st.ID(),
				"error":    err,
			}).Warn("payout: settlement still pending")
			continue
		}
		settled++
		logrus.WithFields(logrus.Fields{
			"story_id":   st.ID(),
			"total":      s.Total.String(),
			"recipients": len(s.Payouts),
		}).Info("payout: pending story settled")
	}
	return settled
}
