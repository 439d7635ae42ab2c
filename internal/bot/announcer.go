package bot

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/commands"
	"github.com/susu3304/monkibaat/internal/story"
)

const announceQueueSize = 64

// announcer posts story events to the story channel from its own goroutine,
// so story operations never wait on Discord.
type announcer struct {
	session   announceSession
	channelID string
	queue     chan string
	stopChan  chan struct{}
	done      chan struct{}
	started   bool
	backoff   func() time.Duration
}

// Minimal session interface for sending channel messages.
type announceSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func newAnnouncer(session announceSession, channelID string) *announcer {
	return &announcer{
		session:   session,
		channelID: channelID,
		queue:     make(chan string, announceQueueSize),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		backoff: func() time.Duration {
			return time.Duration(300+rand.Intn(500)) * time.Millisecond
		},
	}
}

// Notify implements story.Notifier. Events are dropped when the queue is full.
func (a *announcer) Notify(_ context.Context, ev story.Event) {
	msg := commands.FormatEvent(ev)
	if msg == "" {
		return
	}
	select {
	case a.queue <- msg:
	default:
		logrus.WithFields(logrus.Fields{
			"story_id": ev.StoryID,
			"kind":     ev.Kind,
		}).Warn("announce: queue full, dropping event")
	}
}

func (a *announcer) start() {
	if a == nil {
		return
	}
	a.started = true
	go a.loop()
}

func (a *announcer) stop() {
	if a == nil || !a.started {
		return
	}
	close(a.stopChan)
	<-a.done
}

func (a *announcer) loop() {
	defer close(a.done)
	ctx := context.Background()
	for {
		select {
		case msg := <-a.queue:
			if err := a.sendWithRetry(ctx, msg); err != nil {
				logrus.WithError(err).Warnf("announce: failed to send message to channel %s", a.channelID)
			}
		case <-a.stopChan:
			return
		}
	}
}

func (a *announcer) sendWithRetry(ctx context.Context, content string) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		_, err := a.session.ChannelMessageSend(a.channelID, content, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(a.backoff())
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
