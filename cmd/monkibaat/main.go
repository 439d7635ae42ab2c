package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/api"
	"github.com/susu3304/monkibaat/internal/bot"
	"github.com/susu3304/monkibaat/internal/config"
	"github.com/susu3304/monkibaat/internal/db"
	"github.com/susu3304/monkibaat/internal/db/sqlite"
	"github.com/susu3304/monkibaat/internal/payout"
	"github.com/susu3304/monkibaat/internal/story"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logrus.SetLevel(cfg.LogLevel)

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	stories := story.NewService(story.ServiceConfig{
		MaxLines:  cfg.MaxLines,
		Remainder: cfg.RemainderPolicy,
		Store:     store,
	})
	stories.Subscribe(story.NotifierFunc(logEvent))

	// Initialize Discord bot
	var discordBot *bot.Bot
	if cfg.DiscordToken != "" {
		discordBot, err = bot.New(cfg.DiscordToken, stories, cfg.StoryChannelID)
		if err != nil {
			logrus.Fatalf("Failed to create discord bot: %v", err)
		}
	}

	if err := stories.Load(context.Background()); err != nil {
		logrus.Fatalf("Failed to load stories: %v", err)
	}
	// Reads never create stories, so make sure one exists before serving.
	if _, err := stories.Current(context.Background()); err != nil {
		logrus.Fatalf("Failed to create the first story: %v", err)
	}

	worker := payout.NewWorker(stories, cfg.PayoutRetryInterval)
	worker.Start()
	defer worker.Stop()

	// Start Discord bot
	if discordBot != nil {
		if err := discordBot.Start(); err != nil {
			logrus.Fatalf("Failed to start discord bot: %v", err)
		}
		defer discordBot.Stop()
	} else {
		logrus.Info("DISCORD_TOKEN is not set, running without the Discord bot")
	}

	// Start API server
	apiServer := api.New(cfg, stories)
	go func() {
		if err := apiServer.Start(); err != nil {
			logrus.Errorf("API server error: %v", err)
		}
	}()

	// Wait for signal to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logrus.Warnf("API server shutdown: %v", err)
	}
}

// openStore picks Postgres, then SQLite, then memory only.
func openStore(ctx context.Context, cfg *config.Config) (story.Store, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		logrus.Info("Using PostgreSQL store")
		return database, database.Close, nil
	case cfg.SQLitePath != "":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logrus.Infof("Using SQLite store at %s", cfg.SQLitePath)
		return s, func() {
			if err := s.Close(); err != nil {
				logrus.Warnf("close sqlite: %v", err)
			}
		}, nil
	default:
		logrus.Warn("No DATABASE_URL or SQLITE_PATH set, stories are kept in memory only")
		return nil, func() {}, nil
	}
}

func logEvent(_ context.Context, ev story.Event) {
	entry := logrus.WithFields(logrus.Fields{
		"story_id": ev.StoryID,
		"event":    ev.Kind,
	})
	switch ev.Kind {
	case story.EventLineAdded:
		entry.WithFields(logrus.Fields{"index": ev.Line.Index, "author": ev.Line.Author}).Info("line added")
	case story.EventDonation:
		entry.WithFields(logrus.Fields{"from": ev.Donation.From, "amount": ev.Donation.Amount.String(), "balance": ev.Balance.String()}).Info("donation received")
	case story.EventStoryCompleted:
		entry.WithField("balance", ev.Balance.String()).Info("story completed")
	case story.EventPayout:
		entry.WithFields(logrus.Fields{"recipient": ev.Payout.Recipient, "amount": ev.Payout.Amount.String()}).Info("payout")
	case story.EventSettled:
		entry.WithField("total", ev.Settlement.Total.String()).Info("story settled")
	}
}
