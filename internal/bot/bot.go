package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/story"
)

type Bot struct {
	session   *discordgo.Session
	stories   *story.Service
	announcer *announcer
}

// New creates the bot. Story events are announced to channelID when it is set.
func New(token string, stories *story.Service, channelID string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		stories: stories,
	}
	if channelID != "" {
		bot.announcer = newAnnouncer(session, channelID)
		stories.Subscribe(bot.announcer)
	}

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.announcer.start()
	logrus.Info("Discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	b.announcer.stop()
	return b.session.Close()
}
