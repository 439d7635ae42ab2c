package commands

import (
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/story"
)

func respondText(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		logrus.WithError(err).Warn("failed to respond to interaction")
	}
}

// respondChunks answers with the first chunk and sends the rest as follow-ups.
func respondChunks(s *discordgo.Session, i *discordgo.InteractionCreate, chunks []string) {
	if len(chunks) == 0 {
		return
	}
	respondText(s, i, chunks[0])
	for _, chunk := range chunks[1:] {
		if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: chunk}); err != nil {
			logrus.WithError(err).Warn("failed to send follow-up message")
			return
		}
	}
}

// respondError replies privately; unexpected errors are logged.
func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	if !errors.Is(err, story.ErrValidation) && !errors.Is(err, story.ErrStoryNotFound) {
		logCommandError(i, err)
	}
	rerr := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: userMessage(err),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if rerr != nil {
		logrus.WithError(rerr).Warn("failed to respond to interaction")
	}
}
