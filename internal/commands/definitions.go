package commands

import (
	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/monkibaat/internal/story"
)

func GetCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:         "story",
			Description:  "みんなで物語をつなぎます",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "現在の物語と報酬プールを表示します",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "物語に一行追加します",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "text",
							Description: "追加する一行",
							Required:    true,
							MaxLength:   story.MaxLineLength,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "donate",
					Description: "報酬プールに寄付します",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "amount",
							Description: "寄付額 (例: 0.5)",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "物語の一覧を表示します",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "new",
					Description: "新しい物語を始めます",
				},
			},
		},
		{
			Name:         "settle",
			Description:  "完成した物語の保留中の分配を再実行します",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "story_id",
					Description: "物語ID (省略時は現在の物語)",
				},
			},
			DefaultMemberPermissions: &manageGuild,
		},
	}
}

var manageGuild int64 = discordgo.PermissionManageServer

func boolPtr(b bool) *bool {
	return &b
}
