package bot

import "github.com/bwmarrin/discordgo"

func (b *Bot) registerCommands() error {
	manageGuild := int64(discordgo.PermissionManageServer)
	moderate := int64(discordgo.PermissionModerateMembers)
	guildOnly := false

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "verification",
			Description:              "Configure captcha verification",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show the current verification setup"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "enable", Description: "Turn verification on and post the prompt"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "disable", Description: "Turn verification off and remove the prompt"},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Set the channel the prompt is posted in",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Verification channel",
							Required:     true,
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "prompt",
					Description: "Change how the prompt looks",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "Prompt text", MaxLength: 4096},
						{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Embed title", MaxLength: 256},
						{Type: discordgo.ApplicationCommandOptionString, Name: "color", Description: "Embed color, e.g. #0099ff"},
						{Type: discordgo.ApplicationCommandOptionString, Name: "image_url", Description: "https image shown in the embed"},
						{Type: discordgo.ApplicationCommandOptionString, Name: "ping", Description: "Message content, e.g. @here", MaxLength: 200},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "roles",
					Description: "Set roles given on join or removed/added on verify",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "target",
							Description: "join or verify",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "join", Value: "join"},
								{Name: "verify", Value: "verify"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "list",
							Description: "Comma separated role ids, names or mentions; none to clear",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "kind",
					Description: "Choose the challenge type",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "value",
							Description: "image or math",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "image", Value: "image"},
								{Name: "math", Value: "math"},
							},
						},
					},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "send", Description: "Post the prompt now if it is missing"},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "stats",
					Description: "Verification activity",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "period",
							Description: "day or week",
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "day", Value: "day"},
								{Name: "week", Value: "week"},
							},
						},
					},
				},
			},
		},
		{
			Name:                     "spam",
			Description:              "Spam thresholds",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "view", Description: "Show the current thresholds"},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Change the thresholds",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "messages", Description: "Messages allowed per window"},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "window", Description: "Window length in seconds"},
					},
				},
			},
		},
		{
			Name:                     "warn",
			Description:              "Warn a member",
			DefaultMemberPermissions: &moderate,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to warn", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", MaxLength: 512},
			},
		},
		{
			Name:                     "warnings",
			Description:              "List a member's warnings",
			DefaultMemberPermissions: &moderate,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
			},
		},
		{
			Name:                     "clearwarnings",
			Description:              "Remove all of a member's warnings",
			DefaultMemberPermissions: &moderate,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
			},
		},
	}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		guildID := guild.ID
		guildCmds, err := b.session.ApplicationCommands(appID, guildID)
		if err != nil {
			continue
		}
		for _, cmd := range guildCmds {
			if _, ok := desired[cmd.Name]; ok {
				continue
			}
			_ = b.session.ApplicationCommandDelete(appID, guildID, cmd.ID)
		}
	}
	return nil
}
