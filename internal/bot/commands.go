package bot

import (
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func filterChoices(withAll bool) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(storage.FilterNames)+1)
	for _, name := range storage.FilterNames {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(name), Value: string(name)})
	}
	if withAll {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(storage.FilterAll), Value: string(storage.FilterAll)})
	}
	return choices
}

func reactEventChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(storage.ReactEvents))
	for _, event := range storage.ReactEvents {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(event), Value: string(event)})
	}
	return choices
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Description: description, Required: required}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: name, Description: description, Options: options}
}

func group(name, description string, subcommands ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommandGroup, Name: name, Description: description, Options: subcommands}
}

func automodCommand() *discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	dm := false

	return &discordgo.ApplicationCommand{
		Name:        "automod",
		Description: "Configure the chat filter",
		DescriptionLocalizations: &map[discordgo.Locale]string{
			discordgo.French:    "Configurer le filtre de discussion",
			discordgo.EnglishUS: "Configure the chat filter",
			discordgo.SpanishES: "Configurar el filtro de chat",
		},
		DefaultMemberPermissions: &manageGuild,
		DMPermission:             &dm,
		Options: []*discordgo.ApplicationCommandOption{
			group("filter", "Filter toggles",
				subcommand("set", "Enable or disable a filter",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "filter", Required: true, Choices: filterChoices(false)},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "on or off", Required: true},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "threshold", Description: "trigger count"},
				),
				subcommand("list", "Show filter settings"),
				subcommand("reset", "Disable every filter and clear the punishment"),
			),
			group("punishment", "What happens when a filter fires",
				subcommand("set", "Set the punishment",
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "kind", Description: "punishment", Required: true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "timeout", Value: "timeout"},
							{Name: "kick", Value: "kick"},
							{Name: "ban", Value: "ban"},
							{Name: "jail", Value: "jail"},
						},
					},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "timeout_seconds", Description: "timeout length"},
				),
			),
			group("keyword", "Chat filter keywords",
				subcommand("add", "Add a keyword, prefix* for wildcards", stringOption("word", "keyword", true)),
				subcommand("remove", "Remove a keyword", stringOption("word", "keyword", true)),
				subcommand("list", "List keywords"),
			),
			group("whitelist", "Exempt users, roles or channels",
				subcommand("add", "Exempt a subject",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "filter", Description: "filter to exempt from", Required: true, Choices: filterChoices(true)},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "role"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "channel"},
				),
				subcommand("remove", "Remove an exemption",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "role"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "channel"},
				),
			),
			group("domain", "Link filter allowlist",
				subcommand("add", "Allow a domain", stringOption("domain", "domain", true)),
				subcommand("remove", "Disallow a domain", stringOption("domain", "domain", true)),
				subcommand("list", "List allowed domains"),
			),
			group("autoresponder", "Automatic replies",
				subcommand("add", "Add or replace a trigger",
					stringOption("trigger", "trigger, trigger* for wildcards", true),
					stringOption("response", "response", true),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "strict", Description: "whole message must match"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "reply", Description: "answer as a reply"},
				),
				subcommand("remove", "Remove a trigger", stringOption("trigger", "trigger", true)),
			),
			group("autoreact", "Automatic reactions",
				subcommand("keyword", "React when a keyword appears", stringOption("keyword", "keyword", true), stringOption("reaction", "emoji", true)),
				subcommand("event", "React to a kind of message",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "event", Description: "event", Required: true, Choices: reactEventChoices()},
					stringOption("reaction", "emoji", true),
				),
				subcommand("remove", "Remove a reaction everywhere", stringOption("reaction", "emoji", true)),
			),
			group("jail", "Jail punishment",
				subcommand("role", "Set the jail role",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "jail role", Required: true},
				),
				subcommand("release", "Give a jailed member their roles back",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "member", Required: true},
				),
			),
			subcommand("report", "Punishments over the last days",
				&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "days, default 7"},
			),
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{automodCommand()}

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
	return nil
}
