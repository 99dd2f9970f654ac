package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/logger"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/modules/jail"
	"sentinel-automod/internal/modules/punish"
	"sentinel-automod/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction  = 0x5865F2
	colorWarning = 0xFEE75C
	colorError   = 0xED4245

	commandTitle      = "Automod"
	defaultReportDays = 7
)

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func (o options) text(name string) string {
	if opt, ok := o[name]; ok {
		if value, ok := opt.Value.(string); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (o options) number(name string) (int, bool) {
	opt, ok := o[name]
	if !ok {
		return 0, false
	}
	switch value := opt.Value.(type) {
	case float64:
		return int(value), true
	case int64:
		return int(value), true
	case int:
		return value, true
	}
	return 0, false
}

func (o options) flag(name string) bool {
	if opt, ok := o[name]; ok {
		if value, ok := opt.Value.(bool); ok {
			return value
		}
	}
	return false
}

// commandPath flattens subcommand groups into "group subcommand" and returns
// the leaf options by name.
func commandPath(opts []*discordgo.ApplicationCommandInteractionDataOption) (string, options) {
	var parts []string
	for len(opts) == 1 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup || opts[0].Type == discordgo.ApplicationCommandOptionSubCommand) {
		parts = append(parts, opts[0].Name)
		opts = opts[0].Options
	}
	leaf := make(options, len(opts))
	for _, opt := range opts {
		leaf[opt.Name] = opt
	}
	return strings.Join(parts, " "), leaf
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	if data.Name != "automod" {
		return
	}
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed(commandTitle, "This command only works in a server.", colorError, nil), true)
		return
	}
	if !b.memberHasManageGuild(interaction.Member) {
		b.respondEmbed(session, interaction, b.commandEmbed(commandTitle, "You need the Manage Server permission.", colorError, nil), true)
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()

	path, opts := commandPath(data.Options)
	actorID := ""
	if interaction.Member != nil && interaction.Member.User != nil {
		actorID = interaction.Member.User.ID
	}
	b.respondEmbed(session, interaction, b.runCommand(ctx, interaction.GuildID, actorID, path, opts), true)
}

func (b *Bot) runCommand(ctx context.Context, guildID, actorID, path string, opts options) *discordgo.MessageEmbed {
	var (
		embed   *discordgo.MessageEmbed
		changed string
		err     error
	)

	switch path {
	case "filter set":
		embed, changed, err = b.handleFilterSet(ctx, guildID, opts)
	case "filter list":
		embed, err = b.handleFilterList(ctx, guildID)
	case "filter reset":
		err = b.store.ResetFilters(ctx, guildID)
		changed = "filters reset"
		embed = b.commandEmbed(commandTitle, "Every filter is disabled and the punishment cleared.", colorAction, nil)
	case "punishment set":
		embed, changed, err = b.handlePunishmentSet(ctx, guildID, opts)
	case "keyword add", "keyword remove", "keyword list":
		embed, changed, err = b.handleKeyword(ctx, guildID, path, opts)
	case "whitelist add", "whitelist remove":
		embed, changed, err = b.handleWhitelist(ctx, guildID, path, opts)
	case "domain add", "domain remove", "domain list":
		embed, changed, err = b.handleDomain(ctx, guildID, path, opts)
	case "autoresponder add", "autoresponder remove":
		embed, changed, err = b.handleAutoresponder(ctx, guildID, path, opts)
	case "autoreact keyword", "autoreact event", "autoreact remove":
		embed, changed, err = b.handleAutoreact(ctx, guildID, path, opts)
	case "jail role", "jail release":
		embed, changed, err = b.handleJail(ctx, guildID, actorID, path, opts)
	case "report":
		embed, err = b.handleReport(ctx, guildID, opts)
	default:
		return b.commandEmbed(commandTitle, "Unknown command.", colorError, nil)
	}

	if err != nil {
		b.logger.Warn("automod command failed", logger.GuildID(guildID), zap.String("command", path), zap.Error(err))
		return b.commandEmbed(commandTitle, commandError(err), colorError, nil)
	}
	if changed != "" {
		b.cache.Invalidate(guildID)
		b.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventConfig, changed)
	}
	return embed
}

// usageError is shown to the invoking member as is.
type usageError string

func (e usageError) Error() string { return string(e) }

func commandError(err error) string {
	var usage usageError
	switch {
	case errors.As(err, &usage):
		return usage.Error()
	case errors.Is(err, jail.ErrNotJailed):
		return "That member is not jailed."
	case errors.Is(err, jail.ErrNotConfigured):
		return "No jail role is configured."
	default:
		return "Something went wrong, try again later."
	}
}

func (b *Bot) handleFilterSet(ctx context.Context, guildID string, opts options) (*discordgo.MessageEmbed, string, error) {
	name, ok := storage.ParseFilterName(opts.text("name"))
	if !ok || name == storage.FilterAll {
		return nil, "", usageError("Unknown filter.")
	}
	setting := storage.FilterSetting{GuildID: guildID, Event: name, Enabled: opts.flag("enabled")}
	if threshold, ok := opts.number("threshold"); ok {
		if threshold < 0 {
			return nil, "", usageError("The threshold cannot be negative.")
		}
		setting.Threshold = threshold
	} else if current, err := b.store.ListFilterSettings(ctx, guildID); err == nil {
		for _, existing := range current {
			if existing.Event == name {
				setting.Threshold = existing.Threshold
			}
		}
	}
	if err := b.store.UpsertFilterSetting(ctx, setting); err != nil {
		return nil, "", err
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Filter", Value: string(name), Inline: true},
		{Name: "Enabled", Value: fmt.Sprintf("%t", setting.Enabled), Inline: true},
		{Name: "Threshold", Value: fmt.Sprintf("%d", setting.Threshold), Inline: true},
	}
	changed := fmt.Sprintf("filter=%s enabled=%t threshold=%d", name, setting.Enabled, setting.Threshold)
	return b.commandEmbed(commandTitle, "Filter updated.", colorAction, fields), changed, nil
}

func (b *Bot) handleFilterList(ctx context.Context, guildID string) (*discordgo.MessageEmbed, error) {
	settings, err := b.store.ListFilterSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	setup, err := b.store.GetFilterSetup(ctx, guildID)
	if err != nil {
		return nil, err
	}

	byName := make(map[storage.FilterName]storage.FilterSetting, len(settings))
	for _, setting := range settings {
		byName[setting.Event] = setting
	}
	lines := make([]string, 0, len(storage.FilterNames))
	for _, name := range storage.FilterNames {
		setting := byName[name]
		state := "off"
		if setting.Enabled {
			state = "on"
		}
		lines = append(lines, fmt.Sprintf("`%s` %s (threshold %d)", name, state, setting.Threshold))
	}

	punishment := setup.Punishment.String()
	if punishment == "" {
		punishment = "not set"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Filters", Value: strings.Join(lines, "\n")},
		{Name: "Punishment", Value: punishment, Inline: true},
		{Name: "Timeout", Value: fmt.Sprintf("%ds", setup.TimeoutSeconds), Inline: true},
	}
	return b.commandEmbed(commandTitle, "Current filter settings.", colorAction, fields), nil
}

func (b *Bot) handlePunishmentSet(ctx context.Context, guildID string, opts options) (*discordgo.MessageEmbed, string, error) {
	punishment, err := storage.ParsePunishment(opts.text("kind"))
	if err != nil || punishment == storage.PunishmentNone {
		return nil, "", usageError("Unknown punishment.")
	}
	current, err := b.store.GetFilterSetup(ctx, guildID)
	if err != nil {
		return nil, "", err
	}
	setup := storage.FilterSetup{GuildID: guildID, Punishment: punishment, TimeoutSeconds: current.TimeoutSeconds}
	if seconds, ok := opts.number("timeout_seconds"); ok {
		if seconds <= 0 || time.Duration(seconds)*time.Second > punish.MaxTimeout {
			return nil, "", usageError("The timeout must be between 1 second and 28 days.")
		}
		setup.TimeoutSeconds = seconds
	}
	if err := b.store.UpsertFilterSetup(ctx, setup); err != nil {
		return nil, "", err
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Punishment", Value: punishment.String(), Inline: true},
		{Name: "Timeout", Value: fmt.Sprintf("%ds", setup.TimeoutSeconds), Inline: true},
	}
	changed := fmt.Sprintf("punishment=%s timeout_seconds=%d", punishment, setup.TimeoutSeconds)
	return b.commandEmbed(commandTitle, "Punishment updated.", colorAction, fields), changed, nil
}

func (b *Bot) handleKeyword(ctx context.Context, guildID, path string, opts options) (*discordgo.MessageEmbed, string, error) {
	word := strings.ToLower(opts.text("word"))
	switch path {
	case "keyword add":
		if word == "" || word == "*" {
			return nil, "", usageError("A keyword is required.")
		}
		if err := b.store.AddKeyword(ctx, guildID, word); err != nil {
			return nil, "", err
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Keyword", Value: word, Inline: true}}
		return b.commandEmbed(commandTitle, "Keyword added.", colorAction, fields), "keyword_add=" + word, nil
	case "keyword remove":
		removed, err := b.store.RemoveKeyword(ctx, guildID, word)
		if err != nil {
			return nil, "", err
		}
		if !removed {
			return b.commandEmbed(commandTitle, "That keyword is not in the list.", colorWarning, nil), "", nil
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Keyword", Value: word, Inline: true}}
		return b.commandEmbed(commandTitle, "Keyword removed.", colorAction, fields), "keyword_remove=" + word, nil
	default:
		keywords, err := b.store.ListKeywords(ctx, guildID)
		if err != nil {
			return nil, "", err
		}
		if len(keywords) == 0 {
			return b.commandEmbed(commandTitle, "No keywords configured.", colorWarning, nil), "", nil
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Keywords", Value: truncateField(strings.Join(keywords, "\n"))}}
		return b.commandEmbed(commandTitle, "Filtered keywords.", colorAction, fields), "", nil
	}
}

// subject picks the one user, role or channel option that was given.
func subject(opts options) (string, storage.SubjectKind, error) {
	var (
		id   string
		kind storage.SubjectKind
	)
	for _, candidate := range []struct {
		option string
		kind   storage.SubjectKind
	}{{"user", storage.SubjectUser}, {"role", storage.SubjectRole}, {"channel", storage.SubjectChannel}} {
		value := opts.text(candidate.option)
		if value == "" {
			continue
		}
		if id != "" {
			return "", "", usageError("Pick only one user, role or channel.")
		}
		id, kind = value, candidate.kind
	}
	if id == "" {
		return "", "", usageError("Pick a user, role or channel.")
	}
	return id, kind, nil
}

func (b *Bot) handleWhitelist(ctx context.Context, guildID, path string, opts options) (*discordgo.MessageEmbed, string, error) {
	id, kind, err := subject(opts)
	if err != nil {
		return nil, "", err
	}

	if path == "whitelist remove" {
		removed, err := b.store.RemoveWhitelist(ctx, guildID, id)
		if err != nil {
			return nil, "", err
		}
		if !removed {
			return b.commandEmbed(commandTitle, "That subject is not whitelisted.", colorWarning, nil), "", nil
		}
		return b.commandEmbed(commandTitle, "Exemption removed.", colorAction, nil), fmt.Sprintf("whitelist_remove=%s", id), nil
	}

	name, ok := storage.ParseFilterName(opts.text("filter"))
	if !ok {
		return nil, "", usageError("Unknown filter.")
	}
	events := []storage.FilterName{name}
	entries, err := b.store.ListWhitelist(ctx, guildID)
	if err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		if entry.SubjectID == id {
			events = mergeEvents(entry.Events, name)
		}
	}
	if err := b.store.UpsertWhitelist(ctx, storage.WhitelistEntry{GuildID: guildID, SubjectID: id, Kind: kind, Events: events}); err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, string(event))
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Subject", Value: mention(kind, id), Inline: true},
		{Name: "Filters", Value: strings.Join(names, ", "), Inline: true},
	}
	changed := fmt.Sprintf("whitelist_add=%s kind=%s events=%s", id, kind, strings.Join(names, ","))
	return b.commandEmbed(commandTitle, "Exemption saved.", colorAction, fields), changed, nil
}

func mergeEvents(existing []storage.FilterName, name storage.FilterName) []storage.FilterName {
	for _, event := range existing {
		if event == name {
			return existing
		}
	}
	merged := append(append([]storage.FilterName(nil), existing...), name)
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	return merged
}

func mention(kind storage.SubjectKind, id string) string {
	switch kind {
	case storage.SubjectUser:
		return "<@" + id + ">"
	case storage.SubjectRole:
		return "<@&" + id + ">"
	default:
		return "<#" + id + ">"
	}
}

func (b *Bot) handleDomain(ctx context.Context, guildID, path string, opts options) (*discordgo.MessageEmbed, string, error) {
	domain := strings.TrimPrefix(strings.ToLower(opts.text("domain")), "www.")
	switch path {
	case "domain add", "domain remove":
		if domain == "" || strings.ContainsAny(domain, "/ ") {
			return nil, "", usageError("Give a bare domain such as example.com.")
		}
		var err error
		description := "Domain allowed."
		if path == "domain add" {
			err = b.store.AddDomainAllow(ctx, guildID, domain)
		} else {
			err = b.store.RemoveDomainAllow(ctx, guildID, domain)
			description = "Domain removed."
		}
		if err != nil {
			return nil, "", err
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Domain", Value: domain, Inline: true}}
		return b.commandEmbed(commandTitle, description, colorAction, fields), strings.ReplaceAll(path, " ", "_") + "=" + domain, nil
	default:
		domains, err := b.store.ListDomainAllow(ctx, guildID)
		if err != nil {
			return nil, "", err
		}
		if len(domains) == 0 {
			return b.commandEmbed(commandTitle, "No domains allowed besides the defaults.", colorWarning, nil), "", nil
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Domains", Value: truncateField(strings.Join(domains, "\n"))}}
		return b.commandEmbed(commandTitle, "Allowed domains.", colorAction, fields), "", nil
	}
}

func (b *Bot) handleAutoresponder(ctx context.Context, guildID, path string, opts options) (*discordgo.MessageEmbed, string, error) {
	trigger := strings.ToLower(opts.text("trigger"))
	if trigger == "" || trigger == "*" {
		return nil, "", usageError("A trigger is required.")
	}

	if path == "autoresponder remove" {
		removed, err := b.store.RemoveAutoresponder(ctx, guildID, trigger)
		if err != nil {
			return nil, "", err
		}
		if !removed {
			return b.commandEmbed(commandTitle, "No autoresponder uses that trigger.", colorWarning, nil), "", nil
		}
		return b.commandEmbed(commandTitle, "Autoresponder removed.", colorAction, nil), "autoresponder_remove=" + trigger, nil
	}

	response := opts.text("response")
	if response == "" {
		return nil, "", usageError("A response is required.")
	}
	responder := storage.Autoresponder{GuildID: guildID, Trigger: trigger, Response: response, Strict: opts.flag("strict"), Reply: opts.flag("reply")}
	if err := b.store.UpsertAutoresponder(ctx, responder); err != nil {
		return nil, "", err
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Trigger", Value: trigger, Inline: true},
		{Name: "Strict", Value: fmt.Sprintf("%t", responder.Strict), Inline: true},
		{Name: "Reply", Value: fmt.Sprintf("%t", responder.Reply), Inline: true},
	}
	return b.commandEmbed(commandTitle, "Autoresponder saved.", colorAction, fields), "autoresponder_add=" + trigger, nil
}

func (b *Bot) handleAutoreact(ctx context.Context, guildID, path string, opts options) (*discordgo.MessageEmbed, string, error) {
	reaction := opts.text("reaction")
	if reaction == "" {
		return nil, "", usageError("A reaction is required.")
	}

	switch path {
	case "autoreact keyword":
		keyword := opts.text("keyword")
		if keyword == "" {
			return nil, "", usageError("A keyword is required.")
		}
		if storage.IsReactEvent(keyword) {
			return nil, "", usageError("That name is reserved, use /automod autoreact event.")
		}
		if err := b.store.AddAutoreact(ctx, storage.Autoreact{GuildID: guildID, Keyword: keyword, Reaction: reaction}); err != nil {
			return nil, "", err
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Keyword", Value: keyword, Inline: true}, {Name: "Reaction", Value: reaction, Inline: true}}
		return b.commandEmbed(commandTitle, "Autoreact saved.", colorAction, fields), fmt.Sprintf("autoreact_add=%s reaction=%s", keyword, reaction), nil
	case "autoreact event":
		event := storage.ReactEvent(strings.ToLower(opts.text("event")))
		if !storage.IsReactEvent(string(event)) {
			return nil, "", usageError("Unknown event.")
		}
		if err := b.store.AddAutoreactEvent(ctx, storage.AutoreactEvent{GuildID: guildID, Event: event, Reaction: reaction}); err != nil {
			return nil, "", err
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Event", Value: string(event), Inline: true}, {Name: "Reaction", Value: reaction, Inline: true}}
		return b.commandEmbed(commandTitle, "Autoreact saved.", colorAction, fields), fmt.Sprintf("autoreact_event=%s reaction=%s", event, reaction), nil
	default:
		n, err := b.store.DeleteReaction(ctx, guildID, reaction)
		if err != nil {
			return nil, "", err
		}
		if n == 0 {
			return b.commandEmbed(commandTitle, "That reaction is not configured.", colorWarning, nil), "", nil
		}
		return b.commandEmbed(commandTitle, fmt.Sprintf("Removed from %d bindings.", n), colorAction, nil), "autoreact_remove=" + reaction, nil
	}
}

func (b *Bot) handleJail(ctx context.Context, guildID, actorID, path string, opts options) (*discordgo.MessageEmbed, string, error) {
	if path == "jail role" {
		roleID := opts.text("role")
		if roleID == "" || roleID == guildID {
			return nil, "", usageError("Pick a role other than @everyone.")
		}
		if err := b.store.SetJailRole(ctx, guildID, roleID); err != nil {
			return nil, "", err
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Role", Value: "<@&" + roleID + ">", Inline: true}}
		return b.commandEmbed(commandTitle, "Jail role set.", colorAction, fields), "jail_role=" + roleID, nil
	}

	userID := opts.text("user")
	if userID == "" {
		return nil, "", usageError("Pick a member.")
	}
	if err := b.jail.Release(ctx, guildID, userID, "released by "+actorID); err != nil {
		return nil, "", err
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Member", Value: "<@" + userID + ">", Inline: true}}
	return b.commandEmbed(commandTitle, "Member released.", colorAction, fields), "jail_release=" + userID, nil
}

func (b *Bot) handleReport(ctx context.Context, guildID string, opts options) (*discordgo.MessageEmbed, error) {
	days, ok := opts.number("days")
	if !ok || days <= 0 {
		days = defaultReportDays
	}
	report, err := b.analytics.Report(ctx, guildID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Entries", Value: formatReport(report)},
		{Name: "Punishments", Value: fmt.Sprintf("%d", report.ByEvent[audit.EventPunishment]), Inline: true},
		{Name: "Failed actions", Value: fmt.Sprintf("%d", report.ByEvent[audit.EventActionFailed]), Inline: true},
	}
	if top := report.TopRules(3); len(top) > 0 {
		lines := make([]string, 0, len(top))
		for _, rule := range top {
			lines = append(lines, fmt.Sprintf("`%s` %d", rule, report.ByRule[rule]))
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Top filters", Value: strings.Join(lines, "\n")})
	}
	return b.commandEmbed(commandTitle, fmt.Sprintf("Activity over the last %d days.", days), colorAction, fields), nil
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}

// truncateField keeps embed field values under the 1024 character limit.
func truncateField(value string) string {
	const limit = 1024
	if len(value) <= limit {
		return value
	}
	cut := strings.LastIndex(value[:limit-4], "\n")
	if cut < 0 {
		cut = limit - 4
	}
	return value[:cut] + "\n..."
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Debug("interaction response failed", zap.Error(err))
	}
}
