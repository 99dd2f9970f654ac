// Package discordtest provides an in-memory discord.Client for tests.
package discordtest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"sentinel-automod/internal/discord"

	"github.com/bwmarrin/discordgo"
)

type Call struct {
	Op        string
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Content   string
	Reason    string
	Seconds   int
	Until     time.Time
	Roles     []string
}

// Client records every call. Errors maps an op name to the error that op
// returns; Emojis lists the custom emoji ids ResolveEmoji knows.
type Client struct {
	mu      sync.Mutex
	calls   []Call
	nextID  int
	Errors  map[string]error
	Emojis  map[string]bool
	History []*discordgo.Message
	// ReactionErrors fails AddReaction for a specific emoji.
	ReactionErrors map[string]error
}

func New() *Client {
	return &Client{Errors: map[string]error{}, Emojis: map[string]bool{}, ReactionErrors: map[string]error{}}
}

func (c *Client) record(call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.Errors[call.Op]
}

func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Ops returns the recorded calls named op.
func (c *Client) Ops(op string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (c *Client) Reset() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

func (c *Client) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return c.record(Call{Op: "delete", ChannelID: channelID, MessageID: messageID})
}

func (c *Client) TimeoutMember(_ context.Context, guildID, userID string, until time.Time, reason string) error {
	return c.record(Call{Op: "timeout", GuildID: guildID, UserID: userID, Until: until, Reason: reason})
}

func (c *Client) KickMember(_ context.Context, guildID, userID, reason string) error {
	return c.record(Call{Op: "kick", GuildID: guildID, UserID: userID, Reason: reason})
}

func (c *Client) BanMember(_ context.Context, guildID, userID, reason string) error {
	return c.record(Call{Op: "ban", GuildID: guildID, UserID: userID, Reason: reason})
}

func (c *Client) SetSlowmode(_ context.Context, channelID string, seconds int, reason string) error {
	return c.record(Call{Op: "slowmode", ChannelID: channelID, Seconds: seconds, Reason: reason})
}

func (c *Client) PurgeMessages(_ context.Context, channelID string, limit int, filter discord.PurgeFilter) (int, error) {
	c.mu.Lock()
	history := append([]*discordgo.Message(nil), c.History...)
	c.mu.Unlock()

	count := 0
	for _, m := range history {
		if count >= limit {
			break
		}
		if filter(m) {
			count++
		}
	}
	if err := c.record(Call{Op: "purge", ChannelID: channelID, Seconds: count}); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := c.record(Call{Op: "react", ChannelID: channelID, MessageID: messageID, Content: emoji}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ReactionErrors[emoji]
}

func (c *Client) SendMessage(_ context.Context, channelID, content string) (string, error) {
	if err := c.record(Call{Op: "send", ChannelID: channelID, Content: content}); err != nil {
		return "", err
	}
	return c.id(), nil
}

func (c *Client) SendReply(_ context.Context, channelID, messageID, content string) (string, error) {
	if err := c.record(Call{Op: "reply", ChannelID: channelID, MessageID: messageID, Content: content}); err != nil {
		return "", err
	}
	return c.id(), nil
}

func (c *Client) SetMemberRoles(_ context.Context, guildID, userID string, roles []string, reason string) error {
	return c.record(Call{Op: "roles", GuildID: guildID, UserID: userID, Roles: append([]string(nil), roles...), Reason: reason})
}

func (c *Client) ResolveEmoji(_, emojiID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Emojis[emojiID]
}

func (c *Client) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return "sent-" + strconv.Itoa(c.nextID)
}

// RESTError builds the error a failed API call with the given code returns.
func RESTError(op string, status, code int) error {
	return discord.NewActionError(op, status, code)
}
