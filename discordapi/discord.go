// Package discordapi wraps the Discord REST API for the bot's announcement
// channel: posting announcements, listing the bot's own recent messages in
// chronological order, and editing a message located by correlation tag.
package discordapi

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/GoldenShrimpGuild/shrampybot/correlate"
	"github.com/GoldenShrimpGuild/shrampybot/telemetry"
)

// SearchWindow bounds how far back correlation scans look. Older messages
// are unreachable by design; chat notification is best-effort.
const SearchWindow = 3 * 24 * time.Hour

// Client talks to one announcement channel as the bot user.
type Client struct {
	Session   *discordgo.Session
	ChannelID string
}

// New builds a REST-only client (no gateway connection is opened).
func New(token, channelID string) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Client{Session: session, ChannelID: channelID}, nil
}

// Send posts content to the channel, suppressing link embeds, optionally
// attaching a JPEG image. The message is then crossposted; crosspost failure
// is logged and ignored — the message itself already went out.
func (c *Client) Send(ctx context.Context, content string, image []byte) (*discordgo.Message, error) {
	send := &discordgo.MessageSend{
		Content: content,
		Flags:   discordgo.MessageFlagsSuppressEmbeds,
	}
	if len(image) > 0 {
		send.Files = []*discordgo.File{{
			Name:        "image.jpg",
			ContentType: "image/jpeg",
			Reader:      bytes.NewReader(image),
		}}
	}
	msg, err := c.Session.ChannelMessageSendComplex(c.ChannelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord send: %w", err)
	}
	if _, err := c.Session.ChannelMessageCrosspost(c.ChannelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
		telemetry.CrosspostFailures.Inc()
		telemetry.LoggerWithCorr(ctx).Warn("could not crosspost message", slog.String("message_id", msg.ID), slog.Any("err", err))
	}
	return msg, nil
}

// RecentOwnMessages returns the bot's own messages in the channel posted
// since the cutoff, in chronological (oldest-first) order.
func (c *Client) RecentOwnMessages(ctx context.Context, since time.Time) ([]correlate.Message, error) {
	me, err := c.Session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord identify: %w", err)
	}

	var own []correlate.Message
	after := snowflakeForTime(since)
	for {
		batch, err := c.Session.ChannelMessages(c.ChannelID, 100, "", after, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord list messages: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		newest := after
		for _, msg := range batch {
			if snowflakeLess(newest, msg.ID) {
				newest = msg.ID
			}
			if msg.Author == nil || msg.Author.ID != me.ID {
				continue
			}
			own = append(own, correlate.Message{ID: msg.ID, Content: msg.Content, PostedAt: msg.Timestamp})
		}
		after = newest
		if len(batch) < 100 {
			break
		}
	}

	sortChronological(own)
	return own, nil
}

// EditTagged locates the most recent unpatched message carrying tag within
// the search window and splices addition into it. Returns (nil, nil) when no
// message qualifies: the event simply isn't reflected, which is acceptable.
func (c *Client) EditTagged(ctx context.Context, tag, addition, matchText string, removeTag bool) (*discordgo.Message, error) {
	if matchText == "" {
		matchText = addition
	}
	msgs, err := c.RecentOwnMessages(ctx, time.Now().Add(-SearchWindow))
	if err != nil {
		return nil, err
	}
	idx := correlate.FindTarget(msgs, tag, matchText)
	if idx < 0 {
		telemetry.CorrelationMisses.Inc()
		telemetry.LoggerWithCorr(ctx).Info("no message qualifies for tag", slog.String("tag", tag))
		return nil, nil
	}
	content := correlate.Patch(msgs[idx].Content, tag, addition, removeTag)
	edited, err := c.Session.ChannelMessageEdit(c.ChannelID, msgs[idx].ID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord edit: %w", err)
	}
	telemetry.CorrelationEdits.Inc()
	return edited, nil
}

// Discord epoch, milliseconds since Unix epoch.
const discordEpochMs = 1420070400000

// snowflakeForTime returns the smallest snowflake id for messages created at
// or after t, for use as an `after` cursor.
func snowflakeForTime(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMs
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}

// snowflakeLess compares two snowflake ids numerically. Snowflakes are
// decimal strings without leading zeros, so length then lexicographic order
// matches numeric order.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func sortChronological(msgs []correlate.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return snowflakeLess(msgs[i].ID, msgs[j].ID)
	})
}
