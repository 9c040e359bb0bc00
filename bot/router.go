// Package bot routes Twitch EventSub deliveries to platform actions:
// challenge echoes, revocation acks, and verified notifications that post to
// Mastodon and Discord or edit earlier Discord announcements.
package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/mattn/go-mastodon"

	"github.com/GoldenShrimpGuild/shrampybot/accountmap"
	"github.com/GoldenShrimpGuild/shrampybot/config"
	"github.com/GoldenShrimpGuild/shrampybot/eventsub"
	"github.com/GoldenShrimpGuild/shrampybot/mastodonapi"
	"github.com/GoldenShrimpGuild/shrampybot/reconcile"
	"github.com/GoldenShrimpGuild/shrampybot/telemetry"
	"github.com/GoldenShrimpGuild/shrampybot/twitchapi"
)

// TwitchAPI is the slice of the Helix client the router uses.
type TwitchAPI interface {
	GetStreamByBroadcaster(ctx context.Context, userID string) (*twitchapi.Stream, error)
	GetUsers(ctx context.Context, logins []string) ([]twitchapi.User, error)
	TeamMemberLogins(ctx context.Context, team string) ([]string, error)
}

// MastodonAPI posts statuses and reads back the bot's own tagged posts.
type MastodonAPI interface {
	Me(ctx context.Context) (*mastodon.Account, error)
	Post(ctx context.Context, in mastodonapi.PostInput) (*mastodon.Status, error)
	StatusesTaggedBy(ctx context.Context, accountID, tag string) ([]mastodonapi.TaggedStatus, error)
}

// DiscordAPI posts to and edits the announcement channel.
type DiscordAPI interface {
	Send(ctx context.Context, content string, image []byte) (*discordgo.Message, error)
	EditTagged(ctx context.Context, tag, addition, matchText string, removeTag bool) (*discordgo.Message, error)
}

// AccountMapper serves the Mastodon-to-Twitch account map.
type AccountMapper interface {
	MappedAccounts(ctx context.Context) (accountmap.Document, error)
	Refresh(ctx context.Context) (accountmap.Document, error)
}

// Subscriptions reconciles the EventSub subscription set.
type Subscriptions interface {
	Sync(ctx context.Context, desired []string) (*reconcile.Result, error)
	Teardown(ctx context.Context) (*reconcile.Result, error)
}

// Router dispatches one webhook delivery per call. It holds no per-delivery
// state, so a single Router serves concurrent requests.
type Router struct {
	Cfg        *config.Config
	Twitch     TwitchAPI
	Mastodon   MastodonAPI
	Discord    DiscordAPI
	Accounts   AccountMapper
	Subs       Subscriptions
	HTTPClient *http.Client
}

// Response is what the webhook endpoint writes back to Twitch. Deliveries
// are acknowledged with 200 even when the bot chose not to act; anything
// else makes Twitch retry and eventually revoke the subscription.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

func jsonResponse(v any) *Response {
	body, _ := json.Marshal(v)
	return &Response{Status: http.StatusOK, ContentType: "application/json", Body: body}
}

func errorResponse(msg string) *Response {
	return jsonResponse(map[string]string{"error": msg})
}

// overridePayload is the operator command carried in a non-Twitch POST body.
type overridePayload struct {
	Override      string `json:"override"`
	OverrideToken string `json:"override_token"`
}

// Handle processes one delivery. Administrative overrides are checked first;
// they arrive on the same endpoint but carry no EventSub headers.
func (rt *Router) Handle(ctx context.Context, n eventsub.Notification) *Response {
	log := telemetry.LoggerWithCorr(ctx)

	var override overridePayload
	if err := json.Unmarshal(n.Body, &override); err == nil && override.Override != "" && override.OverrideToken != "" {
		if rt.Cfg.OverrideToken != "" &&
			subtle.ConstantTimeCompare([]byte(override.OverrideToken), []byte(rt.Cfg.OverrideToken)) == 1 {
			return rt.handleOverride(ctx, override.Override)
		}
		log.Warn("override rejected", slog.String("op", override.Override))
		return errorResponse("override token mismatch")
	}

	switch n.MessageType {
	case eventsub.TypeVerification:
		env, err := eventsub.ParseEnvelope(n.Body)
		if err != nil {
			return errorResponse("unparseable verification body")
		}
		log.Info("answering subscription challenge", slog.String("subscription_id", env.Subscription.ID))
		return &Response{Status: http.StatusOK, ContentType: "text/plain", Body: []byte(env.Challenge)}

	case eventsub.TypeRevocation:
		env, err := eventsub.ParseEnvelope(n.Body)
		if err != nil {
			return errorResponse("unparseable revocation body")
		}
		log.Warn("subscription revoked",
			slog.String("subscription_id", env.Subscription.ID),
			slog.String("status", env.Subscription.Status))
		return jsonResponse(map[string]string{"msg": "Accepted revocation."})

	case eventsub.TypeNotification:
		telemetry.NotificationsReceived.Inc()
		if !n.Verify(rt.Cfg.TwitchEventSecret) {
			telemetry.SignatureFailures.Inc()
			log.Warn("signature verification failed", slog.String("message_id", n.MessageID))
			return errorResponse("origin verification failed")
		}
		return rt.handleNotification(ctx, n)
	}

	log.Info("ignoring delivery with unknown message type", slog.String("type", n.MessageType))
	return jsonResponse(map[string]string{"msg": "ignored"})
}

func (rt *Router) handleNotification(ctx context.Context, n eventsub.Notification) *Response {
	env, err := eventsub.ParseEnvelope(n.Body)
	if err != nil {
		return errorResponse("unparseable notification body")
	}

	switch env.Subscription.Type {
	case eventsub.EventStreamOnline:
		return rt.handleStreamOnline(ctx, env.Event)
	case eventsub.EventStreamOffline:
		return rt.handleStreamOffline(ctx, env.Event)
	case eventsub.EventChannelRaid:
		return rt.handleRaidOut(ctx, env.Event)
	}

	telemetry.LoggerWithCorr(ctx).Info("no handler for event type",
		slog.String("type", env.Subscription.Type))
	return jsonResponse(map[string]string{"msg": "no handler for event type"})
}

func (rt *Router) handleOverride(ctx context.Context, op string) *Response {
	log := telemetry.LoggerWithCorr(ctx)
	switch op {
	case "subscribe":
		desired, err := rt.DesiredBroadcasterIDs(ctx)
		if err != nil {
			log.Error("could not resolve broadcaster set", slog.Any("err", err))
			return &Response{Status: http.StatusInternalServerError, ContentType: "application/json",
				Body: []byte(`{"error":"could not resolve broadcaster set"}`)}
		}
		res, err := rt.Subs.Sync(ctx, desired)
		if err != nil {
			log.Error("subscription sync failed", slog.Any("err", err))
			return &Response{Status: http.StatusInternalServerError, ContentType: "application/json",
				Body: []byte(`{"error":"subscription sync failed"}`)}
		}
		return jsonResponse(map[string]any{"created": res.Created, "subscriptions": res.Final})

	case "unsubscribe":
		res, err := rt.Subs.Teardown(ctx)
		if err != nil {
			log.Error("subscription teardown failed", slog.Any("err", err))
			return &Response{Status: http.StatusInternalServerError, ContentType: "application/json",
				Body: []byte(`{"error":"subscription teardown failed"}`)}
		}
		return jsonResponse(map[string]any{"unsubscribed": "all", "deleted": res.Deleted})
	}
	return errorResponse("unknown override operation")
}

// DesiredBroadcasterIDs resolves the broadcasters the bot should watch: the
// Twitch team roster filtered to logins that have a mapped Mastodon account.
// Without a team configured the mapped logins stand alone.
func (rt *Router) DesiredBroadcasterIDs(ctx context.Context) ([]string, error) {
	doc, err := rt.Accounts.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]bool)
	for _, login := range doc.Logins() {
		mapped[login] = true
	}

	logins := doc.Logins()
	if rt.Cfg.TwitchTeamName != "" {
		members, err := rt.Twitch.TeamMemberLogins(ctx, rt.Cfg.TwitchTeamName)
		if err != nil {
			return nil, err
		}
		logins = logins[:0]
		for _, m := range members {
			if mapped[m] {
				logins = append(logins, m)
			}
		}
	}

	users, err := rt.Twitch.GetUsers(ctx, logins)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
