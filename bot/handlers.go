package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/GoldenShrimpGuild/shrampybot/correlate"
	"github.com/GoldenShrimpGuild/shrampybot/eventsub"
	"github.com/GoldenShrimpGuild/shrampybot/mastodonapi"
	"github.com/GoldenShrimpGuild/shrampybot/tagid"
	"github.com/GoldenShrimpGuild/shrampybot/telemetry"
)

const raidMatchText = " viewers raided out to "

// handleStreamOnline announces a stream that just went live. Every early
// return acknowledges the delivery; the error body only explains why nothing
// was posted.
func (rt *Router) handleStreamOnline(ctx context.Context, raw json.RawMessage) *Response {
	log := telemetry.LoggerWithCorr(ctx)

	var ev eventsub.StreamOnlineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return errorResponse("unparseable stream.online event")
	}
	if ev.Type != "live" {
		telemetry.ValidationSkips.Inc()
		return errorResponse("stream type is not 'live'")
	}

	stream, err := rt.Twitch.GetStreamByBroadcaster(ctx, ev.BroadcasterUserID)
	if err != nil {
		log.Error("stream lookup failed", slog.String("broadcaster_id", ev.BroadcasterUserID), slog.Any("err", err))
		return errorResponse("stream lookup failed")
	}
	if stream == nil {
		telemetry.ValidationSkips.Inc()
		return errorResponse("querying for streams produced no results")
	}

	category := stream.GameName
	hashtag, ok := rt.Cfg.CategoryHashtags[category]
	if !ok {
		telemetry.ValidationSkips.Inc()
		log.Info("category not announceable", slog.String("category", category))
		return errorResponse(fmt.Sprintf("category %s not in acceptable categories list", category))
	}

	userTag := tagid.UserTag(ev.BroadcasterUserID)
	streamTag := tagid.StreamTag(stream.ID)

	me, err := rt.Mastodon.Me(ctx)
	if err != nil {
		log.Error("could not identify mastodon account", slog.Any("err", err))
		return errorResponse("could not identify mastodon account")
	}
	existing, err := rt.Mastodon.StatusesTaggedBy(ctx, string(me.ID), streamTag)
	if err != nil {
		log.Error("duplicate check failed", slog.String("stream_tag", streamTag), slog.Any("err", err))
		return errorResponse("duplicate check failed")
	}
	if len(existing) > 0 {
		telemetry.DuplicatesSuppressed.Inc()
		log.Info("stream already announced", slog.String("stream_tag", streamTag))
		return errorResponse(fmt.Sprintf("stream %s already posted", streamTag))
	}

	doc, err := rt.Accounts.MappedAccounts(ctx)
	if err != nil {
		log.Error("account map load failed", slog.Any("err", err))
		return errorResponse("account map load failed")
	}
	broadcaster, ok := doc.ByLogin()[strings.ToLower(stream.UserLogin)]
	if !ok {
		telemetry.ValidationSkips.Inc()
		return errorResponse(fmt.Sprintf("%s not a user login mapped in Mastodon", stream.UserLogin))
	}

	thumb := rt.fetchThumbnail(ctx, stream.ThumbnailURL)
	streamURL := "https://twitch.tv/" + stream.UserName

	post := mastodonapi.PostInput{
		Text: fmt.Sprintf("@%s is now doing %s on Twitch: %s\n\n%s\n\n#gsg %s\n#%s",
			broadcaster, category, streamURL, stream.Title, hashtag, streamTag),
		Visibility: rt.Cfg.MastodonPostMode,
		Sensitive:  stream.IsMature,
		Media:      thumb,
		MediaDesc:  fmt.Sprintf("Preview of %s's stream on Twitch.", stream.UserName),
	}
	if stream.IsMature {
		post.SpoilerText = fmt.Sprintf("@%s's %s stream info (marked as %q on Twitch)", broadcaster, category, "mature")
	}

	status, err := rt.Mastodon.Post(ctx, post)
	if err != nil {
		log.Error("mastodon post failed", slog.Any("err", err))
		return errorResponse("mastodon post failed")
	}
	telemetry.PostsCreated.Inc()
	log.Info("announced stream",
		slog.String("login", stream.UserLogin),
		slog.String("stream_tag", streamTag),
		slog.String("status_id", string(status.ID)))

	// Discord is best-effort; the Mastodon post already went out.
	if rt.Cfg.PostToDiscord && rt.Discord != nil {
		content := fmt.Sprintf("**%s** is now doing **%s** on Twitch:\n%s\n", stream.UserName, category, stream.Title) +
			correlate.Tag(userTag) + "\n" + streamURL
		if _, err := rt.Discord.Send(ctx, content, thumb); err != nil {
			log.Warn("discord announcement failed", slog.Any("err", err))
		}
	}

	return jsonResponse(map[string]string{"id": string(status.ID)})
}

// handleStreamOffline marks the broadcaster's announcement as ended. The tag
// stays in place so a late raid notification can still find the message.
func (rt *Router) handleStreamOffline(ctx context.Context, raw json.RawMessage) *Response {
	var ev eventsub.StreamOfflineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return errorResponse("unparseable stream.offline event")
	}
	if !rt.Cfg.SubscribeOffline || !rt.Cfg.PostToDiscord || rt.Discord == nil {
		return jsonResponse(map[string]string{"msg": "offline handling disabled"})
	}

	tag := correlate.Tag(tagid.UserTag(ev.BroadcasterUserID))
	_, err := rt.Discord.EditTagged(ctx, tag, "*Stream has ended.*", "Stream has ended", false)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("ended-marker edit failed", slog.Any("err", err))
		return errorResponse("ended-marker edit failed")
	}
	return jsonResponse(map[string]string{"msg": "ok"})
}

// handleRaidOut appends the raid target to the raiding broadcaster's
// announcement and consumes the tag so the message is edited only once.
func (rt *Router) handleRaidOut(ctx context.Context, raw json.RawMessage) *Response {
	var ev eventsub.ChannelRaidEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return errorResponse("unparseable channel.raid event")
	}
	if !rt.Cfg.PostToDiscord || rt.Discord == nil {
		return jsonResponse(map[string]string{"msg": "discord posting disabled"})
	}

	tag := correlate.Tag(tagid.UserTag(ev.FromBroadcasterUserID))
	addition := fmt.Sprintf("*%d%shttps://twitch.tv/%s *", ev.Viewers, raidMatchText, ev.ToBroadcasterUserName)
	_, err := rt.Discord.EditTagged(ctx, tag, addition, raidMatchText, true)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("raid-out edit failed", slog.Any("err", err))
		return errorResponse("raid-out edit failed")
	}
	return jsonResponse(map[string]string{"msg": "ok"})
}

// fetchThumbnail downloads the stream preview at the configured resolution.
// Failures return nil; posts go out without a preview.
func (rt *Router) fetchThumbnail(ctx context.Context, templateURL string) []byte {
	if templateURL == "" {
		return nil
	}
	url := strings.ReplaceAll(templateURL, "{width}x{height}", rt.Cfg.StreamThumbResolution)

	client := rt.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("thumbnail fetch failed", slog.Any("err", err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		telemetry.LoggerWithCorr(ctx).Warn("thumbnail fetch failed", slog.Int("status", resp.StatusCode))
		return nil
	}
	thumb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return thumb
}
