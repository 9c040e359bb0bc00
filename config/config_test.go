package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"TWITCH_API_KEY", "TWITCH_API_SECRET", "TWITCH_EVENT_SECRET",
		"MASTODON_POST_MODE", "DISCORD_TOKEN", "DISCORD_CHANNEL",
		"POST_TO_DISCORD", "STREAM_THUMB_RESOLUTION",
		"TWITCH_CATEGORY_HASHTAG_MAP", "CROSS_INSTANCE_ACCOUNT_MAP",
		"TWITCH_SUBSCRIBE_OFFLINE", "LISTEN_ADDR",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MastodonPostMode != "public" {
		t.Errorf("MastodonPostMode = %q, want public", cfg.MastodonPostMode)
	}
	if cfg.StreamThumbResolution != "1280x720" {
		t.Errorf("StreamThumbResolution = %q, want 1280x720", cfg.StreamThumbResolution)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if !cfg.SubscribeOffline {
		t.Error("SubscribeOffline default should be true")
	}
	if cfg.PostToDiscord {
		t.Error("PostToDiscord should be false without discord credentials")
	}
	if len(cfg.CategoryHashtags) != 0 {
		t.Errorf("CategoryHashtags = %v, want empty", cfg.CategoryHashtags)
	}
}

func TestLoadMaps(t *testing.T) {
	t.Setenv("TWITCH_CATEGORY_HASHTAG_MAP", `{"Music":"#music","Art":"#art"}`)
	t.Setenv("CROSS_INSTANCE_ACCOUNT_MAP", `{"friend@other.instance":"friendttv"}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CategoryHashtags["Music"] != "#music" {
		t.Errorf("CategoryHashtags = %v", cfg.CategoryHashtags)
	}
	if cfg.AccountMapOverrides["friend@other.instance"] != "friendttv" {
		t.Errorf("AccountMapOverrides = %v", cfg.AccountMapOverrides)
	}
}

func TestLoadBadMap(t *testing.T) {
	t.Setenv("TWITCH_CATEGORY_HASHTAG_MAP", `not json`)
	if _, err := Load(); err == nil {
		t.Error("Load accepted malformed category map")
	}
}

func TestPostToDiscordImplied(t *testing.T) {
	t.Setenv("POST_TO_DISCORD", "")
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("DISCORD_CHANNEL", "123")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.PostToDiscord {
		t.Error("PostToDiscord should default on when discord credentials are present")
	}

	t.Setenv("POST_TO_DISCORD", "false")
	cfg, _ = Load()
	if cfg.PostToDiscord {
		t.Error("POST_TO_DISCORD=false should win over credentials")
	}
}

func TestValidateWebhookReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateWebhookReady(); err == nil {
		t.Error("expected error with no twitch credentials")
	}
	cfg = &Config{TwitchClientID: "id", TwitchClientSecret: "sec", TwitchEventSecret: "evt"}
	if err := cfg.ValidateWebhookReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := cfg.ValidateSubscribeReady(); err == nil {
		t.Error("subscribe should additionally require EVENTSUB_URL")
	}
	cfg.EventSubURL = "https://bot.example/event/webhook"
	if err := cfg.ValidateSubscribeReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
