// Package config loads environment variables and provides a typed Config used
// across the bot. Missing optional variables disable features (e.g. Discord
// posting); use the ValidateXxxReady helpers when a feature is required.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchEventSecret  string
	TwitchTeamName     string
	EventSubURL        string
	SubscribeOffline   bool

	// Mastodon
	MastodonAPIURL   string
	MastodonAPIToken string
	MastodonPostMode string

	// Discord
	DiscordToken   string
	DiscordChannel string
	PostToDiscord  bool

	// Object store (account map document)
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpointURL     string
	AWSBucket          string

	// Posting behaviour
	StreamThumbResolution string
	CategoryHashtags      map[string]string
	AccountMapOverrides   map[string]string

	// Administrative override
	OverrideToken string

	// HTTP
	ListenAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if
// platform credentials are missing; the webhook handler degrades per feature.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_API_KEY")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_API_SECRET")
	cfg.TwitchEventSecret = os.Getenv("TWITCH_EVENT_SECRET")
	cfg.TwitchTeamName = os.Getenv("TWITCH_TEAM_NAME")
	cfg.EventSubURL = os.Getenv("EVENTSUB_URL")
	// stream.offline subscriptions are a policy decision: the ended-marker
	// edit is best-effort, so some deployments leave them off.
	cfg.SubscribeOffline = boolEnv("TWITCH_SUBSCRIBE_OFFLINE", true)

	cfg.MastodonAPIURL = os.Getenv("MASTODON_API_URL")
	cfg.MastodonAPIToken = os.Getenv("MASTODON_API_TOKEN")
	cfg.MastodonPostMode = os.Getenv("MASTODON_POST_MODE")
	if cfg.MastodonPostMode == "" {
		cfg.MastodonPostMode = "public"
	}

	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.DiscordChannel = os.Getenv("DISCORD_CHANNEL")
	cfg.PostToDiscord = boolEnv("POST_TO_DISCORD", cfg.DiscordToken != "" && cfg.DiscordChannel != "")

	cfg.AWSAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.AWSSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.AWSEndpointURL = os.Getenv("AWS_ENDPOINT_URL")
	cfg.AWSBucket = os.Getenv("AWS_BUCKET")

	cfg.StreamThumbResolution = os.Getenv("STREAM_THUMB_RESOLUTION")
	if cfg.StreamThumbResolution == "" {
		cfg.StreamThumbResolution = "1280x720"
	}

	var err error
	cfg.CategoryHashtags, err = jsonMapEnv("TWITCH_CATEGORY_HASHTAG_MAP")
	if err != nil {
		return nil, err
	}
	cfg.AccountMapOverrides, err = jsonMapEnv("CROSS_INSTANCE_ACCOUNT_MAP")
	if err != nil {
		return nil, err
	}

	cfg.OverrideToken = os.Getenv("OVERRIDE_TOKEN")

	cfg.ListenAddr = os.Getenv("LISTEN_ADDR")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	return cfg, nil
}

func boolEnv(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func jsonMapEnv(key string) (map[string]string, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return map[string]string{}, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid %s (want JSON object of strings): %w", key, err)
	}
	return m, nil
}

// ValidateWebhookReady checks fields required to verify and handle EventSub
// deliveries.
func (c *Config) ValidateWebhookReady() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" || c.TwitchEventSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_API_KEY, TWITCH_API_SECRET, TWITCH_EVENT_SECRET")
	}
	return nil
}

// ValidateSubscribeReady checks fields required to create EventSub
// subscriptions (the webhook transport needs a callback and shared secret).
func (c *Config) ValidateSubscribeReady() error {
	if err := c.ValidateWebhookReady(); err != nil {
		return err
	}
	if c.EventSubURL == "" {
		return fmt.Errorf("missing twitch env: require EVENTSUB_URL")
	}
	return nil
}

// ValidateMastodonReady checks fields required for posting and dedup lookups.
func (c *Config) ValidateMastodonReady() error {
	if c.MastodonAPIURL == "" || c.MastodonAPIToken == "" {
		return fmt.Errorf("missing mastodon env: require MASTODON_API_URL, MASTODON_API_TOKEN")
	}
	return nil
}

// ValidateDiscordReady checks fields required when Discord posting is enabled.
func (c *Config) ValidateDiscordReady() error {
	if c.DiscordToken == "" || c.DiscordChannel == "" {
		return fmt.Errorf("missing discord env: require DISCORD_TOKEN, DISCORD_CHANNEL")
	}
	return nil
}
