// Command shrampybot bridges Twitch EventSub webhooks to the Golden Shrimp
// Guild's Mastodon instance and Discord announcement channel. It:
//   - Loads configuration and initializes structured logging.
//   - Verifies and dispatches EventSub deliveries (stream.online,
//     stream.offline, channel.raid) on /event/webhook.
//   - Reconciles the EventSub subscription set on operator request.
//   - Exposes /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/GoldenShrimpGuild/shrampybot/accountmap"
	"github.com/GoldenShrimpGuild/shrampybot/bot"
	"github.com/GoldenShrimpGuild/shrampybot/config"
	"github.com/GoldenShrimpGuild/shrampybot/discordapi"
	"github.com/GoldenShrimpGuild/shrampybot/mastodonapi"
	"github.com/GoldenShrimpGuild/shrampybot/reconcile"
	"github.com/GoldenShrimpGuild/shrampybot/server"
	"github.com/GoldenShrimpGuild/shrampybot/telemetry"
	"github.com/GoldenShrimpGuild/shrampybot/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateWebhookReady(); err != nil {
		slog.Error("configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateMastodonReady(); err != nil {
		slog.Error("configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("shrampybot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	tokenSource := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
	// Best-effort token fetch at startup so credential problems surface
	// immediately rather than on the first delivery.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := tokenSource.Get(ctx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	}

	helix := &twitchapi.Client{
		AppTokenSource: tokenSource,
		ClientID:       cfg.TwitchClientID,
		CallbackURL:    cfg.EventSubURL,
		WebhookSecret:  cfg.TwitchEventSecret,
	}

	mast := mastodonapi.New(cfg.MastodonAPIURL, cfg.MastodonAPIToken)

	router := &bot.Router{
		Cfg:      cfg,
		Twitch:   helix,
		Mastodon: mast,
		Subs:     &reconcile.Reconciler{API: helix, SubscribeOffline: cfg.SubscribeOffline},
	}

	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Warn("discord posting disabled", slog.Any("err", err))
	} else {
		discord, err := discordapi.New(cfg.DiscordToken, cfg.DiscordChannel)
		if err != nil {
			slog.Error("discord client init failed", slog.Any("err", err))
			os.Exit(1)
		}
		router.Discord = discord
	}

	store, err := accountmap.NewStore(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSEndpointURL, cfg.AWSBucket)
	if err != nil {
		slog.Error("account map store init failed", slog.Any("err", err))
		os.Exit(1)
	}
	router.Accounts = &accountmap.Provider{
		Store:     store,
		Accounts:  mast,
		Overrides: accountmap.Document(cfg.AccountMapOverrides),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, router, cfg.ListenAddr); err != nil {
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults:
// level=info, format=text.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}
