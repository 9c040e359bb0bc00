// Command subsctl manages the EventSub subscription set from an operator's
// shell, using the same credentials and reconciliation logic as the bot.
//
// Tasks:
//
//	report    list current subscriptions grouped by event type
//	sync      create missing subscriptions for mapped broadcasters
//	prune     delete subscriptions for broadcasters no longer mapped
//	teardown  delete every subscription on the application
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/GoldenShrimpGuild/shrampybot/accountmap"
	"github.com/GoldenShrimpGuild/shrampybot/bot"
	"github.com/GoldenShrimpGuild/shrampybot/config"
	"github.com/GoldenShrimpGuild/shrampybot/eventsub"
	"github.com/GoldenShrimpGuild/shrampybot/mastodonapi"
	"github.com/GoldenShrimpGuild/shrampybot/reconcile"
	"github.com/GoldenShrimpGuild/shrampybot/twitchapi"
)

func main() {
	task := flag.String("task", "report", "report | sync | prune | teardown")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fatal("config load failed", err)
	}
	if err := cfg.ValidateSubscribeReady(); err != nil {
		fatal("configuration incomplete", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	helix := &twitchapi.Client{
		AppTokenSource: &twitchapi.TokenSource{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
		},
		ClientID:      cfg.TwitchClientID,
		CallbackURL:   cfg.EventSubURL,
		WebhookSecret: cfg.TwitchEventSecret,
	}
	reconciler := &reconcile.Reconciler{API: helix, SubscribeOffline: cfg.SubscribeOffline}

	switch *task {
	case "report":
		report(ctx, reconciler)

	case "sync":
		desired := resolveDesired(ctx, cfg, helix)
		res, err := reconciler.Sync(ctx, desired)
		if err != nil {
			fatal("sync failed", err)
		}
		fmt.Printf("created: %v\n", res.Created)
		printSubscriptions(res.Final)

	case "prune":
		desired := resolveDesired(ctx, cfg, helix)
		res, err := reconciler.Prune(ctx, desired)
		if err != nil {
			fatal("prune failed", err)
		}
		fmt.Printf("deleted: %v\n", res.Deleted)
		printSubscriptions(res.Final)

	case "teardown":
		res, err := reconciler.Teardown(ctx)
		if err != nil {
			fatal("teardown failed", err)
		}
		fmt.Printf("deleted: %v\n", res.Deleted)

	default:
		fmt.Fprintf(os.Stderr, "unknown task %q\n", *task)
		flag.Usage()
		os.Exit(2)
	}
}

func report(ctx context.Context, reconciler *reconcile.Reconciler) {
	res, err := reconciler.Sync(ctx, nil)
	if err != nil {
		fatal("listing subscriptions failed", err)
	}
	printSubscriptions(res.Final)
}

// resolveDesired builds the broadcaster id set the same way the webhook's
// subscribe override does, including an account map refresh.
func resolveDesired(ctx context.Context, cfg *config.Config, helix *twitchapi.Client) []string {
	if err := cfg.ValidateMastodonReady(); err != nil {
		fatal("configuration incomplete", err)
	}
	mast := mastodonapi.New(cfg.MastodonAPIURL, cfg.MastodonAPIToken)
	store, err := accountmap.NewStore(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSEndpointURL, cfg.AWSBucket)
	if err != nil {
		fatal("account map store init failed", err)
	}

	router := &bot.Router{
		Cfg:    cfg,
		Twitch: helix,
		Accounts: &accountmap.Provider{
			Store:     store,
			Accounts:  mast,
			Overrides: accountmap.Document(cfg.AccountMapOverrides),
		},
	}
	desired, err := router.DesiredBroadcasterIDs(ctx)
	if err != nil {
		fatal("could not resolve broadcaster set", err)
	}
	return desired
}

func printSubscriptions(subs []twitchapi.EventSubSubscription) {
	byType := map[string][]string{}
	for _, sub := range subs {
		key := sub.Condition[eventsub.ConditionKey(sub.Type)]
		byType[sub.Type] = append(byType[sub.Type], fmt.Sprintf("%s (%s)", key, sub.Status))
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		sort.Strings(byType[t])
		fmt.Printf("%s (%d):\n", t, len(byType[t]))
		for _, line := range byType[t] {
			fmt.Printf("  %s\n", line)
		}
	}
	fmt.Printf("total: %d\n", len(subs))
}

func fatal(msg string, err error) {
	slog.Error(msg, slog.Any("err", err))
	os.Exit(1)
}
