// Package reconcile converges Twitch's active EventSub subscription set with
// the set of broadcasters the bot should be watching. It computes the minimal
// diff and issues only the missing creates (or obsolete deletes); individual
// failures never abort a batch.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GoldenShrimpGuild/shrampybot/eventsub"
	"github.com/GoldenShrimpGuild/shrampybot/telemetry"
	"github.com/GoldenShrimpGuild/shrampybot/twitchapi"
)

// HelixAPI is the slice of the Helix client the reconciler needs.
type HelixAPI interface {
	ListEventSubSubscriptions(ctx context.Context, after string) ([]twitchapi.EventSubSubscription, string, error)
	CreateEventSubSubscription(ctx context.Context, eventType, conditionKey, broadcasterID string) error
	DeleteEventSubSubscription(ctx context.Context, id string) error
}

// Reconciler diffs desired broadcaster ids against active subscriptions.
type Reconciler struct {
	API HelixAPI

	// SubscribeOffline includes stream.offline in the maintained event types.
	SubscribeOffline bool

	// Parallelism bounds concurrent create/delete calls. Zero means 4.
	Parallelism int
}

// Result reports what a run did, for observability.
type Result struct {
	Created map[string]int
	Deleted map[string]int
	// Final is the subscription set after the run. Refetched whenever the run
	// mutated anything, so it reflects the new state even on delete-only runs.
	Final []twitchapi.EventSubSubscription
}

func (r *Reconciler) eventTypes() []string {
	types := []string{eventsub.EventStreamOnline, eventsub.EventChannelRaid}
	if r.SubscribeOffline {
		types = append(types, eventsub.EventStreamOffline)
	}
	return types
}

func (r *Reconciler) limit() int {
	if r.Parallelism > 0 {
		return r.Parallelism
	}
	return 4
}

// listAll pages through every active subscription, 100 per page, until an
// empty cursor signals end-of-list.
func (r *Reconciler) listAll(ctx context.Context) ([]twitchapi.EventSubSubscription, error) {
	var all []twitchapi.EventSubSubscription
	after := ""
	for {
		subs, cursor, err := r.API.ListEventSubSubscriptions(ctx, after)
		if err != nil {
			return nil, err
		}
		all = append(all, subs...)
		if cursor == "" || len(subs) == 0 {
			return all, nil
		}
		after = cursor
	}
}

// covered partitions subscriptions by event type into the broadcaster-id sets
// already watched.
func covered(subs []twitchapi.EventSubSubscription) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	for _, sub := range subs {
		id := sub.Condition[eventsub.ConditionKey(sub.Type)]
		if id == "" {
			continue
		}
		if out[sub.Type] == nil {
			out[sub.Type] = map[string]bool{}
		}
		out[sub.Type][id] = true
	}
	return out
}

// Sync creates subscriptions for every desired broadcaster not already
// covered, per maintained event type. Upstream conflicts count as zero new;
// transient failures are logged and skipped. Per-id creates run concurrently;
// outcomes are isolated.
func (r *Reconciler) Sync(ctx context.Context, desired []string) (*Result, error) {
	existing, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}
	have := covered(existing)

	res := &Result{Created: map[string]int{}, Deleted: map[string]int{}}
	var mu sync.Mutex

	for _, evType := range r.eventTypes() {
		key := eventsub.ConditionKey(evType)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.limit())
		for _, id := range desired {
			if have[evType][id] {
				continue
			}
			id := id
			g.Go(func() error {
				err := r.API.CreateEventSubSubscription(gctx, evType, key, id)
				switch {
				case err == nil:
					mu.Lock()
					res.Created[evType]++
					mu.Unlock()
					telemetry.SubscriptionsCreated.Inc()
				case errors.Is(err, twitchapi.ErrConflict):
					// Concurrent reconciliation got there first.
					slog.Debug("subscription already exists", slog.String("type", evType), slog.String("broadcaster", id))
				default:
					// Soft failure: skip this id, continue the batch.
					slog.Warn("subscription create failed", slog.String("type", evType), slog.String("broadcaster", id), slog.Any("err", err))
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	return r.finish(ctx, res, existing)
}

// Prune deletes subscriptions whose broadcaster is no longer desired.
// Not-found deletes are benign.
func (r *Reconciler) Prune(ctx context.Context, desired []string) (*Result, error) {
	existing, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, id := range desired {
		want[id] = true
	}

	obsolete := make([]twitchapi.EventSubSubscription, 0)
	for _, sub := range existing {
		if !want[sub.Condition[eventsub.ConditionKey(sub.Type)]] {
			obsolete = append(obsolete, sub)
		}
	}
	return r.deleteAll(ctx, existing, obsolete)
}

// Teardown deletes every active subscription.
func (r *Reconciler) Teardown(ctx context.Context) (*Result, error) {
	existing, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return r.deleteAll(ctx, existing, existing)
}

func (r *Reconciler) deleteAll(ctx context.Context, existing, victims []twitchapi.EventSubSubscription) (*Result, error) {
	res := &Result{Created: map[string]int{}, Deleted: map[string]int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit())
	for _, sub := range victims {
		sub := sub
		g.Go(func() error {
			err := r.API.DeleteEventSubSubscription(gctx, sub.ID)
			switch {
			case err == nil:
				mu.Lock()
				res.Deleted[sub.Type]++
				mu.Unlock()
				telemetry.SubscriptionsDeleted.Inc()
			case errors.Is(err, twitchapi.ErrNotFound):
				slog.Debug("subscription already gone", slog.String("id", sub.ID))
			default:
				slog.Warn("subscription delete failed", slog.String("id", sub.ID), slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return r.finish(ctx, res, existing)
}

// finish refetches the subscription set when the run changed anything, so the
// reported final state is never stale.
func (r *Reconciler) finish(ctx context.Context, res *Result, unchanged []twitchapi.EventSubSubscription) (*Result, error) {
	mutated := len(res.Created)+len(res.Deleted) > 0
	if !mutated {
		res.Final = unchanged
		return res, nil
	}
	final, err := r.listAll(ctx)
	if err != nil {
		// The mutations themselves succeeded; report what we know.
		slog.Warn("post-reconcile refetch failed", slog.Any("err", err))
		res.Final = unchanged
		return res, nil
	}
	res.Final = final
	return res, nil
}
