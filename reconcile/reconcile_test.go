package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/GoldenShrimpGuild/shrampybot/eventsub"
	"github.com/GoldenShrimpGuild/shrampybot/twitchapi"
)

// fakeHelix implements HelixAPI over an in-memory subscription set.
type fakeHelix struct {
	mu   sync.Mutex
	subs []twitchapi.EventSubSubscription
	next int

	pageSize int // 0 = everything in one page

	// createErr, when set, is returned for creates on the given broadcaster.
	createErr map[string]error

	lists, creates, deletes int
}

func (f *fakeHelix) ListEventSubSubscriptions(_ context.Context, after string) ([]twitchapi.EventSubSubscription, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.pageSize <= 0 || f.pageSize >= len(f.subs) {
		return append([]twitchapi.EventSubSubscription(nil), f.subs...), "", nil
	}
	start := 0
	if after != "" {
		_, _ = fmt.Sscanf(after, "c%d", &start)
	}
	end := start + f.pageSize
	cursor := ""
	if end >= len(f.subs) {
		end = len(f.subs)
	} else {
		cursor = fmt.Sprintf("c%d", end)
	}
	return append([]twitchapi.EventSubSubscription(nil), f.subs[start:end]...), cursor, nil
}

func (f *fakeHelix) CreateEventSubSubscription(_ context.Context, eventType, conditionKey, broadcasterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := f.createErr[broadcasterID]; err != nil {
		return err
	}
	for _, s := range f.subs {
		if s.Type == eventType && s.Condition[conditionKey] == broadcasterID {
			return twitchapi.ErrConflict
		}
	}
	f.next++
	f.subs = append(f.subs, twitchapi.EventSubSubscription{
		ID:        fmt.Sprintf("sub-%d", f.next),
		Type:      eventType,
		Condition: map[string]string{conditionKey: broadcasterID},
	})
	return nil
}

func (f *fakeHelix) DeleteEventSubSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for i, s := range f.subs {
		if s.ID == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return nil
		}
	}
	return twitchapi.ErrNotFound
}

func existing(evType, key string, ids ...string) []twitchapi.EventSubSubscription {
	out := make([]twitchapi.EventSubSubscription, 0, len(ids))
	for i, id := range ids {
		out = append(out, twitchapi.EventSubSubscription{
			ID:        fmt.Sprintf("pre-%s-%d", evType, i),
			Type:      evType,
			Condition: map[string]string{key: id},
		})
	}
	return out
}

func TestSyncConvergence(t *testing.T) {
	fake := &fakeHelix{subs: existing(eventsub.EventStreamOnline, "broadcaster_user_id", "A")}
	r := &Reconciler{API: fake}

	res, err := r.Sync(context.Background(), []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// online missing {B,C}; raid missing {A,B,C}
	if res.Created[eventsub.EventStreamOnline] != 2 {
		t.Errorf("online created = %d, want 2", res.Created[eventsub.EventStreamOnline])
	}
	if res.Created[eventsub.EventChannelRaid] != 3 {
		t.Errorf("raid created = %d, want 3", res.Created[eventsub.EventChannelRaid])
	}
	if res.Created[eventsub.EventStreamOffline] != 0 {
		t.Errorf("offline created = %d, want 0 (policy off)", res.Created[eventsub.EventStreamOffline])
	}
	final := covered(res.Final)
	for _, id := range []string{"A", "B", "C"} {
		if !final[eventsub.EventStreamOnline][id] {
			t.Errorf("final set missing online subscription for %s", id)
		}
		if !final[eventsub.EventChannelRaid][id] {
			t.Errorf("final set missing raid subscription for %s", id)
		}
	}
}

func TestSyncIdempotent(t *testing.T) {
	fake := &fakeHelix{}
	r := &Reconciler{API: fake, SubscribeOffline: true}
	desired := []string{"A", "B"}

	if _, err := r.Sync(context.Background(), desired); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	creates := fake.creates

	res, err := r.Sync(context.Background(), desired)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(res.Created) != 0 {
		t.Errorf("second run created %v, want nothing", res.Created)
	}
	if fake.creates != creates {
		t.Errorf("second run issued %d create calls, want 0", fake.creates-creates)
	}
}

func TestSyncConflictIsBenign(t *testing.T) {
	fake := &fakeHelix{
		subs:      existing(eventsub.EventStreamOnline, "broadcaster_user_id", "A"),
		createErr: map[string]error{"B": twitchapi.ErrConflict},
	}
	r := &Reconciler{API: fake}

	res, err := r.Sync(context.Background(), []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// B conflicts on both event types and must count as zero new; the only
	// net-new online subscription is C.
	if res.Created[eventsub.EventStreamOnline] != 1 {
		t.Errorf("online created = %d, want 1 (just C)", res.Created[eventsub.EventStreamOnline])
	}
	if res.Created[eventsub.EventChannelRaid] != 2 {
		t.Errorf("raid created = %d, want 2 (A and C)", res.Created[eventsub.EventChannelRaid])
	}
}

func TestSyncTransientFailureContinuesBatch(t *testing.T) {
	fake := &fakeHelix{createErr: map[string]error{"B": errors.New("backend timeout")}}
	r := &Reconciler{API: fake, Parallelism: 1}

	res, err := r.Sync(context.Background(), []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("Sync must not fail on a single id: %v", err)
	}
	if res.Created[eventsub.EventStreamOnline] != 2 {
		t.Errorf("online created = %d, want 2 (A and C despite B failing)", res.Created[eventsub.EventStreamOnline])
	}
	if res.Created[eventsub.EventChannelRaid] != 2 {
		t.Errorf("raid created = %d, want 2", res.Created[eventsub.EventChannelRaid])
	}
}

func TestSyncPaginates(t *testing.T) {
	subs := existing(eventsub.EventStreamOnline, "broadcaster_user_id",
		"u1", "u2", "u3", "u4", "u5")
	fake := &fakeHelix{subs: subs, pageSize: 2}
	r := &Reconciler{API: fake}

	res, err := r.Sync(context.Background(), []string{"u1", "u2", "u3", "u4", "u5"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Created[eventsub.EventStreamOnline] != 0 {
		t.Errorf("online created = %d, want 0 (all covered across pages)", res.Created[eventsub.EventStreamOnline])
	}
}

func TestPrune(t *testing.T) {
	subs := append(
		existing(eventsub.EventStreamOnline, "broadcaster_user_id", "A", "B"),
		existing(eventsub.EventChannelRaid, "from_broadcaster_user_id", "A", "B")...)
	fake := &fakeHelix{subs: subs}
	r := &Reconciler{API: fake}

	res, err := r.Prune(context.Background(), []string{"A"})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if res.Deleted[eventsub.EventStreamOnline] != 1 || res.Deleted[eventsub.EventChannelRaid] != 1 {
		t.Errorf("deleted = %v, want one per type (just B)", res.Deleted)
	}
	final := covered(res.Final)
	if !final[eventsub.EventStreamOnline]["A"] || final[eventsub.EventStreamOnline]["B"] {
		t.Errorf("final online set = %v, want only A", final[eventsub.EventStreamOnline])
	}
}

func TestTeardown(t *testing.T) {
	subs := append(
		existing(eventsub.EventStreamOnline, "broadcaster_user_id", "A", "B"),
		existing(eventsub.EventChannelRaid, "from_broadcaster_user_id", "A")...)
	fake := &fakeHelix{subs: subs}
	r := &Reconciler{API: fake}

	res, err := r.Teardown(context.Background())
	if err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if res.Deleted[eventsub.EventStreamOnline] != 2 || res.Deleted[eventsub.EventChannelRaid] != 1 {
		t.Errorf("deleted = %v", res.Deleted)
	}
	if len(res.Final) != 0 {
		t.Errorf("final set = %v, want empty", res.Final)
	}
}

func TestDeleteNotFoundIsBenign(t *testing.T) {
	// A racing reconciler removed pre-online-0 between the list and the
	// delete; the run should still succeed.
	fake := &fakeHelix{}
	r := &Reconciler{API: fake}
	victims := existing(eventsub.EventStreamOnline, "broadcaster_user_id", "A")

	res, err := r.deleteAll(context.Background(), victims, victims)
	if err != nil {
		t.Fatalf("deleteAll: %v", err)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("deleted = %v, want nothing counted", res.Deleted)
	}
}
