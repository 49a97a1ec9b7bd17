package monitor

import (
	"context"
	"fmt"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

// Dedup splits the fetched notifications into the ones that still need an
// alert and the resulting seen set. The input set is never modified.
//
// On a first run every notification is marked as seen and nothing is
// returned for alerting, so a fresh deployment does not replay the backlog.
func Dedup(all []model.Notification, seen model.SeenSet, firstRun bool) ([]model.Notification, model.SeenSet) {
	updated := seen.Clone()
	if firstRun {
		for _, n := range all {
			updated[n.Key()] = struct{}{}
		}
		return nil, updated
	}

	var toAlert []model.Notification
	for _, n := range all {
		k := n.Key()
		if updated.Has(k) {
			continue
		}
		updated[k] = struct{}{}
		toAlert = append(toAlert, n)
	}
	return toAlert, updated
}

// SeenStore is the part of storage.Store the tracker needs.
type SeenStore interface {
	LoadSeen(ctx context.Context) (model.SeenSet, bool, error)
	AppendSeen(ctx context.Context, keys []string) error
}

// EventTracker runs Dedup against the persisted seen set.
type EventTracker struct {
	store SeenStore
	log   logx.Logger
}

func NewEventTracker(store SeenStore, log logx.Logger) *EventTracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EventTracker{store: store, log: log}
}

// Track returns the notifications to alert on. The new keys are persisted
// before Track returns; if that fails nothing is returned, so a notification
// is never dispatched without being recorded first.
func (t *EventTracker) Track(ctx context.Context, all []model.Notification) ([]model.Notification, error) {
	seen, ok, err := t.store.LoadSeen(ctx)
	if err != nil {
		return nil, fmt.Errorf("load seen notifications: %w", err)
	}
	firstRun := !ok

	toAlert, updated := Dedup(all, seen, firstRun)

	var added []string
	for k := range updated {
		if !seen.Has(k) {
			added = append(added, k)
		}
	}
	// A first run with an empty feed still has to create the set.
	if len(added) > 0 || firstRun {
		if err := t.store.AppendSeen(ctx, added); err != nil {
			return nil, fmt.Errorf("persist seen notifications: %w", err)
		}
	}
	if firstRun {
		t.log.Info("notification baseline recorded", logx.Int("count", len(added)))
	}
	return toAlert, nil
}
