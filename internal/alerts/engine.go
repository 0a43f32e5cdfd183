package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xelth-com/fieldsync/internal/kv"
	"github.com/xelth-com/fieldsync/internal/location"
	"github.com/xelth-com/fieldsync/internal/store"
)

const dismissedPrefix = "alerts.dismissed/"

// Engine computes alerts from the store and filters out dismissed ones.
// Dismissals are kept by alert id in a KeyValueStore, so they survive
// restarts and a dismissed condition that reappears stays hidden.
type Engine struct {
	store *store.Store
	kv    kv.KeyValueStore
	now   func() time.Time
}

// NewEngine creates an alert engine
func NewEngine(st *store.Store, values kv.KeyValueStore) *Engine {
	return &Engine{store: st, kv: values, now: time.Now}
}

// WithClock replaces the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// All returns every current alert, dismissed or not
func (e *Engine) All(ctx context.Context, pos *location.Position) ([]Alert, error) {
	workOrders, err := e.store.WorkOrders.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load work orders: %w", err)
	}
	responses, err := e.store.ChecklistResponses.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checklist responses: %w", err)
	}
	customers, err := e.store.CustomerSnapshots.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}

	return Compute(Input{
		WorkOrders:         workOrders,
		ChecklistResponses: responses,
		Customers:          customers,
		Position:           pos,
		Now:                e.now().UTC(),
	}), nil
}

// Active returns the alerts that have not been dismissed
func (e *Engine) Active(ctx context.Context, pos *location.Position) ([]Alert, error) {
	all, err := e.All(ctx, pos)
	if err != nil {
		return nil, err
	}
	dismissed, err := e.dismissedSet(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]Alert, 0, len(all))
	for _, a := range all {
		if !dismissed[a.ID] {
			active = append(active, a)
		}
	}
	return active, nil
}

// Dismiss hides the alert with id
func (e *Engine) Dismiss(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("alert id is required")
	}
	return e.kv.Set(ctx, dismissedPrefix+id, e.now().UTC().Format(time.RFC3339))
}

// Restore undoes Dismiss
func (e *Engine) Restore(ctx context.Context, id string) error {
	return e.kv.Delete(ctx, dismissedPrefix+id)
}

// Dismissed lists dismissed alert ids
func (e *Engine) Dismissed(ctx context.Context) ([]string, error) {
	keys, err := e.kv.Keys(ctx, dismissedPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, dismissedPrefix))
	}
	return ids, nil
}

func (e *Engine) dismissedSet(ctx context.Context) (map[string]bool, error) {
	ids, err := e.Dismissed(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
