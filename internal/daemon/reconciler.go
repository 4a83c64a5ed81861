// Package daemon keeps the display core's topology snapshot fresh while the
// daemon runs.
package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/1broseidon/dispcore/internal/display"
	"go.uber.org/zap"
)

// StatusSource refreshes and returns the current display topology.
type StatusSource interface {
	GetDisplaysStatus() (map[int32]display.Status, error)
}

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
	Logger   *zap.Logger
	// Events receives a hotplug event for every topology change. Optional.
	Events display.EventHandler
}

// Reconciler periodically re-reads the topology and reports hotplug changes.
type Reconciler struct {
	interval time.Duration
	source   StatusSource
	events   display.EventHandler
	logger   *zap.Logger
	now      func() time.Time

	last map[int32]display.Status
}

// Change is one difference between two topology reads.
type Change struct {
	DisplayID int32
	Before    *display.Status
	After     *display.Status
}

// Detail renders the change for logs and event records.
func (c Change) Detail() string {
	switch {
	case c.Before == nil && c.After != nil:
		return fmt.Sprintf("added %s", describe(*c.After))
	case c.Before != nil && c.After == nil:
		return fmt.Sprintf("removed %s", describe(*c.Before))
	case c.Before != nil && c.After != nil:
		return fmt.Sprintf("%s -> %s", describe(*c.Before), describe(*c.After))
	}
	return ""
}

func describe(s display.Status) string {
	state := "disconnected"
	if s.Connected {
		state = "connected"
	}
	if s.Name != "" {
		return fmt.Sprintf("%s %s %s", s.Type, s.Name, state)
	}
	return fmt.Sprintf("%s %s", s.Type, state)
}

// NewReconciler creates a reconciler. initial is the topology the core
// already holds; nil means the first pass reports every display as added.
func NewReconciler(cfg ReconcilerConfig, source StatusSource, initial map[int32]display.Status) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	last := make(map[int32]display.Status, len(initial))
	for id, st := range initial {
		last[id] = st
	}

	return &Reconciler{
		interval: interval,
		source:   source,
		events:   cfg.Events,
		logger:   logger,
		now:      time.Now,
		last:     last,
	}
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.reconcile()
		}
	}
}

// ReconcileNow triggers an immediate reconciliation pass and returns the
// changes it found.
func (r *Reconciler) ReconcileNow() []Change {
	return r.reconcile()
}

func (r *Reconciler) reconcile() (changes []Change) {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", zap.Any("error", err))
			changes = nil
		}
	}()

	current, err := r.source.GetDisplaysStatus()
	if err != nil {
		// The core keeps its previous snapshot; so do we.
		r.logger.Warn("reconciler: failed to refresh displays status", zap.Error(err))
		return nil
	}

	changes = Diff(r.last, current)
	r.last = current

	for _, ch := range changes {
		r.logger.Info("display topology changed",
			zap.Int32("display_id", ch.DisplayID),
			zap.String("change", ch.Detail()))
		if r.events == nil {
			continue
		}
		ev := display.Event{
			Kind:      display.EventHotplug,
			DisplayID: ch.DisplayID,
			Detail:    ch.Detail(),
			At:        r.now(),
		}
		if err := r.events.HandleEvent(ev); err != nil {
			r.logger.Warn("reconciler: failed to deliver hotplug event",
				zap.Int32("display_id", ch.DisplayID),
				zap.Error(err))
		}
	}
	return changes
}

// Diff returns the changes from before to after, ordered by display id.
func Diff(before, after map[int32]display.Status) []Change {
	var changes []Change
	for id, old := range before {
		cur, ok := after[id]
		switch {
		case !ok:
			o := old
			changes = append(changes, Change{DisplayID: id, Before: &o})
		case cur != old:
			o, c := old, cur
			changes = append(changes, Change{DisplayID: id, Before: &o, After: &c})
		}
	}
	for id, cur := range after {
		if _, ok := before[id]; !ok {
			c := cur
			changes = append(changes, Change{DisplayID: id, After: &c})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].DisplayID < changes[j].DisplayID
	})
	return changes
}
