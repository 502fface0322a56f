// Package store persists timeline events and ranking graphs so that a process
// restart loses neither. Two backends are provided: JSON documents in a
// directory (JSONStore) and a SQLite database (SQLiteStore).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/timeline"
)

// FormatVersion is written into every persisted document.
const FormatVersion = "1.0.0"

var (
	// ErrNotFound indicates that nothing has been persisted yet.
	ErrNotFound = errors.New("store: nothing persisted")

	// ErrMalformedDocument indicates persisted data that cannot be decoded or
	// fails validation.
	ErrMalformedDocument = errors.New("store: malformed document")

	// ErrUnsupportedVersion indicates a document written by an incompatible format version.
	ErrUnsupportedVersion = errors.New("store: unsupported format version")
)

// EventStore persists timeline events.
type EventStore interface {
	// SaveEvents replaces all persisted events and returns how many were written.
	SaveEvents(ctx context.Context, events []timeline.Event) (int, error)

	// LoadEvents returns the persisted events in time order.
	// Returns an error wrapping ErrNotFound if nothing was ever saved.
	LoadEvents(ctx context.Context) ([]timeline.Event, error)

	// Close releases any resources held by the store.
	Close() error
}

// GraphStore persists ranking engine snapshots.
type GraphStore interface {
	// SaveGraph replaces the persisted snapshot.
	SaveGraph(ctx context.Context, snap rank.Snapshot) error

	// LoadGraph returns the persisted snapshot.
	// Returns an error wrapping ErrNotFound if nothing was ever saved.
	LoadGraph(ctx context.Context) (rank.Snapshot, error)

	// Close releases any resources held by the store.
	Close() error
}

// LoadMode selects how loaded events combine with a live timeline.
type LoadMode int

const (
	// LoadReplace clears the timeline before loading.
	LoadReplace LoadMode = iota
	// LoadAppend adds loaded events to the existing ones.
	LoadAppend
)

// SaveTimeline writes every event of tl to dst.
func SaveTimeline(ctx context.Context, dst EventStore, tl *timeline.Store) (int, error) {
	return dst.SaveEvents(ctx, tl.All())
}

// LoadTimeline reads events from src into tl and returns how many were read.
//
// The events are validated before tl is modified, so a failed load leaves tl
// untouched. In LoadAppend mode an event ID already present in tl is an error.
// Loading more events than the timeline capacity evicts the oldest as usual.
func LoadTimeline(ctx context.Context, src EventStore, tl *timeline.Store, mode LoadMode) (int, error) {
	events, err := src.LoadEvents(ctx)
	if err != nil {
		return 0, err
	}
	if err := validateEvents(events); err != nil {
		return 0, err
	}
	if mode == LoadAppend {
		for _, ev := range events {
			if _, exists := tl.Get(ev.ID); exists {
				return 0, fmt.Errorf("%w: event %s already in timeline", timeline.ErrDuplicateEventID, ev.ID)
			}
		}
	} else {
		tl.Clear()
	}

	for _, ev := range events {
		_, err := tl.Append(timeline.NewEvent{
			ID:         ev.ID,
			Timestamp:  ev.Timestamp,
			Type:       ev.Type,
			Payload:    ev.Payload,
			EpisodeID:  ev.EpisodeID,
			Importance: ev.Importance,
		})
		if err != nil {
			return 0, fmt.Errorf("load event %s: %w", ev.ID, err)
		}
	}
	return len(events), nil
}

// SaveEngine writes the engine snapshot to dst. It returns
// rank.ErrNotInitialized when no graph has been built.
func SaveEngine(ctx context.Context, dst GraphStore, e *rank.Engine) error {
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	return dst.SaveGraph(ctx, snap)
}

// LoadEngine restores the engine from src.
func LoadEngine(ctx context.Context, src GraphStore, e *rank.Engine) error {
	snap, err := src.LoadGraph(ctx)
	if err != nil {
		return err
	}
	if err := e.Restore(snap); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	return nil
}

// validateEvents checks the invariants the timeline would otherwise reject
// half-way through a load.
func validateEvents(events []timeline.Event) error {
	seen := make(map[string]struct{}, len(events))
	for i, ev := range events {
		if ev.ID == "" {
			return fmt.Errorf("%w: event %d has no id", ErrMalformedDocument, i)
		}
		if _, dup := seen[ev.ID]; dup {
			return fmt.Errorf("%w: duplicate event id %s", ErrMalformedDocument, ev.ID)
		}
		seen[ev.ID] = struct{}{}
		if !isFinite(ev.Timestamp) {
			return fmt.Errorf("%w: event %s has non-finite timestamp", ErrMalformedDocument, ev.ID)
		}
	}
	return nil
}
