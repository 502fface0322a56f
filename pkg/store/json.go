package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/timeline"
)

const (
	timelineEngineName = "timeline"
	rankEngineName     = "rank"

	// TimelineFile and GraphFile are the document names inside a JSONStore directory.
	TimelineFile = "timeline.json"
	GraphFile    = "rank.json"

	defaultImportance = 0.5
)

// timelineDocument is the on-disk timeline format.
type timelineDocument struct {
	Version    string        `json:"version"`
	Engine     string        `json:"engine"`
	EventCount int           `json:"event_count"`
	Events     []eventRecord `json:"events"`
}

type eventRecord struct {
	ID         string         `json:"id"`
	Timestamp  *float64       `json:"timestamp"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	EpisodeID  *string        `json:"episode_id"`
	Importance *float64       `json:"importance"` // Missing means 0.5
}

// graphDocument is the on-disk ranking format. Edges carry raw weights.
type graphDocument struct {
	Version         string             `json:"version"`
	Engine          string             `json:"engine"`
	NodeCount       int                `json:"node_count"`
	EdgeCount       int                `json:"edge_count"`
	Nodes           []string           `json:"nodes"`
	Edges           []rank.Edge        `json:"edges"`
	Personalization map[string]float64 `json:"personalization"`
	Ranks           map[string]float64 `json:"ranks"`
}

// EncodeTimeline writes events as an indented timeline document.
func EncodeTimeline(w io.Writer, events []timeline.Event) error {
	doc := timelineDocument{
		Version:    FormatVersion,
		Engine:     timelineEngineName,
		EventCount: len(events),
		Events:     make([]eventRecord, len(events)),
	}
	for i, ev := range events {
		ts, importance := ev.Timestamp, ev.Importance
		rec := eventRecord{
			ID:         ev.ID,
			Timestamp:  &ts,
			EventType:  ev.Type,
			Payload:    ev.Payload,
			Importance: &importance,
		}
		if ev.EpisodeID != "" {
			episode := ev.EpisodeID
			rec.EpisodeID = &episode
		}
		if rec.Payload == nil {
			rec.Payload = map[string]any{}
		}
		doc.Events[i] = rec
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode timeline document: %w", err)
	}
	return nil
}

// DecodeTimeline reads a timeline document.
func DecodeTimeline(r io.Reader) ([]timeline.Event, error) {
	var doc timelineDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if err := checkHeader(doc.Version, doc.Engine, timelineEngineName); err != nil {
		return nil, err
	}
	if doc.EventCount != len(doc.Events) {
		return nil, fmt.Errorf("%w: event_count %d does not match %d events", ErrMalformedDocument, doc.EventCount, len(doc.Events))
	}

	events := make([]timeline.Event, len(doc.Events))
	for i, rec := range doc.Events {
		if rec.ID == "" {
			return nil, fmt.Errorf("%w: event %d has no id", ErrMalformedDocument, i)
		}
		if rec.Timestamp == nil {
			return nil, fmt.Errorf("%w: event %s has no timestamp", ErrMalformedDocument, rec.ID)
		}
		ev := timeline.Event{
			ID:         rec.ID,
			Timestamp:  *rec.Timestamp,
			Type:       rec.EventType,
			Payload:    rec.Payload,
			Importance: defaultImportance,
		}
		if rec.EpisodeID != nil {
			ev.EpisodeID = *rec.EpisodeID
		}
		if rec.Importance != nil {
			ev.Importance = *rec.Importance
		}
		events[i] = ev
	}
	return events, nil
}

// EncodeGraph writes a ranking snapshot as an indented graph document.
func EncodeGraph(w io.Writer, snap rank.Snapshot) error {
	edges := snap.Edges
	if edges == nil {
		edges = []rank.Edge{}
	}
	nodes := snap.NodeIDs
	if nodes == nil {
		nodes = []string{}
	}
	doc := graphDocument{
		Version:         FormatVersion,
		Engine:          rankEngineName,
		NodeCount:       len(nodes),
		EdgeCount:       len(edges),
		Nodes:           nodes,
		Edges:           edges,
		Personalization: snap.Personalization,
		Ranks:           snap.Ranks,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graph document: %w", err)
	}
	return nil
}

// DecodeGraph reads a graph document.
func DecodeGraph(r io.Reader) (rank.Snapshot, error) {
	var doc graphDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return rank.Snapshot{}, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if err := checkHeader(doc.Version, doc.Engine, rankEngineName); err != nil {
		return rank.Snapshot{}, err
	}
	if doc.NodeCount != len(doc.Nodes) || doc.EdgeCount != len(doc.Edges) {
		return rank.Snapshot{}, fmt.Errorf("%w: counts do not match %d nodes and %d edges", ErrMalformedDocument, len(doc.Nodes), len(doc.Edges))
	}
	return rank.Snapshot{
		NodeIDs:         doc.Nodes,
		Edges:           doc.Edges,
		Personalization: doc.Personalization,
		Ranks:           doc.Ranks,
	}, nil
}

// checkHeader accepts any 1.x version and rejects documents of another engine.
func checkHeader(version, engine, wantEngine string) error {
	if version == "" {
		return fmt.Errorf("%w: missing version", ErrMalformedDocument)
	}
	if !strings.HasPrefix(version, "1.") {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	if engine != "" && engine != wantEngine {
		return fmt.Errorf("%w: document is for engine %q, want %q", ErrMalformedDocument, engine, wantEngine)
	}
	return nil
}

// JSONStore keeps one timeline document and one graph document in a directory.
// Writes are atomic: a document is written to a temporary file, synced and
// renamed over the previous version.
type JSONStore struct {
	dir string
}

// Compile-time interface checks
var (
	_ EventStore = (*JSONStore)(nil)
	_ GraphStore = (*JSONStore)(nil)
)

// NewJSONStore returns a store rooted at dir, creating it if needed.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *JSONStore) Dir() string {
	return s.dir
}

// SaveEvents atomically replaces the timeline document.
func (s *JSONStore) SaveEvents(ctx context.Context, events []timeline.Event) (int, error) {
	err := s.writeAtomic(ctx, TimelineFile, func(w io.Writer) error {
		return EncodeTimeline(w, events)
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// LoadEvents reads the timeline document.
func (s *JSONStore) LoadEvents(ctx context.Context) ([]timeline.Event, error) {
	var events []timeline.Event
	err := s.read(ctx, TimelineFile, func(r io.Reader) error {
		var err error
		events, err = DecodeTimeline(r)
		return err
	})
	return events, err
}

// SaveGraph atomically replaces the graph document.
func (s *JSONStore) SaveGraph(ctx context.Context, snap rank.Snapshot) error {
	return s.writeAtomic(ctx, GraphFile, func(w io.Writer) error {
		return EncodeGraph(w, snap)
	})
}

// LoadGraph reads the graph document.
func (s *JSONStore) LoadGraph(ctx context.Context) (rank.Snapshot, error) {
	var snap rank.Snapshot
	err := s.read(ctx, GraphFile, func(r io.Reader) error {
		var err error
		snap, err = DecodeGraph(r)
		return err
	})
	return snap, err
}

// Close does nothing; JSONStore holds no open resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) read(ctx context.Context, name string, decode func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := decode(f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func (s *JSONStore) writeAtomic(ctx context.Context, name string, encode func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := encode(tmp); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
