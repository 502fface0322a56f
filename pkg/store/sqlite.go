package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/timeline"
)

// SQLiteStore implements EventStore and GraphStore on a SQLite database.
// Every save replaces the previous contents inside a single transaction.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface checks
var (
	_ EventStore = (*SQLiteStore)(nil)
	_ GraphStore = (*SQLiteStore)(nil)
)

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	driver string
}

// WithDriver selects the database/sql driver name. DriverPure ("sqlite",
// modernc.org/sqlite) is the default; DriverCGO ("sqlite3", mattn/go-sqlite3)
// is the cgo alternative.
func WithDriver(name string) SQLiteOption {
	return func(o *sqliteOptions) {
		if name != "" {
			o.driver = name
		}
	}
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	o := sqliteOptions{driver: DriverPure}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open(o.driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		timestamp REAL NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		episode_id TEXT,
		importance REAL NOT NULL DEFAULT 0.5
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_events_episode ON events(episode_id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rank_nodes (
		idx INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		personalization REAL NOT NULL,
		rank REAL
	);

	CREATE TABLE IF NOT EXISTS rank_edges (
		src TEXT NOT NULL,
		dst TEXT NOT NULL,
		weight REAL NOT NULL,
		PRIMARY KEY (src, dst)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying handle for diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SaveEvents replaces all stored events.
func (s *SQLiteStore) SaveEvents(ctx context.Context, events []timeline.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return 0, fmt.Errorf("failed to clear events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, seq, timestamp, event_type, payload, episode_id, importance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		payload := ev.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal payload of event %s: %w", ev.ID, err)
		}
		var episode sql.NullString
		if ev.EpisodeID != "" {
			episode = sql.NullString{String: ev.EpisodeID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, i, ev.Timestamp, ev.Type, string(payloadJSON), episode, ev.Importance); err != nil {
			return 0, fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO meta (key, value) VALUES ('events_saved', '1')"); err != nil {
		return 0, fmt.Errorf("failed to mark events saved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit events: %w", err)
	}
	return len(events), nil
}

// LoadEvents returns stored events in time order. Events with equal
// timestamps keep the order in which they were saved.
func (s *SQLiteStore) LoadEvents(ctx context.Context) ([]timeline.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, payload, episode_id, importance
		FROM events
		ORDER BY timestamp, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []timeline.Event{}
	for rows.Next() {
		var (
			ev          timeline.Event
			payloadJSON string
			episode     sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &payloadJSON, &episode, &ev.Importance); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("%w: payload of event %s: %w", ErrMalformedDocument, ev.ID, err)
		}
		ev.EpisodeID = episode.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	if len(events) == 0 {
		saved, err := s.metaValue(ctx, "events_saved")
		if err != nil {
			return nil, err
		}
		if saved == "" {
			return nil, fmt.Errorf("%w: no events saved", ErrNotFound)
		}
	}
	return events, nil
}

// SaveGraph replaces the stored snapshot.
func (s *SQLiteStore) SaveGraph(ctx context.Context, snap rank.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{"DELETE FROM rank_nodes", "DELETE FROM rank_edges", "DELETE FROM meta WHERE key <> 'events_saved'"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to clear graph: %w", err)
		}
	}

	hasRanks := "0"
	if snap.Ranks != nil {
		hasRanks = "1"
	}
	for key, value := range map[string]string{
		"version":   FormatVersion,
		"engine":    rankEngineName,
		"has_ranks": hasRanks,
	} {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("failed to write graph metadata: %w", err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, "INSERT INTO rank_nodes (idx, id, personalization, rank) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	for i, id := range snap.NodeIDs {
		p := 1.0
		if snap.Personalization != nil {
			p = snap.Personalization[id]
		}
		var r sql.NullFloat64
		if snap.Ranks != nil {
			r = sql.NullFloat64{Float64: snap.Ranks[id], Valid: true}
		}
		if _, err := nodeStmt.ExecContext(ctx, i, id, p, r); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", id, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rank_edges (src, dst, weight) VALUES (?, ?, ?)
		ON CONFLICT (src, dst) DO UPDATE SET weight = weight + excluded.weight
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, edge := range snap.Edges {
		if _, err := edgeStmt.ExecContext(ctx, edge.Source, edge.Target, edge.Weight); err != nil {
			return fmt.Errorf("failed to insert edge %s -> %s: %w", edge.Source, edge.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	return nil
}

// LoadGraph returns the stored snapshot.
func (s *SQLiteStore) LoadGraph(ctx context.Context) (rank.Snapshot, error) {
	version, err := s.metaValue(ctx, "version")
	if err != nil {
		return rank.Snapshot{}, err
	}
	if version == "" {
		return rank.Snapshot{}, fmt.Errorf("%w: no graph saved", ErrNotFound)
	}
	engine, err := s.metaValue(ctx, "engine")
	if err != nil {
		return rank.Snapshot{}, err
	}
	if err := checkHeader(version, engine, rankEngineName); err != nil {
		return rank.Snapshot{}, err
	}
	hasRanks, err := s.metaValue(ctx, "has_ranks")
	if err != nil {
		return rank.Snapshot{}, err
	}

	snap := rank.Snapshot{
		NodeIDs:         []string{},
		Edges:           []rank.Edge{},
		Personalization: map[string]float64{},
	}
	if hasRanks == "1" {
		snap.Ranks = map[string]float64{}
	}

	nodeRows, err := s.db.QueryContext(ctx, "SELECT id, personalization, rank FROM rank_nodes ORDER BY idx")
	if err != nil {
		return rank.Snapshot{}, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		var (
			id string
			p  float64
			r  sql.NullFloat64
		)
		if err := nodeRows.Scan(&id, &p, &r); err != nil {
			return rank.Snapshot{}, fmt.Errorf("failed to scan node: %w", err)
		}
		snap.NodeIDs = append(snap.NodeIDs, id)
		snap.Personalization[id] = p
		if snap.Ranks != nil {
			if !r.Valid {
				return rank.Snapshot{}, fmt.Errorf("%w: node %s has no rank", ErrMalformedDocument, id)
			}
			snap.Ranks[id] = r.Float64
		}
	}
	if err := nodeRows.Err(); err != nil {
		return rank.Snapshot{}, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT e.src, e.dst, e.weight
		FROM rank_edges e
		JOIN rank_nodes s ON s.id = e.src
		JOIN rank_nodes d ON d.id = e.dst
		ORDER BY s.idx, d.idx
	`)
	if err != nil {
		return rank.Snapshot{}, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var edge rank.Edge
		if err := edgeRows.Scan(&edge.Source, &edge.Target, &edge.Weight); err != nil {
			return rank.Snapshot{}, fmt.Errorf("failed to scan edge: %w", err)
		}
		snap.Edges = append(snap.Edges, edge)
	}
	if err := edgeRows.Err(); err != nil {
		return rank.Snapshot{}, fmt.Errorf("failed to iterate edges: %w", err)
	}
	return snap, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// metaValue returns "" for a missing key.
func (s *SQLiteStore) metaValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value, nil
}
