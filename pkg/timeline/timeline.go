// Package timeline provides an append-only, time-ordered event log with range
// queries, episode segmentation and exponential recency decay.
//
// A Store is not safe for concurrent use. Callers that share a Store across
// goroutines must serialize Append and Clear themselves.
package timeline

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidConfig is returned by New when a Config field is out of range.
	ErrInvalidConfig = errors.New("timeline: invalid config")

	// ErrInvalidTimestamp is returned when an event timestamp is NaN or infinite.
	ErrInvalidTimestamp = errors.New("timeline: timestamp must be finite")

	// ErrDuplicateEventID is returned when an explicit event ID is already stored.
	ErrDuplicateEventID = errors.New("timeline: duplicate event id")

	// ErrUnknownSegmentMethod is returned by SegmentEpisodes for an unsupported method.
	ErrUnknownSegmentMethod = errors.New("timeline: unknown segmentation method")
)

// Config holds the tunables of a Store.
type Config struct {
	// MaxEvents caps the number of stored events (default: 100000).
	// Appending beyond the cap silently evicts the oldest event.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// TimeGapThreshold is the default gap in seconds that starts a new
	// episode in time-gap segmentation (default: 1800).
	TimeGapThreshold float64 `yaml:"time_gap_threshold" json:"time_gap_threshold"`

	// RecencyHalfLife is the half-life in seconds of importance decay (default: 86400).
	RecencyHalfLife float64 `yaml:"recency_half_life" json:"recency_half_life"`
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() Config {
	return Config{
		MaxEvents:        100000,
		TimeGapThreshold: 1800,
		RecencyHalfLife:  86400,
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if c.MaxEvents <= 0 {
		return fmt.Errorf("%w: max_events must be positive, got %d", ErrInvalidConfig, c.MaxEvents)
	}
	if c.TimeGapThreshold < 0 || math.IsNaN(c.TimeGapThreshold) || math.IsInf(c.TimeGapThreshold, 0) {
		return fmt.Errorf("%w: time_gap_threshold must be a finite non-negative number, got %v", ErrInvalidConfig, c.TimeGapThreshold)
	}
	if c.RecencyHalfLife <= 0 || math.IsNaN(c.RecencyHalfLife) || math.IsInf(c.RecencyHalfLife, 0) {
		return fmt.Errorf("%w: recency_half_life must be a finite positive number, got %v", ErrInvalidConfig, c.RecencyHalfLife)
	}
	return nil
}

// Event is an immutable timeline entry. Values returned by a Store are copies;
// modifying them does not affect stored state.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  float64        `json:"timestamp"` // Unix seconds
	Type       string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	EpisodeID  string         `json:"episode_id,omitempty"` // Empty when the event belongs to no episode
	Importance float64        `json:"importance"`           // Base importance in [0,1]
}

// NewEvent describes an event to append. An empty ID is replaced by a fresh UUID.
type NewEvent struct {
	ID         string
	Timestamp  float64
	Type       string
	Payload    map[string]any
	EpisodeID  string
	Importance float64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used by the *Now score helpers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the time-ordered event log.
type Store struct {
	cfg Config
	now func() time.Time

	events       []Event             // sorted by Timestamp, ties in insertion order
	timestamps   []float64           // parallel to events, for binary search
	byID         map[string]Event    // id -> event
	episodeIndex map[string][]string // episode id -> event ids in insertion order
}

// New creates an empty Store. It fails fast on an invalid Config.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:          cfg,
		now:          time.Now,
		byID:         make(map[string]Event),
		episodeIndex: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the Store was created with.
func (s *Store) Config() Config {
	return s.cfg
}

// Append inserts an event keeping timestamp order and returns its ID.
//
// Importance is clamped to [0,1]. When the store exceeds MaxEvents the oldest
// event is evicted before Append returns, which may be the event just appended
// if it is older than everything else.
func (s *Store) Append(ev NewEvent) (string, error) {
	if math.IsNaN(ev.Timestamp) || math.IsInf(ev.Timestamp, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidTimestamp, ev.Timestamp)
	}

	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	} else if _, exists := s.byID[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateEventID, id)
	}

	event := Event{
		ID:         id,
		Timestamp:  ev.Timestamp,
		Type:       ev.Type,
		Payload:    clonePayload(ev.Payload),
		EpisodeID:  ev.EpisodeID,
		Importance: clamp01(ev.Importance),
	}

	idx := upperBound(s.timestamps, event.Timestamp)
	s.events = slices.Insert(s.events, idx, event)
	s.timestamps = slices.Insert(s.timestamps, idx, event.Timestamp)
	s.byID[event.ID] = event

	if event.EpisodeID != "" {
		s.episodeIndex[event.EpisodeID] = append(s.episodeIndex[event.EpisodeID], event.ID)
	}

	for len(s.events) > s.cfg.MaxEvents {
		s.evictOldest()
	}

	return event.ID, nil
}

// evictOldest removes the first event and its episode index entry.
func (s *Store) evictOldest() {
	oldest := s.events[0]
	s.events[0] = Event{}
	s.events = s.events[1:]
	s.timestamps = s.timestamps[1:]
	delete(s.byID, oldest.ID)

	if oldest.EpisodeID == "" {
		return
	}
	ids := s.episodeIndex[oldest.EpisodeID]
	if i := slices.Index(ids, oldest.ID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(s.episodeIndex, oldest.EpisodeID)
	} else {
		s.episodeIndex[oldest.EpisodeID] = ids
	}
}

// QueryRange returns the events with tStart <= Timestamp <= tEnd in time order.
func (s *Store) QueryRange(tStart, tEnd float64) []Event {
	lo := lowerBound(s.timestamps, tStart)
	hi := upperBound(s.timestamps, tEnd)
	if lo >= hi {
		return []Event{}
	}
	return copyEvents(s.events[lo:hi])
}

// Recent returns the last n events, oldest first. It returns fewer when the
// store holds fewer than n events.
func (s *Store) Recent(n int) []Event {
	if n <= 0 {
		return []Event{}
	}
	if n > len(s.events) {
		n = len(s.events)
	}
	return copyEvents(s.events[len(s.events)-n:])
}

// Get returns the event with the given ID.
func (s *Store) Get(id string) (Event, bool) {
	ev, ok := s.byID[id]
	if !ok {
		return Event{}, false
	}
	ev.Payload = clonePayload(ev.Payload)
	return ev, true
}

// All returns every event in time order.
func (s *Store) All() []Event {
	return copyEvents(s.events)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	return len(s.events)
}

// Episode returns the events tagged with episodeID, in time order.
func (s *Store) Episode(episodeID string) []Event {
	ids := s.episodeIndex[episodeID]
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.Get(id); ok {
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events
}

// EpisodeIDs returns the sorted IDs of all tagged episodes.
func (s *Store) EpisodeIDs() []string {
	ids := make([]string, 0, len(s.episodeIndex))
	for id := range s.episodeIndex {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes all events.
func (s *Store) Clear() {
	s.events = nil
	s.timestamps = nil
	s.byID = make(map[string]Event)
	s.episodeIndex = make(map[string][]string)
}

// lowerBound returns the first index whose timestamp is >= t.
func lowerBound(ts []float64, t float64) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i] >= t })
}

// upperBound returns the first index whose timestamp is > t.
func upperBound(ts []float64, t float64) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i] > t })
}

func copyEvents(src []Event) []Event {
	out := make([]Event, len(src))
	for i, ev := range src {
		ev.Payload = clonePayload(ev.Payload)
		out[i] = ev
	}
	return out
}

// clonePayload deep-copies a payload; a nil payload becomes empty.
// Nested maps and slices are copied. Pointers and other values are shared.
func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return clonePayload(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(x)
	case []string:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	case []int:
		return slices.Clone(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflected(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneReflected(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

// cloneReflected copies one element of a typed map or slice back into a value of type t.
func cloneReflected(v reflect.Value, t reflect.Type) reflect.Value {
	if !v.IsValid() || (v.Kind() == reflect.Interface && v.IsNil()) {
		return reflect.Zero(t)
	}
	c := reflect.ValueOf(cloneValue(v.Interface()))
	if !c.IsValid() {
		return reflect.Zero(t)
	}
	return c.Convert(t)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
