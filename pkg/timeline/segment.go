package timeline

import (
	"fmt"

	"github.com/google/uuid"
)

// SegmentMethod selects an episode segmentation algorithm.
type SegmentMethod string

const (
	// SegmentTimeGap starts a new episode whenever consecutive events are
	// further apart than a threshold.
	SegmentTimeGap SegmentMethod = "time_gap"

	// SegmentMarker closes the current episode after each marker event.
	SegmentMarker SegmentMethod = "marker"
)

// Episode is a contiguous run of events. Episodes are derived on demand and
// get a fresh ID on every segmentation pass.
type Episode struct {
	ID        string   `json:"id"`
	EventIDs  []string `json:"event_ids"`
	StartTime float64  `json:"start_time"`
	EndTime   float64  `json:"end_time"`
}

// SegmentOptions configures SegmentEpisodes.
type SegmentOptions struct {
	// Threshold overrides Config.TimeGapThreshold for SegmentTimeGap.
	Threshold *float64
	// MarkerTypes lists the event types that close an episode for SegmentMarker.
	MarkerTypes []string
}

// SegmentEpisodes partitions the stored events into episodes.
func (s *Store) SegmentEpisodes(method SegmentMethod, opts SegmentOptions) ([]Episode, error) {
	switch method {
	case SegmentTimeGap:
		threshold := s.cfg.TimeGapThreshold
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
		return s.SegmentByTimeGap(threshold), nil
	case SegmentMarker:
		return s.SegmentByMarker(opts.MarkerTypes...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSegmentMethod, method)
	}
}

// SegmentByTimeGap starts a new episode whenever the gap between consecutive
// timestamps exceeds threshold.
func (s *Store) SegmentByTimeGap(threshold float64) []Episode {
	episodes := []Episode{}
	if len(s.events) == 0 {
		return episodes
	}

	start := 0
	for i := 1; i < len(s.events); i++ {
		if s.events[i].Timestamp-s.events[i-1].Timestamp > threshold {
			episodes = append(episodes, s.newEpisode(start, i))
			start = i
		}
	}
	return append(episodes, s.newEpisode(start, len(s.events)))
}

// SegmentByMarker closes the current episode after every event whose type is
// one of markerTypes. The marker is the last event of the episode it closes.
func (s *Store) SegmentByMarker(markerTypes ...string) []Episode {
	episodes := []Episode{}
	markers := make(map[string]struct{}, len(markerTypes))
	for _, t := range markerTypes {
		markers[t] = struct{}{}
	}

	start := 0
	for i, ev := range s.events {
		if _, ok := markers[ev.Type]; ok {
			episodes = append(episodes, s.newEpisode(start, i+1))
			start = i + 1
		}
	}
	if start < len(s.events) {
		episodes = append(episodes, s.newEpisode(start, len(s.events)))
	}
	return episodes
}

// newEpisode builds an episode from events[from:to]; the range must be non-empty.
func (s *Store) newEpisode(from, to int) Episode {
	ids := make([]string, 0, to-from)
	for _, ev := range s.events[from:to] {
		ids = append(ids, ev.ID)
	}
	return Episode{
		ID:        uuid.New().String(),
		EventIDs:  ids,
		StartTime: s.events[from].Timestamp,
		EndTime:   s.events[to-1].Timestamp,
	}
}
