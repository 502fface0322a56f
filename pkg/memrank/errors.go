package memrank

import (
	"context"
	"errors"
	"io/fs"

	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/store"
	"github.com/dan-solli/memrank/pkg/timeline"
)

// ErrStorageDisabled is returned by Save and Load when no storage path is configured.
var ErrStorageDisabled = errors.New("memrank: storage not configured")

// Error type constants for classification
const (
	ErrTypeConfig       = "config"
	ErrTypePrecondition = "precondition"
	ErrTypeValidation   = "validation"
	ErrTypeIO           = "io"
	ErrTypeParse        = "parse"
	ErrTypeDatabase     = "database"
	ErrTypeTimeout      = "timeout"
	ErrTypeUnknown      = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// The result is used as a low-cardinality label in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTypeTimeout
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, timeline.ErrInvalidConfig),
		errors.Is(err, rank.ErrInvalidConfig):
		return ErrTypeConfig
	case errors.Is(err, rank.ErrNotInitialized),
		errors.Is(err, ErrStorageDisabled),
		errors.Is(err, store.ErrNotFound):
		return ErrTypePrecondition
	case errors.Is(err, store.ErrMalformedDocument),
		errors.Is(err, store.ErrUnsupportedVersion):
		return ErrTypeParse
	case errors.Is(err, timeline.ErrInvalidTimestamp),
		errors.Is(err, timeline.ErrDuplicateEventID),
		errors.Is(err, timeline.ErrUnknownSegmentMethod),
		errors.Is(err, rank.ErrInvalidSnapshot):
		return ErrTypeValidation
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ErrTypeIO
	}

	if store.IsDatabaseError(err) {
		return ErrTypeDatabase
	}

	return ErrTypeUnknown
}
