package memrank

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/store"
	"github.com/dan-solli/memrank/pkg/timeline"
)

func TestClassifyError(t *testing.T) {
	_, openErr := os.Open("/definitely/not/here")

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer db.Close()
	_, sqlErr := db.DB().Exec("INSERT INTO missing_table VALUES (1)")
	if sqlErr == nil {
		t.Fatal("expected driver error")
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrTypeTimeout},
		{"canceled wrapped", fmt.Errorf("save: %w", context.Canceled), ErrTypeTimeout},
		{"facade config", fmt.Errorf("%w: bad backend", ErrInvalidConfig), ErrTypeConfig},
		{"timeline config", fmt.Errorf("%w: max_events", timeline.ErrInvalidConfig), ErrTypeConfig},
		{"joined rank config", errors.Join(fmt.Errorf("%w: damping", rank.ErrInvalidConfig)), ErrTypeConfig},
		{"not initialized", rank.ErrNotInitialized, ErrTypePrecondition},
		{"storage disabled", ErrStorageDisabled, ErrTypePrecondition},
		{"nothing persisted", fmt.Errorf("%w: %w", store.ErrNotFound, fs.ErrNotExist), ErrTypePrecondition},
		{"malformed", fmt.Errorf("read: %w", store.ErrMalformedDocument), ErrTypeParse},
		{"version", store.ErrUnsupportedVersion, ErrTypeParse},
		{"timestamp", timeline.ErrInvalidTimestamp, ErrTypeValidation},
		{"duplicate", fmt.Errorf("load: %w", timeline.ErrDuplicateEventID), ErrTypeValidation},
		{"snapshot", rank.ErrInvalidSnapshot, ErrTypeValidation},
		{"path error", openErr, ErrTypeIO},
		{"sqlite driver", fmt.Errorf("failed to insert event: %w", sqlErr), ErrTypeDatabase},
		{"mentions mysql", errors.New("copy /srv/mysql/dump: short write"), ErrTypeUnknown},
		{"other", errors.New("something odd"), ErrTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
