package task

import (
	"context"
	"errors"
	"time"

	"github.com/pingup-app/eventd/internal/model"
)

// ErrNotFound is returned when no task instance exists for an id.
var ErrNotFound = errors.New("task instance not found")

// Store is the single source of truth for task instance state. Saves to the
// same id are serialized by every implementation so two ticks can never
// interleave writes to one instance.
type Store interface {
	// Save persists or replaces the instance by id.
	Save(ctx context.Context, inst *model.TaskInstance) error

	// LoadDue returns every instance that is pending, or sleeping with
	// wake_at <= now, ordered by wake_at ascending with pending instances
	// treated as immediately due.
	LoadDue(ctx context.Context, now time.Time) ([]*model.TaskInstance, error)

	// LoadByID fetches one instance.
	LoadByID(ctx context.Context, id string) (*model.TaskInstance, error)

	// ListByStatus returns instances in the given status, newest first.
	// Used by the operator API to surface failed instances.
	ListByStatus(ctx context.Context, status string, limit int) ([]*model.TaskInstance, error)
}
