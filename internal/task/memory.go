package task

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/pingup-app/eventd/internal/model"
)

// MemoryStore keeps task instances in process memory. Sleeping and pending
// instances are lost on restart, so it is only suitable for development and
// tests; production deployments use PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*model.TaskInstance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*model.TaskInstance)}
}

func (s *MemoryStore) Save(_ context.Context, inst *model.TaskInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[inst.ID] = cloneInstance(inst)
	return nil
}

func (s *MemoryStore) LoadDue(_ context.Context, now time.Time) ([]*model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.TaskInstance
	for _, inst := range s.tasks {
		switch inst.Status {
		case model.TaskPending:
			due = append(due, cloneInstance(inst))
		case model.TaskSleeping:
			if inst.WakeAt != nil && !inst.WakeAt.After(now) {
				due = append(due, cloneInstance(inst))
			}
		}
	}

	// Pending instances have no wake time and sort first.
	sort.Slice(due, func(i, j int) bool {
		wi, wj := due[i].WakeAt, due[j].WakeAt
		switch {
		case wi == nil && wj == nil:
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		case wi == nil:
			return true
		case wj == nil:
			return false
		default:
			return wi.Before(*wj)
		}
	})
	return due, nil
}

func (s *MemoryStore) LoadByID(_ context.Context, id string) (*model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInstance(inst), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status string, limit int) ([]*model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.TaskInstance
	for _, inst := range s.tasks {
		if inst.Status == status {
			out = append(out, cloneInstance(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneInstance copies an instance so callers never share mutable state
// with the store.
func cloneInstance(inst *model.TaskInstance) *model.TaskInstance {
	c := *inst
	if inst.WakeAt != nil {
		wake := *inst.WakeAt
		c.WakeAt = &wake
	}
	if inst.StatusMessage != nil {
		msg := *inst.StatusMessage
		c.StatusMessage = &msg
	}
	if inst.StepResults != nil {
		c.StepResults = maps.Clone(inst.StepResults)
	}
	return &c
}
