package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingup-app/eventd/internal/clock"
	"github.com/pingup-app/eventd/internal/model"
	"github.com/pingup-app/eventd/internal/task"
	"github.com/pingup-app/eventd/internal/workflow"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) (*Executor, *task.MemoryStore, *clock.Fake) {
	t.Helper()
	store := task.NewMemoryStore()
	clk := clock.NewFake(testStart)
	return New(store, clk, zerolog.Nop()), store, clk
}

func pendingInstance(workflowName string) *model.TaskInstance {
	return &model.TaskInstance{
		ID:           "inst-1",
		WorkflowName: workflowName,
		Payload:      json.RawMessage(`{}`),
		Status:       model.TaskPending,
		StepResults:  model.StepResults{},
		CreatedAt:    testStart,
		UpdatedAt:    testStart,
	}
}

func TestRun_CompletesAllSteps(t *testing.T) {
	exec, store, _ := newEnv(t)
	var order []string

	def := workflow.Definition{
		Name: "two-steps",
		Steps: []workflow.Step{
			workflow.Work("first", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				order = append(order, "first")
				return workflow.Result("a"), nil
			}),
			workflow.Work("second", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				order = append(order, "second")
				return workflow.Result("b"), nil
			}),
		},
	}

	inst := pendingInstance("two-steps")
	require.NoError(t, exec.Run(context.Background(), inst, def))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, model.TaskCompleted, inst.Status)
	assert.Equal(t, 2, inst.Cursor)

	saved, err := store.LoadByID(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, saved.Status)
	assert.True(t, saved.StepResults.Done("first"))
	assert.True(t, saved.StepResults.Done("second"))
}

func TestRun_SkipsCheckpointedSteps(t *testing.T) {
	exec, _, _ := newEnv(t)
	calls := map[string]int{}

	def := workflow.Definition{
		Name: "replay",
		Steps: []workflow.Step{
			workflow.Work("first", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				calls["first"]++
				return workflow.Result("a"), nil
			}),
			workflow.Work("second", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				calls["second"]++
				return workflow.Result("b"), nil
			}),
		},
	}

	// Simulate a restart after the first step checkpointed: the cursor was
	// lost back to zero but the step result survived.
	inst := pendingInstance("replay")
	inst.StepResults["first"] = json.RawMessage(`"a"`)

	require.NoError(t, exec.Run(context.Background(), inst, def))

	assert.Equal(t, 0, calls["first"], "checkpointed step must never re-execute")
	assert.Equal(t, 1, calls["second"])
	assert.Equal(t, model.TaskCompleted, inst.Status)
}

func TestRun_SleepSuspendsWithoutBlocking(t *testing.T) {
	exec, store, _ := newEnv(t)
	deleted := 0

	def := workflow.Definition{
		Name: "story-delete",
		Steps: []workflow.Step{
			workflow.SleepUntil("wait-for-24-hours", 24*time.Hour),
			workflow.Work("delete-story", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				deleted++
				return workflow.Result("done"), nil
			}),
		},
	}

	inst := pendingInstance("story-delete")

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), inst, def) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked on a sleep-until step")
	}

	assert.Equal(t, 0, deleted)
	saved, err := store.LoadByID(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskSleeping, saved.Status)
	require.NotNil(t, saved.WakeAt)
	assert.Equal(t, testStart.Add(24*time.Hour), *saved.WakeAt)
	assert.Equal(t, 1, saved.Cursor)
}

func TestRun_ResumesAfterSleep(t *testing.T) {
	exec, store, clk := newEnv(t)
	deleted := 0

	def := workflow.Definition{
		Name: "story-delete",
		Steps: []workflow.Step{
			workflow.SleepUntil("wait-for-24-hours", 24*time.Hour),
			workflow.Work("delete-story", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				deleted++
				return workflow.Result("done"), nil
			}),
		},
	}

	inst := pendingInstance("story-delete")
	require.NoError(t, exec.Run(context.Background(), inst, def))

	clk.Advance(24 * time.Hour)
	woken, err := store.LoadByID(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background(), woken, def))

	assert.Equal(t, 1, deleted)
	assert.Equal(t, model.TaskCompleted, woken.Status)
	assert.Nil(t, woken.WakeAt)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	exec, _, _ := newEnv(t)
	attempts := 0

	def := workflow.Definition{
		Name: "flaky",
		Steps: []workflow.Step{
			workflow.Work("call-service", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("connection reset")
				}
				return workflow.Result("ok"), nil
			}),
		},
	}

	inst := pendingInstance("flaky")
	require.NoError(t, exec.Run(context.Background(), inst, def))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, model.TaskCompleted, inst.Status)
}

func TestRun_FailsAfterRetriesExhausted(t *testing.T) {
	exec, store, _ := newEnv(t)
	attempts := 0

	def := workflow.Definition{
		Name: "broken",
		Steps: []workflow.Step{
			workflow.Work("call-service", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				attempts++
				return nil, errors.New("connection reset")
			}),
		},
	}

	inst := pendingInstance("broken")
	err := exec.Run(context.Background(), inst, def)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	saved, loadErr := store.LoadByID(context.Background(), "inst-1")
	require.NoError(t, loadErr)
	assert.Equal(t, model.TaskFailed, saved.Status)
	assert.Equal(t, 0, saved.Cursor, "failed step must not advance the cursor")
	require.NotNil(t, saved.StatusMessage)
	assert.Contains(t, *saved.StatusMessage, "call-service")
}

func TestRun_PermanentFailureSkipsRetries(t *testing.T) {
	exec, _, _ := newEnv(t)
	attempts := 0

	def := workflow.Definition{
		Name: "gone",
		Steps: []workflow.Step{
			workflow.Work("load-record", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				attempts++
				return nil, workflow.Permanent(errors.New("record no longer exists"))
			}),
		},
	}

	inst := pendingInstance("gone")
	err := exec.Run(context.Background(), inst, def)
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent failures are not retried")
	assert.Equal(t, model.TaskFailed, inst.Status)
}

func TestRun_FailedRerunSkipsEarlierSteps(t *testing.T) {
	exec, store, _ := newEnv(t)
	firstCalls, secondCalls := 0, 0
	failSecond := true

	def := workflow.Definition{
		Name: "recoverable",
		Steps: []workflow.Step{
			workflow.Work("first", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				firstCalls++
				return workflow.Result("a"), nil
			}),
			workflow.Work("second", func(context.Context, json.RawMessage, model.StepResults) (json.RawMessage, error) {
				secondCalls++
				if failSecond {
					return nil, workflow.Permanent(errors.New("boom"))
				}
				return workflow.Result("b"), nil
			}),
		},
	}

	inst := pendingInstance("recoverable")
	require.Error(t, exec.Run(context.Background(), inst, def))

	// Operator re-runs from pending; the first step's checkpoint survives.
	failSecond = false
	rerun, err := store.LoadByID(context.Background(), "inst-1")
	require.NoError(t, err)
	rerun.Status = model.TaskPending
	rerun.Cursor = 0
	require.NoError(t, exec.Run(context.Background(), rerun, def))

	assert.Equal(t, 1, firstCalls)
	assert.Equal(t, 2, secondCalls)
	assert.Equal(t, model.TaskCompleted, rerun.Status)
}
