package executor

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pingup-app/eventd/internal/clock"
	"github.com/pingup-app/eventd/internal/model"
	"github.com/pingup-app/eventd/internal/task"
	"github.com/pingup-app/eventd/internal/workflow"
)

var (
	tasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_tasks_completed_total",
			Help: "Task instances that ran to completion",
		},
		[]string{"workflow"},
	)
	tasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_tasks_failed_total",
			Help: "Task instances that failed terminally",
		},
		[]string{"workflow"},
	)
	stepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_step_retries_total",
			Help: "Work step attempts beyond the first",
		},
		[]string{"workflow"},
	)
)

// maxAttempts bounds immediate retries of a failing work step within one
// run. Exhausting it fails the instance terminally.
const maxAttempts = 3

// Executor runs one task instance's steps in order, persisting a checkpoint
// after every completed step so a restart resumes instead of re-executing.
type Executor struct {
	store  task.Store
	clock  clock.Clock
	logger zerolog.Logger
}

func New(store task.Store, clk clock.Clock, logger zerolog.Logger) *Executor {
	return &Executor{store: store, clock: clk, logger: logger}
}

// Run executes inst's steps starting at its cursor. It returns when the
// instance completes, fails terminally, or suspends at a sleep-until
// boundary; it never blocks for the sleep duration itself.
func (e *Executor) Run(ctx context.Context, inst *model.TaskInstance, def workflow.Definition) error {
	if inst.StepResults == nil {
		inst.StepResults = model.StepResults{}
	}

	inst.Status = model.TaskRunning
	inst.WakeAt = nil
	if err := e.save(ctx, inst); err != nil {
		return err
	}

	for inst.Cursor < len(def.Steps) {
		step := def.Steps[inst.Cursor]

		switch step.Kind {
		case workflow.KindSleepUntil:
			wake := e.clock.Now().Add(step.Sleep)
			inst.StepResults[step.Name] = workflow.Result(map[string]string{
				"wake_at": wake.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
			inst.Cursor++
			inst.Status = model.TaskSleeping
			inst.WakeAt = &wake
			if err := e.save(ctx, inst); err != nil {
				return err
			}
			e.logger.Debug().
				Str("task_id", inst.ID).
				Str("workflow", inst.WorkflowName).
				Str("step", step.Name).
				Time("wake_at", wake).
				Msg("task sleeping")
			return nil

		case workflow.KindWork:
			// Already checkpointed on a previous run: skip, never re-execute.
			if inst.StepResults.Done(step.Name) {
				inst.Cursor++
				continue
			}

			result, err := e.runWithRetries(ctx, inst, step)
			if err != nil {
				return e.fail(ctx, inst, step.Name, err)
			}

			inst.StepResults[step.Name] = result
			inst.Cursor++
			if err := e.save(ctx, inst); err != nil {
				return err
			}

		default:
			return e.fail(ctx, inst, step.Name, workflow.Permanent(fmt.Errorf("unknown step kind %q", step.Kind)))
		}
	}

	inst.Status = model.TaskCompleted
	inst.WakeAt = nil
	if err := e.save(ctx, inst); err != nil {
		return err
	}
	tasksCompleted.WithLabelValues(inst.WorkflowName).Inc()
	e.logger.Info().
		Str("task_id", inst.ID).
		Str("workflow", inst.WorkflowName).
		Msg("task completed")
	return nil
}

func (e *Executor) runWithRetries(ctx context.Context, inst *model.TaskInstance, step workflow.Step) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			stepRetries.WithLabelValues(inst.WorkflowName).Inc()
		}

		result, err := step.Run(ctx, inst.Payload, inst.StepResults)
		if err == nil {
			return result, nil
		}
		if workflow.IsPermanent(err) {
			return nil, err
		}

		lastErr = err
		e.logger.Warn().
			Err(err).
			Str("task_id", inst.ID).
			Str("step", step.Name).
			Int("attempt", attempt).
			Msg("step attempt failed")
	}
	return nil, fmt.Errorf("step %s failed after %d attempts: %w", step.Name, maxAttempts, lastErr)
}

// fail marks the instance terminally failed without advancing the cursor,
// so a manual re-run from pending redoes the failed step while earlier
// steps stay skipped via their recorded results.
func (e *Executor) fail(ctx context.Context, inst *model.TaskInstance, stepName string, cause error) error {
	msg := fmt.Sprintf("step %s: %v", stepName, cause)
	inst.Status = model.TaskFailed
	inst.StatusMessage = &msg
	inst.WakeAt = nil
	if err := e.save(ctx, inst); err != nil {
		return err
	}

	tasksFailed.WithLabelValues(inst.WorkflowName).Inc()
	e.logger.Error().
		Err(cause).
		Str("task_id", inst.ID).
		Str("workflow", inst.WorkflowName).
		Str("step", stepName).
		Msg("task failed")
	return fmt.Errorf("task %s: %s", inst.ID, msg)
}

func (e *Executor) save(ctx context.Context, inst *model.TaskInstance) error {
	inst.UpdatedAt = e.clock.Now()
	if err := e.store.Save(ctx, inst); err != nil {
		return fmt.Errorf("checkpoint task %s: %w", inst.ID, err)
	}
	return nil
}
