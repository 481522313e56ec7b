package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pingup-app/eventd/internal/clock"
	"github.com/pingup-app/eventd/internal/model"
	"github.com/pingup-app/eventd/internal/task"
	"github.com/pingup-app/eventd/internal/workflow"
)

// Runner executes one due task instance. Satisfied by *executor.Executor.
type Runner interface {
	Run(ctx context.Context, inst *model.TaskInstance, def workflow.Definition) error
}

// maxConcurrentRuns bounds how many due instances execute per tick.
const maxConcurrentRuns = 8

// cronEntry tracks one cron-triggered definition and its firing state.
// lastSlot is the slot most recently instantiated, so re-entering a tick
// within the same minute never double-fires.
type cronEntry struct {
	def      workflow.Definition
	schedule cron.Schedule
	next     time.Time
	lastSlot time.Time
}

// Scheduler owns the registered workflow definitions, creates task
// instances for matching events and cron slots, and drains due instances
// from the store on every tick. A single timer loop drives everything; no
// per-instance timers exist, so sleeping instances cost nothing.
type Scheduler struct {
	store  task.Store
	runner Runner
	clock  clock.Clock
	logger zerolog.Logger
	loc    *time.Location
	parser cron.Parser

	defs      map[string]workflow.Definition
	eventDefs map[string][]workflow.Definition
	cronDefs  []*cronEntry

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(store task.Store, runner Runner, clk clock.Clock, loc *time.Location, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		runner:    runner,
		clock:     clk,
		logger:    logger,
		loc:       loc,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defs:      make(map[string]workflow.Definition),
		eventDefs: make(map[string][]workflow.Definition),
		inflight:  make(map[string]struct{}),
	}
}

// Register adds a definition. All registrations happen at startup, before
// Start; registering afterwards is a programming error.
func (s *Scheduler) Register(def workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("register %s: scheduler already started", def.Name)
	}
	if _, ok := s.defs[def.Name]; ok {
		return fmt.Errorf("workflow %s already registered", def.Name)
	}

	switch {
	case def.Trigger.Cron != "":
		schedule, err := s.parser.Parse(def.Trigger.Cron)
		if err != nil {
			return fmt.Errorf("parse cron for %s: %w", def.Name, err)
		}
		s.cronDefs = append(s.cronDefs, &cronEntry{def: def, schedule: schedule})
	case def.Trigger.Event != "":
		s.eventDefs[def.Trigger.Event] = append(s.eventDefs[def.Trigger.Event], def)
	default:
		return fmt.Errorf("workflow %s has no trigger", def.Name)
	}

	s.defs[def.Name] = def
	return nil
}

// OnEvent creates a pending task instance for every event-triggered
// definition whose trigger name matches. Events with no matching
// definition are a no-op.
func (s *Scheduler) OnEvent(ctx context.Context, ev model.Event) error {
	for _, def := range s.eventDefs[ev.Name] {
		inst := s.newInstance(def.Name, ev.Data)
		if err := s.store.Save(ctx, inst); err != nil {
			return fmt.Errorf("enqueue %s for event %s: %w", def.Name, ev.Name, err)
		}
		s.logger.Info().
			Str("event", ev.Name).
			Str("workflow", def.Name).
			Str("task_id", inst.ID).
			Msg("task enqueued")
	}
	return nil
}

// Tick instantiates cron definitions whose slot has arrived and runs every
// due instance. It is the sole clock-driven entry point.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.fireCrons(ctx, now.In(s.loc))

	due, err := s.store.LoadDue(ctx, now)
	if err != nil {
		// Storage failure aborts the whole tick; the next timer firing
		// retries with no partial state written.
		return fmt.Errorf("tick: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRuns)

	for _, inst := range due {
		if !s.tryAcquire(inst.ID) {
			continue
		}
		g.Go(func() error {
			defer s.release(inst.ID)
			s.runInstance(gctx, inst)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) fireCrons(ctx context.Context, now time.Time) {
	for _, entry := range s.cronDefs {
		if entry.next.IsZero() {
			entry.next = entry.schedule.Next(now)
			continue
		}
		if entry.next.After(now) {
			continue
		}

		slot := entry.next.Truncate(time.Minute)
		if slot.Equal(entry.lastSlot) {
			entry.next = entry.schedule.Next(now)
			continue
		}

		inst := s.newInstance(entry.def.Name, json.RawMessage(`{}`))
		if err := s.store.Save(ctx, inst); err != nil {
			s.logger.Error().Err(err).
				Str("workflow", entry.def.Name).
				Msg("failed to enqueue cron task")
			continue // slot not consumed; retried next tick
		}

		s.logger.Info().
			Str("workflow", entry.def.Name).
			Time("slot", slot).
			Str("task_id", inst.ID).
			Msg("cron task enqueued")
		entry.lastSlot = slot
		entry.next = entry.schedule.Next(now)
	}
}

func (s *Scheduler) runInstance(ctx context.Context, inst *model.TaskInstance) {
	def, ok := s.defs[inst.WorkflowName]
	if !ok {
		msg := fmt.Sprintf("no registered workflow %q", inst.WorkflowName)
		inst.Status = model.TaskFailed
		inst.StatusMessage = &msg
		inst.UpdatedAt = s.clock.Now()
		if err := s.store.Save(ctx, inst); err != nil {
			s.logger.Error().Err(err).Str("task_id", inst.ID).Msg("failed to mark orphan task")
		}
		s.logger.Error().Str("task_id", inst.ID).Msg(msg)
		return
	}

	if err := s.runner.Run(ctx, inst, def); err != nil {
		s.logger.Error().Err(err).
			Str("task_id", inst.ID).
			Str("workflow", inst.WorkflowName).
			Msg("task run failed")
	}
}

func (s *Scheduler) newInstance(workflowName string, payload json.RawMessage) *model.TaskInstance {
	now := s.clock.Now()
	return &model.TaskInstance{
		ID:           uuid.NewString(),
		WorkflowName: workflowName,
		Payload:      payload,
		Status:       model.TaskPending,
		StepResults:  model.StepResults{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Start launches the background tick loop. The first tick fires
// immediately so restarts resume overdue work without waiting an interval.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx, interval)
	s.logger.Info().Dur("interval", interval).Msg("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.Tick(ctx, s.clock.Now()); err != nil {
		s.logger.Error().Err(err).Msg("tick failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx, s.clock.Now()); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

// Stop shuts the tick loop down and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info().Msg("scheduler stopped")
}
