package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pingup-app/eventd/internal/model"
)

// Kind discriminates the two step variants. Keeping steps as tagged data
// instead of opaque closures means the checkpoint (cursor + step results)
// is all that has to be persisted to resume an instance.
type Kind string

const (
	KindWork       Kind = "work"
	KindSleepUntil Kind = "sleep_until"
)

// WorkFunc is the body of a work step. It receives the triggering event's
// payload and the results of previously completed steps, and returns a
// result that is checkpointed under the step's name.
type WorkFunc func(ctx context.Context, payload json.RawMessage, results model.StepResults) (json.RawMessage, error)

// Step is one entry in a definition's ordered step list.
type Step struct {
	Name  string
	Kind  Kind
	Run   WorkFunc      // set when Kind == KindWork
	Sleep time.Duration // set when Kind == KindSleepUntil
}

// Work builds a work step.
func Work(name string, fn WorkFunc) Step {
	return Step{Name: name, Kind: KindWork, Run: fn}
}

// SleepUntil builds a step that suspends the instance until now+d.
func SleepUntil(name string, d time.Duration) Step {
	return Step{Name: name, Kind: KindSleepUntil, Sleep: d}
}

// Trigger is either a named external event or a cron schedule.
type Trigger struct {
	Event string
	Cron  string
}

// Definition is a named, ordered list of steps with a trigger condition.
// Definitions are immutable and registered once at process start.
type Definition struct {
	Name    string
	Trigger Trigger
	Steps   []Step
}

// permanentError marks a step failure that must not be retried, e.g. a
// referenced record that no longer exists.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the executor fails the instance immediately
// instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Result marshals a step result value, panicking only on unmarshalable
// types, which would be a programming error in a definition.
func Result(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal step result: %v", err))
	}
	return b
}
