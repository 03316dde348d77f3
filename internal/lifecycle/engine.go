// Package lifecycle implements the task-instance state machine and the
// derived-metric calculations triggered on every transition. The engine is
// pure: it mutates an in-memory Instance and leaves persistence to the
// storage backends, which guarantees both backends apply identical semantics.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/stats"
)

// Engine applies lifecycle transitions. The clock is injectable for tests.
type Engine struct {
	now func() time.Time
}

// New creates an Engine using the wall clock.
func New() *Engine {
	return NewWithClock(time.Now)
}

// NewWithClock creates an Engine with the given clock.
func NewWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// NewInstance builds a freshly created instance for the given owner.
// Status starts at active with all optional timestamps unset.
func (e *Engine) NewInstance(ownerUserID string, req instance.CreateRequest) *instance.Instance {
	inst := &instance.Instance{
		ID:          uuid.NewString(),
		TaskID:      req.TaskID,
		TaskName:    req.TaskName,
		TaskVersion: req.TaskVersion,
		OwnerUserID: ownerUserID,
		Status:      instance.StatusActive,
		CreatedAt:   e.now().UTC(),
	}
	inst.Predicted.Merge(req.Predicted)
	return inst
}

// Initialize records expectations. Idempotent on the timestamp: the first
// initialized_at wins. Predicted fields merge without clobbering, and the
// aversion captured here is preserved under the write-once initialization key.
func (e *Engine) Initialize(inst *instance.Instance, pred instance.Predicted) error {
	if inst.Status.Terminal() {
		return fmt.Errorf("initialize %s (status %s): %w", inst.ID, inst.Status, domain.ErrInvalidTransition)
	}
	if inst.InitializedAt == nil {
		now := e.now().UTC()
		inst.InitializedAt = &now
	}
	if inst.Predicted.InitialAversion == nil && pred.ExpectedAversion != nil {
		v := *pred.ExpectedAversion
		pred.InitialAversion = &v
	}
	inst.Predicted.Merge(pred)
	if inst.Status == instance.StatusActive {
		inst.Status = instance.StatusInitialized
	}
	return nil
}

// Start begins a work session. Illegal while already started (pause or
// complete first) and from terminal states. Accumulated pre-pause time is
// left untouched.
func (e *Engine) Start(inst *instance.Instance) error {
	if inst.Status == instance.StatusStarted || inst.Status.Terminal() {
		return fmt.Errorf("start %s (status %s): %w", inst.ID, inst.Status, domain.ErrInvalidTransition)
	}
	now := e.now().UTC()
	inst.StartedAt = &now
	inst.Status = instance.StatusStarted
	return nil
}

// Pause ends the current session, folding its elapsed time into the
// accumulated pre-pause total. Completion-only scores are cleared because
// they are stale until the next terminal transition.
func (e *Engine) Pause(inst *instance.Instance, reason string, completionPct *float64) error {
	if inst.Status != instance.StatusStarted {
		return fmt.Errorf("pause %s (status %s): %w", inst.ID, inst.Status, domain.ErrInvalidTransition)
	}
	if completionPct != nil && (*completionPct < 0 || *completionPct > 100) {
		return fmt.Errorf("pause %s: completion percent %v out of range: %w", inst.ID, *completionPct, domain.ErrValidation)
	}

	if start := e.effectiveStart(inst); start != nil {
		elapsed := e.now().UTC().Sub(*start).Minutes()
		if elapsed > 0 {
			inst.Actual.PrePauseMinutes += elapsed
		}
	}
	inst.StartedAt = nil
	inst.Actual.ResumedAt = nil
	if reason != "" {
		inst.Actual.PauseReason = reason
	}
	if completionPct != nil {
		inst.Actual.CompletionPercent = completionPct
	}
	inst.ProcrastinationScore = nil
	inst.ProactiveScore = nil
	inst.Status = instance.StatusPaused
	return nil
}

// Resume restarts the clock after a pause. The resume marker keeps
// sub-minute precision so the next pause or completion can account the
// session exactly; started_at is re-set for display purposes.
func (e *Engine) Resume(inst *instance.Instance) error {
	if inst.Status != instance.StatusPaused {
		return fmt.Errorf("resume %s (status %s): %w", inst.ID, inst.Status, domain.ErrInvalidTransition)
	}
	now := e.now().UTC()
	inst.Actual.ResumedAt = &now
	inst.StartedAt = &now
	inst.Status = instance.StatusStarted
	return nil
}

// Complete moves the instance to its completed terminal state and computes
// all derived fields. Legal from any non-terminal state; missing
// intermediate timestamps are tolerated.
func (e *Engine) Complete(inst *instance.Instance, actual instance.Actual) error {
	return e.finish(inst, actual, instance.StatusCompleted)
}

// Cancel moves the instance to its cancelled terminal state. Derived fields
// are computed the same way as for completion.
func (e *Engine) Cancel(inst *instance.Instance, actual instance.Actual) error {
	return e.finish(inst, actual, instance.StatusCancelled)
}

func (e *Engine) finish(inst *instance.Instance, actual instance.Actual, terminal instance.Status) error {
	if inst.Status.Terminal() {
		return fmt.Errorf("%s %s (status %s): %w", terminal, inst.ID, inst.Status, domain.ErrInvalidTransition)
	}
	if actual.CompletionPercent != nil && (*actual.CompletionPercent < 0 || *actual.CompletionPercent > 100) {
		return fmt.Errorf("%s %s: completion percent %v out of range: %w", terminal, inst.ID, *actual.CompletionPercent, domain.ErrValidation)
	}

	inst.Actual.Merge(actual)

	now := e.now().UTC()
	e.computeDerived(inst, now)

	switch terminal {
	case instance.StatusCompleted:
		inst.CompletedAt = &now
		inst.IsCompleted = true
	case instance.StatusCancelled:
		inst.CancelledAt = &now
		inst.IsDeleted = true
	}
	inst.Status = terminal
	return nil
}

// Amend rewrites the predicted/actual documents of a terminal instance
// without re-opening it: status and terminal timestamps never change. The
// relief-derived factors are recomputed so scoring stays consistent with the
// amended documents.
func (e *Engine) Amend(inst *instance.Instance, pred *instance.Predicted, actual *instance.Actual) error {
	if !inst.Status.Terminal() {
		return fmt.Errorf("amend %s (status %s): %w", inst.ID, inst.Status, domain.ErrInvalidTransition)
	}
	if pred != nil {
		inst.Predicted.Merge(*pred)
	}
	if actual != nil {
		inst.Actual.Merge(*actual)
	}
	e.computeRelief(inst)
	return nil
}

// effectiveStart returns the most precise marker for when the current
// session began: the resume marker if present, else started_at.
func (e *Engine) effectiveStart(inst *instance.Instance) *time.Time {
	if inst.Actual.ResumedAt != nil {
		return inst.Actual.ResumedAt
	}
	return inst.StartedAt
}

// computeDerived fills in every derived scalar at a terminal transition.
func (e *Engine) computeDerived(inst *instance.Instance, now time.Time) {
	var estimate float64
	if inst.Predicted.TimeEstimateMinutes != nil {
		estimate = *inst.Predicted.TimeEstimateMinutes
	}

	// Duration, in priority order: explicit actual time, running session
	// plus accumulated time, accumulated time alone, predicted estimate.
	switch {
	case inst.Actual.TimeActualMinutes != nil:
		inst.DurationMinutes = instance.Float(*inst.Actual.TimeActualMinutes)
	case inst.StartedAt != nil:
		start := e.effectiveStart(inst)
		session := now.Sub(*start).Minutes()
		if session < 0 {
			session = 0
		}
		inst.DurationMinutes = instance.Float(session + inst.Actual.PrePauseMinutes)
	case inst.Actual.PrePauseMinutes > 0:
		inst.DurationMinutes = instance.Float(inst.Actual.PrePauseMinutes)
	case inst.Predicted.TimeEstimateMinutes != nil:
		inst.DurationMinutes = instance.Float(estimate)
	}

	var delay float64
	switch {
	case inst.StartedAt != nil && inst.InitializedAt != nil:
		delay = inst.StartedAt.Sub(*inst.InitializedAt).Minutes()
	case inst.InitializedAt != nil && inst.DurationMinutes != nil:
		delay = now.Sub(*inst.InitializedAt).Minutes() - *inst.DurationMinutes
	}
	if delay < 0 {
		delay = 0
	}
	inst.DelayMinutes = instance.Float(delay)

	procrastination := stats.Clamp(delay/maxf(estimate, 1), 0, 10)
	proactive := stats.Clamp((1-delay/maxf(2*estimate, 1))*10, 0, 10)
	behavioral := stats.Clamp((proactive+(10-procrastination))/2, 0, 10)
	inst.ProcrastinationScore = instance.Float(procrastination)
	inst.ProactiveScore = instance.Float(proactive)
	inst.BehavioralScore = instance.Float(behavioral)

	e.computeRelief(inst)
}

// computeRelief derives net relief and its split into serendipity and
// disappointment. Requires both the expectation and the outcome.
func (e *Engine) computeRelief(inst *instance.Instance) {
	if inst.Actual.ReliefActual == nil || inst.Predicted.ExpectedRelief == nil {
		return
	}
	net := *inst.Actual.ReliefActual - *inst.Predicted.ExpectedRelief
	inst.NetRelief = instance.Float(net)
	inst.SerendipityFactor = instance.Float(maxf(0, net))
	inst.DisappointmentFactor = instance.Float(maxf(0, -net))
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
