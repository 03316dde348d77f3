// Package instance defines the TaskInstance domain entity: one tracked
// execution attempt of a task template.
package instance

import "time"

// Status represents the current lifecycle state of an instance.
type Status string

const (
	StatusActive      Status = "active"      // created, not yet initialized
	StatusInitialized Status = "initialized" // expectations captured
	StatusStarted     Status = "started"     // clock running
	StatusPaused      Status = "paused"      // clock stopped, time folded into Actual.PrePauseMinutes
	StatusCompleted   Status = "completed"   // terminal
	StatusCancelled   Status = "cancelled"   // terminal
)

// Terminal reports whether the status permits no further lifecycle transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Predicted holds the expectations captured when an instance is initialized.
// Scalar fields are pointers so that "absent" and "zero" stay distinguishable,
// which is what makes the merge-without-clobber semantics enforceable.
type Predicted struct {
	TimeEstimateMinutes *float64           `json:"time_estimate_minutes,omitempty"`
	ExpectedRelief      *float64           `json:"expected_relief,omitempty"`
	ExpectedLoad        map[string]float64 `json:"expected_load,omitempty"`
	ExpectedAversion    *float64           `json:"expected_aversion,omitempty"`

	// InitialAversion is the aversion captured at the first initialization.
	// It is written once and survives later edits of ExpectedAversion, so
	// trend code can always recover the original value.
	InitialAversion *float64 `json:"initialization_aversion,omitempty"`
}

// Merge overlays in onto p, keeping fields already present on p unless the
// incoming document explicitly carries a replacement. Load components merge
// key-wise. InitialAversion is never overwritten once set.
func (p *Predicted) Merge(in Predicted) {
	if in.TimeEstimateMinutes != nil {
		p.TimeEstimateMinutes = in.TimeEstimateMinutes
	}
	if in.ExpectedRelief != nil {
		p.ExpectedRelief = in.ExpectedRelief
	}
	if in.ExpectedAversion != nil {
		p.ExpectedAversion = in.ExpectedAversion
	}
	if len(in.ExpectedLoad) > 0 {
		if p.ExpectedLoad == nil {
			p.ExpectedLoad = make(map[string]float64, len(in.ExpectedLoad))
		}
		for k, v := range in.ExpectedLoad {
			p.ExpectedLoad[k] = v
		}
	}
	if p.InitialAversion == nil && in.InitialAversion != nil {
		p.InitialAversion = in.InitialAversion
	}
}

// Actual holds the outcomes recorded at pause, completion or cancellation.
// It accumulates across pause/resume cycles rather than being replaced.
type Actual struct {
	ReliefActual      *float64           `json:"relief_actual,omitempty"`
	Load              map[string]float64 `json:"load,omitempty"`
	CompletionPercent *float64           `json:"completion_percent,omitempty"`
	TimeActualMinutes *float64           `json:"time_actual_minutes,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	PauseReason       string             `json:"pause_reason,omitempty"`

	// PrePauseMinutes is the total time spent across all sessions prior to
	// the current one. Monotonically non-decreasing across pause events.
	PrePauseMinutes float64 `json:"pre_pause_minutes,omitempty"`

	// ResumedAt is the precise (sub-minute) marker of the most recent
	// resume, used as the effective session start when pausing again.
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
}

// Merge overlays in onto a, keeping fields already present unless the
// incoming document carries a replacement. PrePauseMinutes and ResumedAt are
// owned by the lifecycle engine and are not merged here.
func (a *Actual) Merge(in Actual) {
	if in.ReliefActual != nil {
		a.ReliefActual = in.ReliefActual
	}
	if in.CompletionPercent != nil {
		a.CompletionPercent = in.CompletionPercent
	}
	if in.TimeActualMinutes != nil {
		a.TimeActualMinutes = in.TimeActualMinutes
	}
	if in.Notes != "" {
		a.Notes = in.Notes
	}
	if in.PauseReason != "" {
		a.PauseReason = in.PauseReason
	}
	if len(in.Load) > 0 {
		if a.Load == nil {
			a.Load = make(map[string]float64, len(in.Load))
		}
		for k, v := range in.Load {
			a.Load[k] = v
		}
	}
}

// Instance is one execution attempt of a task template.
type Instance struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	TaskName    string `json:"task_name"`
	TaskVersion string `json:"task_version"`
	OwnerUserID string `json:"owner_user_id"`

	Status Status `json:"status"`
	// Legacy mirrors of Status, kept in sync by the lifecycle engine for
	// consumers that predate the status column.
	IsCompleted bool `json:"is_completed"`
	IsDeleted   bool `json:"is_deleted"`

	CreatedAt     time.Time  `json:"created_at"`
	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	Predicted Predicted `json:"predicted"`
	Actual    Actual    `json:"actual"`

	// Derived fields, computed by the lifecycle engine on terminal
	// transitions and persisted for fast querying.
	DurationMinutes      *float64 `json:"duration_minutes,omitempty"`
	DelayMinutes         *float64 `json:"delay_minutes,omitempty"`
	ProcrastinationScore *float64 `json:"procrastination_score,omitempty"`
	ProactiveScore       *float64 `json:"proactive_score,omitempty"`
	NetRelief            *float64 `json:"net_relief,omitempty"`
	SerendipityFactor    *float64 `json:"serendipity_factor,omitempty"`
	DisappointmentFactor *float64 `json:"disappointment_factor,omitempty"`
	BehavioralScore      *float64 `json:"behavioral_score,omitempty"`
}

// CreateRequest holds the fields needed to create a new instance.
// TaskName and TaskVersion are denormalized snapshots; when a template
// catalog is wired they are resolved there and these act as fallbacks.
type CreateRequest struct {
	TaskID      string    `json:"task_id"`
	TaskName    string    `json:"task_name"`
	TaskVersion string    `json:"task_version"`
	Predicted   Predicted `json:"predicted"`
}

// Clone returns a deep copy of the instance. Cached and fallback-table reads
// hand out clones so callers can never mutate shared state.
func (i *Instance) Clone() *Instance {
	out := *i
	out.InitializedAt = cloneTime(i.InitializedAt)
	out.StartedAt = cloneTime(i.StartedAt)
	out.CompletedAt = cloneTime(i.CompletedAt)
	out.CancelledAt = cloneTime(i.CancelledAt)

	out.Predicted.TimeEstimateMinutes = cloneFloat(i.Predicted.TimeEstimateMinutes)
	out.Predicted.ExpectedRelief = cloneFloat(i.Predicted.ExpectedRelief)
	out.Predicted.ExpectedAversion = cloneFloat(i.Predicted.ExpectedAversion)
	out.Predicted.InitialAversion = cloneFloat(i.Predicted.InitialAversion)
	out.Predicted.ExpectedLoad = cloneMap(i.Predicted.ExpectedLoad)

	out.Actual.ReliefActual = cloneFloat(i.Actual.ReliefActual)
	out.Actual.CompletionPercent = cloneFloat(i.Actual.CompletionPercent)
	out.Actual.TimeActualMinutes = cloneFloat(i.Actual.TimeActualMinutes)
	out.Actual.ResumedAt = cloneTime(i.Actual.ResumedAt)
	out.Actual.Load = cloneMap(i.Actual.Load)

	out.DurationMinutes = cloneFloat(i.DurationMinutes)
	out.DelayMinutes = cloneFloat(i.DelayMinutes)
	out.ProcrastinationScore = cloneFloat(i.ProcrastinationScore)
	out.ProactiveScore = cloneFloat(i.ProactiveScore)
	out.NetRelief = cloneFloat(i.NetRelief)
	out.SerendipityFactor = cloneFloat(i.SerendipityFactor)
	out.DisappointmentFactor = cloneFloat(i.DisappointmentFactor)
	out.BehavioralScore = cloneFloat(i.BehavioralScore)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Float returns a pointer to v. Convenience for building documents.
func Float(v float64) *float64 { return &v }
