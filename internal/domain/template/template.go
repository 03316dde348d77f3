// Package template defines the task-template snapshot consumed at instance
// creation time. The catalog itself is owned by another subsystem; this
// subsystem only reads `(task_id) → {name, version, default_estimate}`.
package template

// Template is the read-only view of a task template.
type Template struct {
	ID                     string  `json:"id" yaml:"id"`
	Name                   string  `json:"name" yaml:"name"`
	Version                string  `json:"version" yaml:"version"`
	DefaultEstimateMinutes float64 `json:"default_estimate_minutes" yaml:"default_estimate_minutes"`
}
