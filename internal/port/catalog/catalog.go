// Package catalog defines the read-only port to the task-template catalog.
package catalog

import (
	"context"

	"github.com/effortlog/effortlog/internal/domain/template"
)

// Catalog resolves a task template at instance-creation time. The catalog is
// owned by another subsystem; this port never writes back.
type Catalog interface {
	// Lookup returns the template for the given task ID, or
	// domain.ErrNotFound when the catalog does not know it.
	Lookup(ctx context.Context, taskID string) (*template.Template, error)
}
