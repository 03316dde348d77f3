package messagequeue

import (
	"errors"
	"time"
)

// InstanceEventPayload is the schema for instances.* messages.
type InstanceEventPayload struct {
	InstanceID  string    `json:"instance_id"`
	TaskID      string    `json:"task_id"`
	OwnerUserID string    `json:"owner_user_id"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Validate checks the payload carries the fields every listener depends on.
func (p *InstanceEventPayload) Validate() error {
	if p.InstanceID == "" {
		return errors.New("instance_id is required")
	}
	if p.OwnerUserID == "" {
		return errors.New("owner_user_id is required")
	}
	if p.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
