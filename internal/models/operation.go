package models

import (
	"fmt"
	"time"
)

// OperationType identifies which remote mutation a pending operation replays.
type OperationType string

const (
	OpCompleteTask     OperationType = "complete_task"
	OpUncompleteTask   OperationType = "uncomplete_task"
	OpCompleteRitual   OperationType = "complete_ritual"
	OpUncompleteRitual OperationType = "uncomplete_ritual"
	OpCreateTask       OperationType = "create_task"
	OpUpdateTask       OperationType = "update_task"
	OpDeleteTask       OperationType = "delete_task"
)

// DateLayout is the calendar-date format carried by date-scoped operations.
const DateLayout = "2006-01-02"

// PendingOperation is one unconfirmed mutation awaiting replay against the remote.
type PendingOperation struct {
	ID         string        `json:"id"`
	Type       OperationType `json:"type"`
	EntityID   string        `json:"entity_id"`
	Date       string        `json:"date,omitempty"`
	Payload    []byte        `json:"payload,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	RetryCount int           `json:"retry_count"`
}

// OperationKey is the dedup key: at most one pending operation per key exists
// at a time, the newest enqueue winning. Date is part of the key so a pending
// ritual toggle for one day is never evicted by a toggle for another day; for
// task operations Date is empty and the key reduces to (entity, type).
type OperationKey struct {
	EntityID string
	Type     OperationType
	Date     string
}

func (op *PendingOperation) Key() OperationKey {
	return OperationKey{EntityID: op.EntityID, Type: op.Type, Date: op.Date}
}

// RequiresPayload reports whether the operation type carries a request body.
func (t OperationType) RequiresPayload() bool {
	return t == OpCreateTask || t == OpUpdateTask
}

// DateScoped reports whether the operation type is bound to a calendar day.
func (t OperationType) DateScoped() bool {
	return t == OpCompleteRitual || t == OpUncompleteRitual
}

func (t OperationType) Valid() bool {
	switch t {
	case OpCompleteTask, OpUncompleteTask, OpCompleteRitual, OpUncompleteRitual,
		OpCreateTask, OpUpdateTask, OpDeleteTask:
		return true
	}
	return false
}

// Validate checks the record is complete enough to replay.
func (op *PendingOperation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation id is empty")
	}
	if !op.Type.Valid() {
		return fmt.Errorf("unknown operation type: %q", op.Type)
	}
	if op.EntityID == "" {
		return fmt.Errorf("operation entity id is empty")
	}
	if op.Type.RequiresPayload() && len(op.Payload) == 0 {
		return fmt.Errorf("operation type %s requires a payload", op.Type)
	}
	if op.Type.DateScoped() && op.Date == "" {
		return fmt.Errorf("operation type %s requires a date", op.Type)
	}
	if op.Date != "" {
		if _, err := time.Parse(DateLayout, op.Date); err != nil {
			return fmt.Errorf("invalid operation date %q: %w", op.Date, err)
		}
	}
	if op.RetryCount < 0 {
		return fmt.Errorf("negative retry count: %d", op.RetryCount)
	}
	return nil
}
