package actions

import (
	"context"
	"errors"

	"driftsync/internal/models"
)

// Action performs the remote mutation for one pending operation.
// Implementations own their transport and timeout; the caller only observes
// success or failure.
type Action func(ctx context.Context, op models.PendingOperation) error

// Registry is the dispatch table mapping each operation type to the action
// that replays it. Types without an entry have no wired replay strategy.
type Registry map[models.OperationType]Action

func NewRegistry() Registry {
	return make(Registry)
}

func (r Registry) Register(t models.OperationType, a Action) {
	r[t] = a
}

func (r Registry) Lookup(t models.OperationType) (Action, bool) {
	a, ok := r[t]
	return a, ok
}

// Noop replays nothing and reports success. Register it for operation types a
// deployment intentionally does not push to the remote.
func Noop(_ context.Context, _ models.PendingOperation) error {
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as unrecoverable: the remote rejected the mutation as
// invalid rather than unavailable, so replaying it can never succeed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in the chain was marked Permanent.
// Unmarked errors count as transient.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
