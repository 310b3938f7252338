// Package store persists the pending-operation set across process restarts.
// Every backend keeps the whole set as one serialized collection under a
// single well-known key.
package store

import (
	"encoding/json"
	"fmt"

	"driftsync/internal/models"
)

// StorageKey is the well-known key the pending-operation set lives under.
const StorageKey = "pending_operations"

func encodeOps(ops []models.PendingOperation) ([]byte, error) {
	if ops == nil {
		ops = []models.PendingOperation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending operations: %w", err)
	}
	return data, nil
}

func decodeOps(data []byte) ([]models.PendingOperation, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ops []models.PendingOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending operations: %w", err)
	}
	return ops, nil
}
