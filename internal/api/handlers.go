package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"driftsync/internal/actions"
	"driftsync/internal/engine"
	"driftsync/internal/metrics"
	"driftsync/internal/models"
)

// maxPayloadBytes bounds create/update bodies; queued payloads are persisted
// verbatim, so oversized documents would bloat the pending store.
const maxPayloadBytes = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("status")

	writeJSON(w, http.StatusOK, map[string]any{
		"online":  s.controller.Online(),
		"syncing": s.controller.Syncing(),
		"pending": s.controller.PendingCount(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("queue")

	ops := s.controller.PendingOperations()
	if ops == nil {
		ops = []models.PendingOperation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(ops),
		"operations": ops,
	})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("queue_clear")

	if err := s.controller.ClearQueue(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("sync")

	if !s.controller.Online() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"triggered": false,
			"reason":    "offline",
		})
		return
	}

	// Drain passes block on network round-trips; run in the background and
	// let the engine's guard collapse concurrent triggers.
	go s.controller.ForceSync(context.Background())

	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("tasks")

	const prefix = "/api/v1/tasks/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, prefix)
	taskID, verb, hasVerb := strings.Cut(rest, "/")
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	if hasVerb {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch verb {
		case "complete":
			s.respondMutation(w, s.mutator.CompleteTask(r.Context(), taskID))
		case "uncomplete":
			s.respondMutation(w, s.mutator.UncompleteTask(r.Context(), taskID))
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodPost:
		payload, err := readPayload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondMutation(w, s.mutator.CreateTask(r.Context(), taskID, payload))
	case http.MethodPut:
		payload, err := readPayload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondMutation(w, s.mutator.UpdateTask(r.Context(), taskID, payload))
	case http.MethodDelete:
		s.respondMutation(w, s.mutator.DeleteTask(r.Context(), taskID))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRituals(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("rituals")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/rituals/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, prefix)
	ritualID, verb, _ := strings.Cut(rest, "/")
	ritualID = strings.TrimSpace(ritualID)
	if ritualID == "" {
		writeError(w, http.StatusBadRequest, "ritual id is required")
		return
	}

	var body struct {
		Date string `json:"date"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date := strings.TrimSpace(body.Date)
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	switch verb {
	case "complete":
		s.respondMutation(w, s.mutator.CompleteRitual(r.Context(), ritualID, date))
	case "uncomplete":
		s.respondMutation(w, s.mutator.UncompleteRitual(r.Context(), ritualID, date))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// respondMutation maps engine outcomes onto HTTP statuses: applied on the
// backend now, queued for a later drain pass, or rejected outright.
func (s *Server) respondMutation(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"applied": true})
	case errors.Is(err, engine.ErrOffline):
		writeJSON(w, http.StatusAccepted, map[string]any{"applied": false, "queued": true})
	case actions.IsPermanent(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"applied": false,
			"queued":  true,
			"error":   err.Error(),
		})
	}
}

func readPayload(r *http.Request) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("request body is required")
	}
	if len(payload) > maxPayloadBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxPayloadBytes)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("invalid JSON body")
	}
	return payload, nil
}
