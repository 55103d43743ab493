package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/lumen-core/internal/bridges/yeelight"
)

// LightCommand is the body of POST /lights/{id}/commands.
type LightCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandResponse acknowledges a command that was written to the light.
type CommandResponse struct {
	CommandID string `json:"command_id"`
	DeviceID  string `json:"device_id"`
	Command   string `json:"command"`
	Status    string `json:"status"`
}

// handleListLights returns every known light with its connection state.
func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	lights := s.lights.Lights()
	writeJSON(w, http.StatusOK, map[string]any{
		"lights": lights,
		"count":  len(lights),
	})
}

// handleGetLight returns one light by display name or hex identity.
func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	light, err := s.lights.Light(id)
	if err != nil {
		if errors.Is(err, yeelight.ErrUnknownLight) {
			writeNotFound(w, "light not found")
			return
		}
		writeInternalError(w, "failed to get light")
		return
	}
	writeJSON(w, http.StatusOK, light)
}

// handleLightCommand runs a command on a light.
//
// A 202 means the request was written to the light, not that the light
// applied it; state changes arrive on the light.state WebSocket channel.
func (s *Server) handleLightCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body LightCommand
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	cmd := yeelight.CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		DeviceID:   id,
		Command:    body.Command,
		Parameters: body.Parameters,
		Source:     "api",
	}

	if err := s.lights.Execute(cmd); err != nil {
		writeCommandError(w, err)
		return
	}

	s.logger.Info("light command sent",
		"device_id", id,
		"command", cmd.Command,
		"command_id", cmd.ID,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, CommandResponse{
		CommandID: cmd.ID,
		DeviceID:  id,
		Command:   cmd.Command,
		Status:    string(yeelight.AckAccepted),
	})
}

// handleLightHistory returns recorded state snapshots, newest first.
// The optional limit query parameter defaults to 50 and is capped at 200.
func (s *Server) handleLightHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.lights.History(r.Context(), id, limit)
	if err != nil {
		switch {
		case errors.Is(err, yeelight.ErrUnknownLight):
			writeNotFound(w, "light not found")
		case errors.Is(err, yeelight.ErrHistoryDisabled):
			writeNotFound(w, "light history is not enabled")
		default:
			s.logger.Error("reading light history failed", "device_id", id, "error", err)
			writeInternalError(w, "failed to read light history")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// handlePersist merges the live light list with storage and saves it.
func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Persist(r.Context()); err != nil {
		s.logger.Error("persisting light list failed", "error", err)
		writeInternalError(w, "failed to persist light list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"persisted": s.store.Count(),
	})
}

// writeCommandError maps a bridge error to an HTTP status.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, yeelight.ErrUnknownLight):
		writeNotFound(w, err.Error())
	case errors.Is(err, yeelight.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, yeelight.ErrUnsupportedMode), errors.Is(err, yeelight.ErrInvalidArgument):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, yeelight.ErrNotConnected), errors.Is(err, yeelight.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, "command failed")
	}
}
