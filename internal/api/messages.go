package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// messageRequest is the request body for POST /messages. Source is
// optional; without it the message is published under the system
// source.
type messageRequest struct {
	Source  string         `json:"source,omitempty"`
	Event   string         `json:"event"`
	Target  string         `json:"target,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// handlePublishMessage injects a message into the bus. Used by the
// visual editor's "test fire" button and by commissioning scripts.
//
// Dispatch is asynchronous when the bus is mid-flight, so the handler
// answers 202 rather than reporting delivery. Validation rejections
// come back as 422.
func (s *Server) handlePublishMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Event == "" {
		writeBadRequest(w, "event is required")
		return
	}

	if req.Source == "" {
		s.bus.Publish(req.Event, req.Payload)
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
		return
	}

	msg := bus.NewMessage(req.Source, req.Event, req.Payload)
	msg.Target = req.Target

	if err := s.bus.RouteMessage(msg); err != nil {
		if errors.Is(err, bus.ErrValidation) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"message_id": msg.ID,
	})
}
