package api

import (
	"net/http"
	"time"

	"agentmux/internal/delegate"
)

type handoffRequest struct {
	AgentProfile   string `json:"agent_profile"`
	Message        string `json:"message"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	WorkingDir     string `json:"working_directory,omitempty"`
}

type assignRequest struct {
	AgentProfile string `json:"agent_profile"`
	Message      string `json:"message"`
	WorkingDir   string `json:"working_directory,omitempty"`
}

// handleHandoff serves POST /api/handoff. Delegation failures are
// reported inside the result payload, not as HTTP errors, so callers
// always get the human-readable outcome message.
func (h *RestHandler) handleHandoff(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireDelegate(); err != nil {
		return err
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var req handoffRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		return apiErr
	}
	if req.AgentProfile == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "agent_profile is required"}
	}
	if req.Message == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "message is required"}
	}

	result := h.Delegate.Handoff(r.Context(), delegate.HandoffRequest{
		AgentProfile: req.AgentProfile,
		Message:      req.Message,
		Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
		WorkingDir:   req.WorkingDir,
	})
	writeJSON(w, http.StatusOK, result)
	return nil
}

// handleAssign serves POST /api/assign.
func (h *RestHandler) handleAssign(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireDelegate(); err != nil {
		return err
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var req assignRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		return apiErr
	}
	if req.AgentProfile == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "agent_profile is required"}
	}
	if req.Message == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "message is required"}
	}

	result := h.Delegate.Assign(delegate.AssignRequest{
		AgentProfile: req.AgentProfile,
		Message:      req.Message,
		WorkingDir:   req.WorkingDir,
	})
	writeJSON(w, http.StatusOK, result)
	return nil
}
