// Package api exposes the orchestrator over HTTP: terminal and session
// lifecycle, inbox sends, flow management, delegation, and a websocket
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"agentmux/internal/delegate"
	"agentmux/internal/fault"
	"agentmux/internal/flow"
	"agentmux/internal/inbox"
	"agentmux/internal/logging"
	"agentmux/internal/terminal"
)

// RestHandler carries the services the REST surface drives.
type RestHandler struct {
	Manager  *terminal.Manager
	Inbox    *inbox.Engine
	Delegate *delegate.Service
	Flows    *flow.Service
	Logger   *logging.Logger
}

type statusResponse struct {
	TerminalCount int       `json:"terminal_count"`
	SessionCount  int       `json:"session_count"`
	ServerTime    time.Time `json:"server_time"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type terminalResponse struct {
	ID           string    `json:"id"`
	SessionName  string    `json:"session_name"`
	WindowName   string    `json:"window_name"`
	Provider     string    `json:"provider"`
	AgentProfile string    `json:"agent_profile"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireManager(); err != nil {
		return err
	}

	terminals, err := h.Manager.Store().ListTerminals()
	if err != nil {
		return serviceError(err)
	}
	sessions, err := h.Manager.ListSessions()
	if err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		TerminalCount: len(terminals),
		SessionCount:  len(sessions),
		ServerTime:    time.Now().UTC(),
	})
	return nil
}

func (h *RestHandler) requireManager() *apiError {
	if h.Manager == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "terminal manager unavailable"}
	}
	return nil
}

func (h *RestHandler) requireInbox() *apiError {
	if h.Inbox == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "inbox unavailable"}
	}
	return nil
}

func (h *RestHandler) requireDelegate() *apiError {
	if h.Delegate == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "delegation unavailable"}
	}
	return nil
}

func (h *RestHandler) requireFlows() *apiError {
	if h.Flows == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "flow service unavailable"}
	}
	return nil
}

// serviceError maps domain failures onto HTTP statuses.
func serviceError(err error) *apiError {
	var notFound *fault.NotFoundError
	var validation *fault.ValidationError
	var precondition *fault.PreconditionError
	var timeout *fault.TimeoutError
	switch {
	case errors.As(err, &notFound):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.As(err, &validation):
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.As(err, &precondition):
		return &apiError{Status: http.StatusPreconditionFailed, Message: err.Error()}
	case errors.As(err, &timeout):
		return &apiError{Status: http.StatusGatewayTimeout, Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}

func decodeJSONBody(r *http.Request, target any) *apiError {
	defer io.Copy(io.Discard, r.Body)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allow string) *apiError {
	w.Header().Set("Allow", allow)
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}
