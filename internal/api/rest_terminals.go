package api

import (
	"net/http"
	"strconv"
	"strings"

	"agentmux/internal/store"
	"agentmux/internal/terminal"
)

type createTerminalRequest struct {
	Provider     string `json:"provider"`
	AgentProfile string `json:"agent_profile"`
	WorkingDir   string `json:"working_directory,omitempty"`
}

type sendInputRequest struct {
	Message string `json:"message"`
}

type outputResponse struct {
	ID     string `json:"id"`
	Mode   string `json:"mode"`
	Output string `json:"output"`
}

type workingDirectoryResponse struct {
	ID               string `json:"id"`
	WorkingDirectory string `json:"working_directory"`
}

type sendMessageRequest struct {
	SenderID string `json:"sender_id"`
	Message  string `json:"message"`
}

type messageQueuedResponse struct {
	ID         int64  `json:"id"`
	ReceiverID string `json:"receiver_id"`
	Status     string `json:"status"`
}

func terminalPayload(term store.Terminal, status string) terminalResponse {
	return terminalResponse{
		ID:           term.ID,
		SessionName:  term.SessionName,
		WindowName:   term.WindowName,
		Provider:     term.Provider,
		AgentProfile: term.AgentProfile,
		Status:       status,
		CreatedAt:    term.CreatedAt,
		LastActive:   term.LastActive,
	}
}

// handleTerminals serves /api/terminals.
func (h *RestHandler) handleTerminals(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	terminals, err := h.Manager.Store().ListTerminals()
	if err != nil {
		return serviceError(err)
	}
	payload := make([]terminalResponse, 0, len(terminals))
	for _, term := range terminals {
		payload = append(payload, terminalPayload(term, ""))
	}
	writeJSON(w, http.StatusOK, payload)
	return nil
}

// handleTerminal serves /api/terminals/{id} and its sub-resources.
func (h *RestHandler) handleTerminal(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/terminals/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		return &apiError{Status: http.StatusNotFound, Message: "terminal id required"}
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			return h.getTerminal(w, id)
		case http.MethodDelete:
			return h.deleteTerminal(w, id)
		default:
			return methodNotAllowed(w, "GET, DELETE")
		}
	case "input":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		return h.sendInput(w, r, id)
	case "output":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		return h.getOutput(w, r, id)
	case "working-directory":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		return h.getWorkingDirectory(w, id)
	case "exit":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		return h.exitTerminal(w, id)
	case "inbox/messages":
		switch r.Method {
		case http.MethodGet:
			return h.listInbox(w, r, id)
		case http.MethodPost:
			return h.queueMessage(w, r, id)
		default:
			return methodNotAllowed(w, "GET, POST")
		}
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown terminal resource"}
	}
}

func (h *RestHandler) getTerminal(w http.ResponseWriter, id string) *apiError {
	term, status, err := h.Manager.GetTerminal(id)
	if err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, terminalPayload(term, string(status)))
	return nil
}

func (h *RestHandler) deleteTerminal(w http.ResponseWriter, id string) *apiError {
	if err := h.Manager.DeleteTerminal(id); err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	return nil
}

func (h *RestHandler) sendInput(w http.ResponseWriter, r *http.Request, id string) *apiError {
	var req sendInputRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		return apiErr
	}
	if req.Message == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "message is required"}
	}
	if err := h.Manager.SendInput(id, req.Message); err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "sent"})
	return nil
}

func (h *RestHandler) getOutput(w http.ResponseWriter, r *http.Request, id string) *apiError {
	mode, err := terminal.ParseOutputMode(r.URL.Query().Get("mode"))
	if err != nil {
		return serviceError(err)
	}
	output, err := h.Manager.GetOutput(id, mode)
	if err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, outputResponse{ID: id, Mode: string(mode), Output: output})
	return nil
}

func (h *RestHandler) getWorkingDirectory(w http.ResponseWriter, id string) *apiError {
	dir, err := h.Manager.GetWorkingDirectory(id)
	if err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, workingDirectoryResponse{ID: id, WorkingDirectory: dir})
	return nil
}

func (h *RestHandler) exitTerminal(w http.ResponseWriter, id string) *apiError {
	if err := h.Manager.ExitTerminal(id); err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "exited"})
	return nil
}

func (h *RestHandler) listInbox(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if err := h.requireInbox(); err != nil {
		return err
	}
	status := store.MessagePending
	switch raw := r.URL.Query().Get("status"); raw {
	case "", string(store.MessagePending):
	case string(store.MessageDelivered):
		status = store.MessageDelivered
	default:
		return &apiError{Status: http.StatusBadRequest, Message: "invalid message status '" + raw + "'"}
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit '" + raw + "'"}
		}
		limit = parsed
	}
	messages, err := h.Inbox.Messages(id, status, limit)
	if err != nil {
		return serviceError(err)
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
	return nil
}

func (h *RestHandler) queueMessage(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if err := h.requireInbox(); err != nil {
		return err
	}
	var req sendMessageRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		return apiErr
	}
	if req.SenderID == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "sender_id is required"}
	}
	messageID, err := h.Inbox.Send(req.SenderID, id, req.Message)
	if err != nil {
		return serviceError(err)
	}
	writeJSON(w, http.StatusCreated, messageQueuedResponse{
		ID:         messageID,
		ReceiverID: id,
		Status:     string(store.MessagePending),
	})
	return nil
}
