package api

import (
	"net/http"
	"strings"

	"agentmux/internal/terminal"
)

type sessionResponse struct {
	Name        string             `json:"name"`
	Windows     int                `json:"windows"`
	Attached    bool               `json:"attached"`
	WindowNames []string           `json:"window_names,omitempty"`
	Terminals   []terminalResponse `json:"terminals"`
}

func sessionPayload(s terminal.Session) sessionResponse {
	terminals := make([]terminalResponse, 0, len(s.Terminals))
	for _, term := range s.Terminals {
		terminals = append(terminals, terminalPayload(term, ""))
	}
	return sessionResponse{
		Name:        s.Name,
		Windows:     s.Windows,
		Attached:    s.Attached,
		WindowNames: s.WindowNames,
		Terminals:   terminals,
	}
}

// handleSessions serves /api/sessions.
func (h *RestHandler) handleSessions(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		sessions, err := h.Manager.ListSessions()
		if err != nil {
			return serviceError(err)
		}
		payload := make([]sessionResponse, 0, len(sessions))
		for _, s := range sessions {
			payload = append(payload, sessionPayload(s))
		}
		writeJSON(w, http.StatusOK, payload)
		return nil
	case http.MethodPost:
		var req createTerminalRequest
		if apiErr := decodeJSONBody(r, &req); apiErr != nil {
			return apiErr
		}
		term, err := h.Manager.CreateTerminal(terminal.CreateRequest{
			Provider:     req.Provider,
			AgentProfile: req.AgentProfile,
			WorkingDir:   req.WorkingDir,
		})
		if err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusCreated, terminalPayload(term, ""))
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

// handleSession serves /api/sessions/{name} and the nested terminals
// collection.
func (h *RestHandler) handleSession(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireManager(); err != nil {
		return err
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" {
		return &apiError{Status: http.StatusNotFound, Message: "session name required"}
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			session, err := h.Manager.GetSession(name)
			if err != nil {
				return serviceError(err)
			}
			writeJSON(w, http.StatusOK, sessionPayload(session))
			return nil
		case http.MethodDelete:
			if err := h.Manager.DeleteSession(name); err != nil {
				return serviceError(err)
			}
			writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
			return nil
		default:
			return methodNotAllowed(w, "GET, DELETE")
		}
	case "terminals":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		var req createTerminalRequest
		if apiErr := decodeJSONBody(r, &req); apiErr != nil {
			return apiErr
		}
		term, err := h.Manager.CreateTerminal(terminal.CreateRequest{
			Provider:     req.Provider,
			AgentProfile: req.AgentProfile,
			SessionName:  name,
			WorkingDir:   req.WorkingDir,
		})
		if err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusCreated, terminalPayload(term, ""))
		return nil
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown session resource"}
	}
}
