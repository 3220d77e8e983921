package api

import (
	"net/http"
	"strings"
)

type addFlowRequest struct {
	Path string `json:"path"`
}

type flowRunResponse struct {
	Name     string `json:"name"`
	Executed bool   `json:"executed"`
}

// handleFlows serves /api/flows.
func (h *RestHandler) handleFlows(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireFlows(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		flows, err := h.Flows.List()
		if err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusOK, flows)
		return nil
	case http.MethodPost:
		var req addFlowRequest
		if apiErr := decodeJSONBody(r, &req); apiErr != nil {
			return apiErr
		}
		if req.Path == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "path is required"}
		}
		f, err := h.Flows.Add(req.Path)
		if err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusCreated, f)
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

// handleFlow serves /api/flows/{name} and its actions.
func (h *RestHandler) handleFlow(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireFlows(); err != nil {
		return err
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/flows/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		return &apiError{Status: http.StatusNotFound, Message: "flow name required"}
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			f, err := h.Flows.Get(name)
			if err != nil {
				return serviceError(err)
			}
			writeJSON(w, http.StatusOK, f)
			return nil
		case http.MethodDelete:
			if err := h.Flows.Remove(name); err != nil {
				return serviceError(err)
			}
			writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "removed"})
			return nil
		default:
			return methodNotAllowed(w, "GET, DELETE")
		}
	case "enable":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		if err := h.Flows.Enable(name); err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "enabled"})
		return nil
	case "disable":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		if err := h.Flows.Disable(name); err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "disabled"})
		return nil
	case "run":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		executed, err := h.Flows.Execute(r.Context(), name)
		if err != nil {
			return serviceError(err)
		}
		writeJSON(w, http.StatusOK, flowRunResponse{Name: name, Executed: executed})
		return nil
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown flow action"}
	}
}
