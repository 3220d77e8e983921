package api

import (
	"net/http"

	"agentmux/internal/event"
	"agentmux/internal/logging"
)

// RouterOptions carries the services the HTTP surface exposes. Nil
// services disable their routes with a 500 rather than a panic.
type RouterOptions struct {
	Rest   *RestHandler
	Bus    *event.Bus
	Logger *logging.Logger
}

// RegisterRoutes wires every HTTP and websocket endpoint onto mux.
func RegisterRoutes(mux *http.ServeMux, opts RouterOptions) {
	rest := opts.Rest
	if rest == nil {
		rest = &RestHandler{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mux.Handle("/ws/events", &EventsHandler{Bus: opts.Bus})

	mux.Handle("/api/status", restHandler(logger, rest.handleStatus))
	mux.Handle("/api/sessions", restHandler(logger, rest.handleSessions))
	mux.Handle("/api/sessions/", restHandler(logger, rest.handleSession))
	mux.Handle("/api/terminals", restHandler(logger, rest.handleTerminals))
	mux.Handle("/api/terminals/", restHandler(logger, rest.handleTerminal))
	mux.Handle("/api/flows", restHandler(logger, rest.handleFlows))
	mux.Handle("/api/flows/", restHandler(logger, rest.handleFlow))
	mux.Handle("/api/handoff", restHandler(logger, rest.handleHandoff))
	mux.Handle("/api/assign", restHandler(logger, rest.handleAssign))
}
