package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"agentmux/internal/event"
)

// EventsHandler streams bus events to websocket clients at /ws/events.
type EventsHandler struct {
	Bus *event.Bus
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		http.Error(w, "events unavailable", http.StatusInternalServerError)
		return
	}

	events, cancel := h.Bus.Subscribe()
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Block until the client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
