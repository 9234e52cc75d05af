package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to loopback by default; cross-origin browser
	// clients are expected when it doesn't.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTaskEvents streams one task's event feed over a WebSocket.
// On attach the client first receives the replay (current progress plus
// recent log entries), then live events. A client text frame "ping" is
// answered with a heartbeat event; the reply travels through the
// subscriber queue so it is serialized with the event stream.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	sub, err := s.orch.Subscribe(taskID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "task '"+taskID+"' not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.orch.Unsubscribe(sub)
		s.logger.Warn("websocket upgrade failed", "task_id", taskID, "error", err)
		return
	}

	log := s.logger.WithTask(taskID)
	log.Debug("websocket subscriber attached", "subscriber_id", sub.ID())

	// Read pump: consumes client frames until the connection drops.
	// Unsubscribing closes the event channel, which ends the write loop
	// below.
	go func() {
		defer s.orch.Unsubscribe(sub)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				s.orch.Heartbeat(sub)
			}
		}
	}()

	for ev := range sub.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			break
		}
	}

	// The channel is closed: the client went away or the subscriber was
	// pruned for falling behind. Either way the connection is done.
	s.orch.Unsubscribe(sub)
	_ = conn.Close()
	log.Debug("websocket subscriber detached", "subscriber_id", sub.ID())
}
