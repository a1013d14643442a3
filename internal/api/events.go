package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/igwedaniel/walletsync/internal/types"
)

const (
	eventBuffer    = 64
	eventWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamEvents upgrades to a websocket and forwards every bus event as JSON
// until the client goes away
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("Failed to upgrade event stream: %v", err)
		return
	}
	defer conn.Close()

	events := make(chan *types.Event, eventBuffer)
	sub := h.feed.Subscribe(events)
	defer sub.Unsubscribe()

	h.logger.WithField("remote_addr", r.RemoteAddr).Info("Event stream client connected")

	// Reads only detect the close; clients send nothing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.WithField("remote_addr", r.RemoteAddr).Info("Event stream client disconnected")
			return
		case err := <-sub.Err():
			if err != nil {
				h.logger.Errorf("Event subscription failed: %v", err)
			}
			// nil once the bus closes
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(eventWriteWait))
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debugf("Failed to write event: %v", err)
				return
			}
		}
	}
}
