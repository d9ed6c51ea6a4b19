package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is read-only telemetry; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscribe handles GET /ws: it upgrades the connection and streams every
// C6 event as a line-delimited JSON frame until the client disconnects or
// the bus drops it for a full outbound buffer (§4.6/§6).
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log().WithError(err).Warn("ws: upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.engine.Subscribe()
	defer sub.Close()

	// Drain and discard any client-initiated frames so the read side
	// notices a disconnect promptly; this feed is outbound-only.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for ev := range sub.Events() {
		frame := wsFrame{Type: string(ev.Type), Payload: eventPayload(ev)}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func (h *Handlers) log() *logrus.Logger {
	if h.logger != nil {
		return h.logger
	}
	return logrus.StandardLogger()
}
