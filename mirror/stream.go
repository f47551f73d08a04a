package mirror

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/profilemirror/shield"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 << 10,
	// CORS-open, as the HTTP routes.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream pushes the current snapshot on connect and every new one
// after that. Slow clients skip intermediate snapshots.
func (m *Mirror) handleStream(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Info("mirror: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	snaps, cancel := m.Subscribe()
	defer cancel()
	m.metrics.streamDelta(1)
	defer m.metrics.streamDelta(-1)

	// Reader: handles pongs and notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-m.stop:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.Debug("mirror: websocket write", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
