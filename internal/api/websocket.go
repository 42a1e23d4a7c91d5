package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

type wsEnvelope struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Any origin may connect; the listener is loopback by default.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnect streams the device state: one message on connect, then one per
// change.
func (h *Handler) wsConnect(c *gin.Context) {
	d, ok := h.device(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("[API] websocket upgrade failed", "device", d.ID(), "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go startReader(conn, done)

	// Holds only the newest snapshot; the publisher never blocks.
	updates := make(chan protocol.State, 1)
	unsubscribe := d.Subscribe(func(st protocol.State) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := writeEnvelope(conn, wsEnvelope{Type: "state", Data: h.stateOf(c, d)}); err != nil {
		slog.Debug("[API] websocket initial write failed", "device", d.ID(), "error", err)
		return
	}
	slog.Debug("[API] websocket client connected", "device", d.ID())

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("[API] websocket ping failed", "device", d.ID(), "error", err)
				return
			}
		case st := <-updates:
			msg := stateResponse{ID: d.ID(), Link: d.LinkState().String(), State: st}
			if err := writeEnvelope(conn, wsEnvelope{Type: "state", Data: msg}); err != nil {
				slog.Debug("[API] websocket write failed", "device", d.ID(), "error", err)
				return
			}
		}
	}
}

// startReader drains incoming messages so control frames are handled and a
// closed peer is noticed.
func startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
