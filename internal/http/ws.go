package http

import (
	"net/http"
	"time"

	"CreatorDeals/internal/errs"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events streams deal and payment events the caller is party to. The
// principal only comes from the header set by the auth gateway; query
// parameters are caller-controlled and never identify anyone.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	who := principal(r)
	if who == "" {
		writeError(w, http.StatusUnauthorized, errorBody{Code: errs.CodeUnauthenticated, Message: "missing user id"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.Hub.Subscribe(who)
	defer sub.Close()

	// Reads only detect the peer going away and keep pongs flowing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.Log.Debug("ws write failed", "principal", who, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
