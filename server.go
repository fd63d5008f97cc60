package main

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clipstream/presence/internal/logging"
	"clipstream/presence/internal/message"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS accepts one WebSocket connection: throttle, upgrade, authenticate,
// register, then hand the socket to its pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.throttle.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	if h.cfg.MaxClients > 0 && h.registry.Len() >= h.cfg.MaxClients {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	upgrader := newUpgrader(h.cfg.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", logging.Error(err))
		return
	}

	id := uuid.NewString()
	cl := newClient(id, conn, h, h.log)

	token := strings.TrimSpace(r.URL.Query().Get("webSocketToken"))
	if token == "" {
		_ = conn.WriteMessage(websocket.TextMessage, message.ErrorFrame("missing webSocketToken"))
		cl.Close()
		return
	}
	ident, err := h.resolveToken(r.Context(), token)
	if err != nil {
		h.log.Info("connection token rejected",
			logging.String("remote_addr", r.RemoteAddr),
			logging.Error(err))
		_ = conn.WriteMessage(websocket.TextMessage, message.ErrorFrame("invalid webSocketToken"))
		cl.Close()
		return
	}

	pageTitle := strings.TrimSpace(r.URL.Query().Get("pageTitle"))
	session := h.connect(id, ident, pageTitle, cl)
	h.log.Info("session connected",
		logging.String("resource_id", id),
		logging.Int64("users_id", session.UsersID),
		logging.Bool("is_admin", session.IsAdmin))

	go cl.writePump()
	go cl.readPump()
}
