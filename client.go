package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clipstream/presence/internal/logging"
	"clipstream/presence/internal/message"
)

const sendBufferSize = 256

var errOutboxFull = errors.New("client outbox full")

// client wraps one WebSocket connection. The write pump owns the connection
// for writes; everything else pushes through the buffered send channel, so
// Deliver never blocks a fan-out on one slow socket.
type client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	log  *logging.Logger

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(id string, conn *websocket.Conn, hub *Hub, log *logging.Logger) *client {
	return &client{
		id:     id,
		conn:   conn,
		hub:    hub,
		log:    log.With(logging.String("resource_id", id)),
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Deliver queues one payload for the write pump.
func (c *client) Deliver(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("client closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errOutboxFull
	}
}

// Close tears the connection down once; safe from any goroutine.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// readPump processes inbound frames in arrival order until the connection
// dies, then unregisters the session.
func (c *client) readPump() {
	defer func() {
		c.hub.disconnect(c.id, "connection closed")
		c.Close()
	}()
	c.conn.SetReadLimit(c.hub.cfg.MaxPayloadBytes)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", logging.Error(err))
			}
			return
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("ping")) {
			c.hub.registry.Touch(c.id)
			_ = c.Deliver(message.PongFrame())
			continue
		}
		m, err := message.Parse(raw)
		if err != nil {
			// Malformed payloads are recoverable: the connection stays open.
			_ = c.Deliver(message.ErrorFrame("malformed message"))
			continue
		}
		token := m.Token()
		if token == "" {
			_ = c.Deliver(message.ErrorFrame("missing webSocketToken"))
			continue
		}
		ident, err := c.hub.resolveToken(context.Background(), token)
		if err != nil {
			// A rejected token is terminal, unlike a malformed frame.
			c.log.Info("message token rejected", logging.Error(err))
			_ = c.Deliver(message.ErrorFrame("invalid webSocketToken"))
			return
		}
		session, ok := c.hub.registry.Refresh(c.id, ident)
		if !ok {
			return
		}
		c.hub.registry.Touch(c.id)
		c.hub.router.Route(m, session)
	}
}

// writePump owns all writes to the socket, including keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
