// Package websockettest holds dial helpers for exercising the WebSocket
// gateway from tests.
package websockettest

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Dial connects to a httptest server URL, attaching the token and page title
// as query parameters the way the browser client does. Either may be empty.
func Dial(serverURL, token, pageTitle string) (*websocket.Conn, *http.Response, error) {
	target, err := url.Parse(strings.Replace(serverURL, "http", "ws", 1))
	if err != nil {
		return nil, nil, err
	}
	query := target.Query()
	if token != "" {
		query.Set("webSocketToken", token)
	}
	if pageTitle != "" {
		query.Set("pageTitle", pageTitle)
	}
	target.RawQuery = query.Encode()
	return websocket.DefaultDialer.Dial(target.String(), nil)
}

// ReadFrame reads one text frame with a deadline so a missing message fails
// the test instead of hanging it.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, payload, err := conn.ReadMessage()
	return payload, err
}
