// Package message models the frames exchanged with browser clients and the
// metadata attached to them before dispatch.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Well-known frame types shared with the browser client.
const (
	TypeNewConnection    = "NEW_CONNECTION"
	TypeNewDisconnection = "NEW_DISCONNECTION"
	TypeBatch            = "MSG_BATCH"
	TypeError            = "ERROR"
	TypePong             = "PONG"
)

// ErrNotObject reports an inbound payload that is not a JSON object.
var ErrNotObject = errors.New("payload is not a JSON object")

// Message is one inbound application frame. The client's own fields are
// preserved verbatim; routing fields are read through typed accessors.
type Message struct {
	fields map[string]any
}

// Parse decodes an inbound frame. A payload that is itself a JSON-encoded
// string is unwrapped once before inspection, tolerating a legacy client that
// double-encodes its frames.
func Parse(raw []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrNotObject
	}
	if trimmed[0] == '"' {
		var unwrapped string
		if err := json.Unmarshal(trimmed, &unwrapped); err != nil {
			return nil, err
		}
		trimmed = bytes.TrimSpace([]byte(unwrapped))
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	return &Message{fields: fields}, nil
}

// Token returns the per-message authentication token.
func (m *Message) Token() string {
	if m == nil {
		return ""
	}
	return m.stringField("webSocketToken")
}

// TargetResourceID returns the explicit target session id, if any.
func (m *Message) TargetResourceID() string {
	if m == nil {
		return ""
	}
	return m.stringField("resourceId")
}

// TargetUsersID returns the target user id, zero when unaddressed.
func (m *Message) TargetUsersID() int64 {
	if m == nil {
		return 0
	}
	return looseInt64(m.fields["to_users_id"])
}

// LiveRedirect extracts the live-session redirect instruction when present.
func (m *Message) LiveRedirect() (key string, serversID int64, ok bool) {
	if m == nil {
		return "", 0, false
	}
	nested, okJSON := m.fields["json"].(map[string]any)
	if !okJSON {
		return "", 0, false
	}
	redirect, okRedirect := nested["redirectLive"].(map[string]any)
	if !okRedirect {
		return "", 0, false
	}
	key, _ = redirect["live_key"].(string)
	if key == "" {
		return "", 0, false
	}
	return key, looseInt64(redirect["live_servers_id"]), true
}

// Fields returns a shallow copy of the client payload with the authentication
// token stripped, ready for enrichment.
func (m *Message) Fields() map[string]any {
	out := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		if k == "webSocketToken" {
			continue
		}
		out[k] = v
	}
	return out
}

func (m *Message) stringField(key string) string {
	value, _ := m.fields[key].(string)
	return strings.TrimSpace(value)
}

func looseInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return int64(parsed)
	default:
		return 0
	}
}

// ErrorFrame renders the error frame surfaced to the originating client.
func ErrorFrame(text string) []byte {
	frame, _ := json.Marshal(map[string]string{"type": TypeError, "message": text})
	return frame
}

// PongFrame answers an application-level ping.
func PongFrame() []byte {
	frame, _ := json.Marshal(map[string]string{"type": TypePong})
	return frame
}
