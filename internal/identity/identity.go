// Package identity models the decrypted payload behind a WebSocket token as
// returned by the external identity service. The upstream encoder is loose with
// scalar types (numbers arrive as strings, booleans as 0/1), so the JSON
// mapping tolerates those shapes instead of failing the whole handshake.
package identity

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Identity is the decrypted payload behind a WebSocket token.
type Identity struct {
	UsersID          Int64  `json:"from_users_id"`
	UserName         string `json:"user_name"`
	IsAdmin          Bool   `json:"isAdmin"`
	VideosID         Int64  `json:"videos_id"`
	Live             Live   `json:"live_key"`
	SelfURI          string `json:"selfURI"`
	DeviceID         string `json:"yptDeviceId"`
	IP               string `json:"ip"`
	SendToURIPattern string `json:"send_to_uri_pattern"`
	SentFrom         string `json:"sentFrom"`
	Browser          string `json:"browser"`
	OS               string `json:"os"`
	Location         string `json:"location"`
	RoomUsersID      Int64  `json:"room_users_id"`
}

// Live identifies the live broadcast a session is attached to, if any.
// Older encoders emit a bare string holding only the key.
type Live struct {
	Key           string `json:"key"`
	LiveServersID Int64  `json:"live_servers_id"`
	LiveLink      string `json:"liveLink"`
}

// UnmarshalJSON accepts either the object form or a legacy bare-string key.
func (l *Live) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = Live{}
		return nil
	}
	if trimmed[0] == '"' {
		var key string
		if err := json.Unmarshal(trimmed, &key); err != nil {
			return err
		}
		*l = Live{Key: key}
		return nil
	}
	type plain Live
	var decoded plain
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return err
	}
	*l = Live(decoded)
	return nil
}

// Int64 decodes JSON numbers, numeric strings, and booleans into an int64.
type Int64 int64

// UnmarshalJSON implements tolerant numeric decoding.
func (v *Int64) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte(`""`)) {
		*v = 0
		return nil
	}
	if bytes.Equal(trimmed, []byte("true")) {
		*v = 1
		return nil
	}
	raw := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*v = 0
			return nil
		}
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*v = 0
		return nil
	}
	*v = Int64(int64(parsed))
	return nil
}

// Bool decodes JSON booleans, numbers, and common string spellings into a bool.
type Bool bool

// UnmarshalJSON implements tolerant boolean decoding.
func (v *Bool) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		*v = false
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*v = true
		return nil
	case bytes.Equal(trimmed, []byte("false")):
		*v = false
		return nil
	}
	raw := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	switch strings.ToLower(raw) {
	case "", "0", "false", "no":
		*v = false
	default:
		*v = true
	}
	return nil
}

// Decode parses an identity service response payload. An empty or falsy payload
// yields ok=false, signalling an invalid token.
func Decode(raw json.RawMessage) (Identity, bool) {
	trimmed := bytes.TrimSpace(raw)
	if isFalsy(trimmed) {
		return Identity{}, false
	}
	var ident Identity
	if err := json.Unmarshal(trimmed, &ident); err != nil {
		return Identity{}, false
	}
	return ident, true
}

func isFalsy(trimmed []byte) bool {
	switch string(trimmed) {
	case "", "null", "false", "0", `""`, "{}", "[]":
		return true
	}
	return false
}
