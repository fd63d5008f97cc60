package message

import (
	"encoding/json"
	"time"

	"clipstream/presence/internal/presence"
)

// MemoryProvider reports the process memory footprint in human-readable form.
type MemoryProvider interface {
	Human() string
}

// Enricher stamps outbound frames with protocol metadata. Direct messages get
// the sender's identity fields and a minimal per-recipient presence stamp;
// broadcast batches carry the full presence snapshot.
type Enricher struct {
	version string
}

// NewEnricher constructs an enricher reporting the given protocol version.
func NewEnricher(version string) *Enricher {
	return &Enricher{version: version}
}

// Version returns the reported protocol/server version string.
func (e *Enricher) Version() string {
	if e == nil {
		return ""
	}
	return e.version
}

// Direct renders one delivered copy of a routed message for a specific
// recipient. The copy carries the sender's identity fields and stamps the
// recipient's own resource id under both key spellings the client understands.
func (e *Enricher) Direct(m *Message, sender presence.Session, recipientID string) ([]byte, error) {
	out := m.Fields()
	out["users_id"] = sender.UsersID
	out["videos_id"] = sender.VideosID
	out["live_key"] = sender.LiveKey
	out["isAdmin"] = sender.IsAdmin
	out["webSocketServerVersion"] = e.version
	out["resourceId"] = recipientID
	out["autoUpdateOnHTML"] = map[string]any{
		"socket_resourceId":      recipientID,
		"webSocketServerVersion": e.version,
	}
	return json.Marshal(out)
}

// Queued renders the broadcast-staged copy of a message. No recipient is known
// yet, so the stamp falls back to the sender's own resource id.
func (e *Enricher) Queued(m *Message, sender presence.Session) (json.RawMessage, error) {
	return e.Direct(m, sender, sender.ID)
}

// System renders a connect/disconnect notice staged for the next broadcast.
func (e *Enricher) System(frameType string, s presence.Session, reason string) (json.RawMessage, error) {
	out := map[string]any{
		"id":                     s.ID,
		"type":                   frameType,
		"users_id":               s.UsersID,
		"videos_id":              s.VideosID,
		"live_key":               s.LiveKey,
		"isAdmin":                s.IsAdmin,
		"webSocketServerVersion": e.version,
	}
	if reason != "" {
		out["reason"] = reason
	}
	return json.Marshal(out)
}

// BatchInput carries everything one flush needs to render its payloads.
type BatchInput struct {
	Messages  []json.RawMessage
	Timestamp time.Time
	Snapshot  map[string]any
	Users     []presence.UserSummary
	Detail    []presence.DeviceDetail
	MemHuman  string
}

type batchEnvelope struct {
	Type                   string                  `json:"type"`
	Messages               []json.RawMessage       `json:"messages"`
	Timestamp              int64                   `json:"timestamp"`
	WebSocketServerVersion string                  `json:"webSocketServerVersion"`
	AutoUpdateOnHTML       map[string]any          `json:"autoUpdateOnHTML"`
	UsersOnline            []presence.UserSummary  `json:"users_online"`
	UsersOnlineDetail      []presence.DeviceDetail `json:"users_online_detail,omitempty"`
}

// Batch renders a broadcast envelope. The admin variant additionally carries
// the per-device detail map; the public variant never does.
func (e *Enricher) Batch(in BatchInput, admin bool) ([]byte, error) {
	update := make(map[string]any, len(in.Snapshot)+2)
	for k, v := range in.Snapshot {
		update[k] = v
	}
	update["socket_mem"] = in.MemHuman
	update["webSocketServerVersion"] = e.version

	envelope := batchEnvelope{
		Type:                   TypeBatch,
		Messages:               in.Messages,
		Timestamp:              in.Timestamp.UnixMilli(),
		WebSocketServerVersion: e.version,
		AutoUpdateOnHTML:       update,
		UsersOnline:            in.Users,
	}
	if envelope.Messages == nil {
		envelope.Messages = []json.RawMessage{}
	}
	if admin {
		envelope.UsersOnlineDetail = in.Detail
	}
	return json.Marshal(envelope)
}
