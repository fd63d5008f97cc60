package message

import (
	"encoding/json"
	"testing"
	"time"

	"clipstream/presence/internal/presence"
)

func TestParseRoutingFields(t *testing.T) {
	raw := []byte(`{
		"webSocketToken": "tok",
		"resourceId": "sess-9",
		"to_users_id": "42",
		"json": {"redirectLive": {"live_key": "k1", "live_servers_id": 3}},
		"text": "hello"
	}`)
	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Token() != "tok" {
		t.Fatalf("unexpected token: %q", m.Token())
	}
	if m.TargetResourceID() != "sess-9" {
		t.Fatalf("unexpected resource id: %q", m.TargetResourceID())
	}
	if m.TargetUsersID() != 42 {
		t.Fatalf("unexpected user id: %d", m.TargetUsersID())
	}
	key, servers, ok := m.LiveRedirect()
	if !ok || key != "k1" || servers != 3 {
		t.Fatalf("unexpected redirect: %q %d %v", key, servers, ok)
	}
}

func TestParseUnwrapsLegacyStringPayload(t *testing.T) {
	inner := `{"webSocketToken":"tok","text":"hi"}`
	wrapped, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}
	m, err := Parse(wrapped)
	if err != nil {
		t.Fatalf("parse wrapped payload: %v", err)
	}
	if m.Token() != "tok" {
		t.Fatalf("unexpected token: %q", m.Token())
	}
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{``, `42`, `[1,2]`, `"just a string"`, `{"broken":`} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestFieldsStripToken(t *testing.T) {
	m, err := Parse([]byte(`{"webSocketToken":"secret","text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	fields := m.Fields()
	if _, ok := fields["webSocketToken"]; ok {
		t.Fatal("token must never be forwarded to recipients")
	}
	if fields["text"] != "hi" {
		t.Fatalf("client fields must pass through: %v", fields)
	}
}

func TestDirectEnrichment(t *testing.T) {
	m, err := Parse([]byte(`{"webSocketToken":"tok","text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	sender := presence.Session{ID: "sender-1", UsersID: 7, VideosID: 10, LiveKey: "k", IsAdmin: true}
	enricher := NewEnricher("5.17")

	payload, err := enricher.Direct(m, sender, "recipient-9")
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["users_id"] != float64(7) || out["videos_id"] != float64(10) {
		t.Fatalf("sender fields missing: %v", out)
	}
	if out["isAdmin"] != true || out["live_key"] != "k" {
		t.Fatalf("sender fields missing: %v", out)
	}
	if out["webSocketServerVersion"] != "5.17" {
		t.Fatalf("version missing: %v", out)
	}
	if out["resourceId"] != "recipient-9" {
		t.Fatalf("recipient stamp missing: %v", out)
	}
	update, ok := out["autoUpdateOnHTML"].(map[string]any)
	if !ok || update["socket_resourceId"] != "recipient-9" {
		t.Fatalf("presence stamp missing: %v", out)
	}
	if _, ok := update["total_users_online"]; ok {
		t.Fatal("direct messages must not carry a full snapshot")
	}
	if _, ok := out["webSocketToken"]; ok {
		t.Fatal("token leaked into delivered frame")
	}
	if out["text"] != "hi" {
		t.Fatalf("client payload lost: %v", out)
	}
}

func TestBatchEnrichmentVariants(t *testing.T) {
	enricher := NewEnricher("5.17")
	queued, _ := json.Marshal(map[string]string{"text": "hello"})
	input := BatchInput{
		Messages:  []json.RawMessage{queued},
		Timestamp: time.UnixMilli(1700000000000),
		Snapshot:  map[string]any{"total_users_online": 2, "total_on_videos_id_10": 2},
		Users:     []presence.UserSummary{{UsersID: 1, UserName: "a", Devices: 1}},
		Detail:    []presence.DeviceDetail{{UsersID: 1, ResourceID: "r1", DeviceID: "d1"}},
		MemHuman:  "12.00 MiB",
	}

	public, err := enricher.Batch(input, false)
	if err != nil {
		t.Fatalf("public batch: %v", err)
	}
	var pub map[string]any
	if err := json.Unmarshal(public, &pub); err != nil {
		t.Fatal(err)
	}
	if pub["type"] != TypeBatch {
		t.Fatalf("unexpected type: %v", pub["type"])
	}
	if pub["timestamp"] != float64(1700000000000) {
		t.Fatalf("unexpected timestamp: %v", pub["timestamp"])
	}
	update := pub["autoUpdateOnHTML"].(map[string]any)
	if update["total_users_online"] != float64(2) || update["socket_mem"] != "12.00 MiB" {
		t.Fatalf("snapshot missing from batch: %v", update)
	}
	if _, ok := pub["users_online_detail"]; ok {
		t.Fatal("public batch must not carry per-device detail")
	}

	admin, err := enricher.Batch(input, true)
	if err != nil {
		t.Fatalf("admin batch: %v", err)
	}
	var adm map[string]any
	if err := json.Unmarshal(admin, &adm); err != nil {
		t.Fatal(err)
	}
	detail, ok := adm["users_online_detail"].([]any)
	if !ok || len(detail) != 1 {
		t.Fatalf("admin batch missing detail: %v", adm)
	}
}

func TestBatchEmptyMessagesRendersArray(t *testing.T) {
	enricher := NewEnricher("1.0")
	payload, err := enricher.Batch(BatchInput{Timestamp: time.Unix(0, 0)}, false)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["messages"].([]any); !ok {
		t.Fatalf("messages must render as an array: %v", out["messages"])
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		bytes uint64
		si    bool
		dp    int
		want  string
	}{
		{512, false, 2, "512 B"},
		{1024, false, 2, "1.00 KiB"},
		{1536, false, 1, "1.5 KiB"},
		{5 * 1024 * 1024, false, 2, "5.00 MiB"},
		{1000, true, 1, "1.0 kB"},
		{2_500_000, true, 2, "2.50 MB"},
	}
	for _, tc := range cases {
		if got := HumanBytes(tc.bytes, tc.si, tc.dp); got != tc.want {
			t.Fatalf("HumanBytes(%d, %v, %d) = %q, want %q", tc.bytes, tc.si, tc.dp, got, tc.want)
		}
	}
}
