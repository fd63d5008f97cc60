package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"clipstream/presence/internal/config"
	"clipstream/presence/internal/identity"
	"clipstream/presence/internal/logging"
)

type fakeResolver struct {
	mu         sync.Mutex
	identities map[string]identity.Identity
	calls      int
	linkErr    error
}

func (f *fakeResolver) GetDecryptedInfo(_ context.Context, token string) (identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ident, ok := f.identities[token]
	if !ok {
		return identity.Identity{}, errors.New("invalid token")
	}
	return ident, nil
}

func (f *fakeResolver) Err() error { return f.linkErr }

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubOutbox struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (o *stubOutbox) Deliver(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.payloads = append(o.payloads, payload)
	return nil
}

func (o *stubOutbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

func (o *stubOutbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.payloads)
}

func (o *stubOutbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func testConfig() *config.Config {
	return &config.Config{
		Address:         ":0",
		MaxPayloadBytes: 64 << 10,
		PingInterval:    time.Minute,
		MaxClients:      16,
		FlushInterval:   time.Hour,
		IdleTimeout:     10 * time.Minute,
		CredentialTTL:   time.Minute,
		QueueLimit:      64,
		ConnectWindow:   time.Minute,
		ConnectBurst:    100,
	}
}

func testIdentity(usersID int64, name string, admin bool) identity.Identity {
	return identity.Identity{
		UsersID:  identity.Int64(usersID),
		UserName: name,
		IsAdmin:  identity.Bool(admin),
		SelfURI:  "/home",
		DeviceID: "device-" + name,
		IP:       "10.0.0.1",
	}
}

func newTestHub(t *testing.T, resolver *fakeResolver, cfg *config.Config) *Hub {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	hub := NewHub(cfg, resolver, "12.17", logging.NewTestLogger())
	hub.Start()
	t.Cleanup(hub.Close)
	return hub
}

func TestResolveTokenUsesCache(t *testing.T) {
	resolver := &fakeResolver{identities: map[string]identity.Identity{
		"tok": testIdentity(7, "alice", false),
	}}
	hub := newTestHub(t, resolver, nil)

	for i := 0; i < 3; i++ {
		ident, err := hub.resolveToken(context.Background(), "tok")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if ident.UserName != "alice" {
			t.Fatalf("unexpected identity: %+v", ident)
		}
	}
	if resolver.callCount() != 1 {
		t.Fatalf("expected a single identity service call, got %d", resolver.callCount())
	}
}

func TestConnectStagesNotice(t *testing.T) {
	hub := newTestHub(t, &fakeResolver{}, nil)

	hub.connect("s1", testIdentity(7, "alice", false), "Home", &stubOutbox{})
	if hub.queue.Len() != 1 {
		t.Fatalf("expected one staged connect notice, got %d", hub.queue.Len())
	}
	drained := hub.queue.Drain()
	var notice map[string]any
	if err := json.Unmarshal(drained[0], &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice["type"] != "NEW_CONNECTION" || notice["users_id"] != float64(7) {
		t.Fatalf("unexpected notice: %v", notice)
	}
}

func TestLoopbackSessionStaysSilent(t *testing.T) {
	hub := newTestHub(t, &fakeResolver{}, nil)

	ident := testIdentity(7, "alice", false)
	ident.IP = "127.0.0.1"
	hub.connect("s1", ident, "", &stubOutbox{})
	if hub.queue.Len() != 0 {
		t.Fatal("loopback connect must not stage a notice")
	}
	if hub.SessionCount() != 1 {
		t.Fatal("loopback session must still be counted")
	}

	hub.disconnect("s1", "closed")
	if hub.queue.Len() != 0 {
		t.Fatal("loopback disconnect must not stage a notice")
	}
}

func TestBroadcastAudiences(t *testing.T) {
	hub := newTestHub(t, &fakeResolver{}, nil)

	userOut := &stubOutbox{}
	adminOut := &stubOutbox{}
	hub.connect("s1", testIdentity(1, "user", false), "", userOut)
	hub.connect("s2", testIdentity(2, "admin", true), "", adminOut)

	hub.BroadcastPublic([]byte(`{"type":"MSG_BATCH"}`))
	if userOut.count() != 1 || adminOut.count() != 1 {
		t.Fatalf("public payload must reach everyone, got %d and %d", userOut.count(), adminOut.count())
	}

	hub.BroadcastAdmin([]byte(`{"type":"MSG_BATCH","detail":true}`))
	if userOut.count() != 1 {
		t.Fatal("admin payload must not reach regular sessions")
	}
	if adminOut.count() != 2 {
		t.Fatalf("admin payload must reach admin sessions, got %d", adminOut.count())
	}
}

func TestSweepIdleEvictsAndAnnounces(t *testing.T) {
	cfg := testConfig()
	hub := newTestHub(t, &fakeResolver{}, cfg)

	out := &stubOutbox{}
	hub.connect("s1", testIdentity(7, "alice", false), "", out)
	hub.queue.Drain()

	hub.sweepIdle(time.Now().Add(cfg.IdleTimeout + time.Second))

	if hub.SessionCount() != 0 {
		t.Fatal("idle session must be evicted")
	}
	if !out.isClosed() {
		t.Fatal("evicted session's transport must be closed")
	}
	drained := hub.queue.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected one disconnect notice, got %d", len(drained))
	}
	var notice map[string]any
	if err := json.Unmarshal(drained[0], &notice); err != nil {
		t.Fatal(err)
	}
	if notice["type"] != "NEW_DISCONNECTION" || notice["reason"] != "idle timeout" {
		t.Fatalf("unexpected notice: %v", notice)
	}
}

func TestDisconnectUnknownSessionIsNoOp(t *testing.T) {
	hub := newTestHub(t, &fakeResolver{}, nil)
	hub.disconnect("missing", "closed")
	if hub.queue.Len() != 0 {
		t.Fatal("unknown session must not stage a notice")
	}
}

func TestAuthLinkErrorSurfacesInReadiness(t *testing.T) {
	resolver := &fakeResolver{linkErr: errors.New("link down")}
	hub := newTestHub(t, resolver, nil)
	if err := hub.AuthLinkError(); err == nil || err.Error() != "link down" {
		t.Fatalf("unexpected link state: %v", err)
	}
}
