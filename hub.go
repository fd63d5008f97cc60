package main

import (
	"context"
	"sync"
	"time"

	"clipstream/presence/internal/broadcast"
	"clipstream/presence/internal/config"
	"clipstream/presence/internal/credcache"
	"clipstream/presence/internal/httpapi"
	"clipstream/presence/internal/identity"
	"clipstream/presence/internal/logging"
	"clipstream/presence/internal/message"
	"clipstream/presence/internal/presence"
	"clipstream/presence/internal/route"
)

// sweepInterval is how often idle sessions are checked against their deadline.
const sweepInterval = 30 * time.Second

// identityResolver is the slice of the identity link the hub consumes.
type identityResolver interface {
	GetDecryptedInfo(ctx context.Context, token string) (identity.Identity, error)
	Err() error
}

// Hub owns the shared state of the presence server: session registry,
// credential cache, router, broadcast scheduler and connect throttle. It is
// the audience the scheduler delivers batches to.
type Hub struct {
	cfg      *config.Config
	log      *logging.Logger
	auth     identityResolver
	enricher *message.Enricher

	registry  *presence.Registry
	cache     *credcache.Cache
	queue     *broadcast.Queue
	router    *route.Router
	scheduler *broadcast.Scheduler
	throttle  *httpapi.ConnectThrottle

	startedAt time.Time
	now       func() time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewHub wires the presence subsystems together. Version is the composite
// protocol version reported on every outbound frame.
func NewHub(cfg *config.Config, auth identityResolver, version string, log *logging.Logger) *Hub {
	if log == nil {
		log = logging.L()
	}
	h := &Hub{
		cfg:       cfg,
		log:       log,
		auth:      auth,
		enricher:  message.NewEnricher(version),
		registry:  presence.NewRegistry(cfg.IdleTimeout),
		cache:     credcache.New(cfg.CredentialTTL),
		queue:     broadcast.NewQueue(cfg.QueueLimit),
		throttle:  httpapi.NewConnectThrottle(cfg.ConnectWindow, cfg.ConnectBurst, nil),
		startedAt: time.Now(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	h.router = route.NewRouter(h.registry, h.queue, h.enricher, log)
	h.scheduler = broadcast.NewScheduler(h.queue, h.enricher, h, h.registry,
		message.NewMemoryReader(), cfg.FlushInterval, cfg.SummaryRefreshInterval(), log)
	return h
}

// Start runs the broadcast scheduler and the idle-session sweeper.
func (h *Hub) Start() {
	h.scheduler.Start()
	go h.sweepLoop()
}

// Close stops the timers and disconnects every session.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
	h.scheduler.Close()
	for _, session := range h.registry.All() {
		h.registry.Unregister(session.ID)
		closeOutbox(session.Outbox)
	}
}

func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	defer close(h.doneCh)
	for {
		select {
		case <-ticker.C:
			h.sweepIdle(h.now())
		case <-h.stopCh:
			return
		}
	}
}

// sweepIdle evicts sessions past their idle deadline and announces the
// disconnect like any other.
func (h *Hub) sweepIdle(now time.Time) {
	for _, session := range h.registry.SweepIdle(now) {
		h.log.Info("idle session evicted",
			logging.String("resource_id", session.ID),
			logging.Int64("users_id", session.UsersID))
		h.announceDisconnect(session, "idle timeout")
		closeOutbox(session.Outbox)
	}
}

// resolveToken consults the credential cache before the identity service.
func (h *Hub) resolveToken(ctx context.Context, token string) (identity.Identity, error) {
	if ident, ok := h.cache.Lookup(token); ok {
		return ident, nil
	}
	ident, err := h.auth.GetDecryptedInfo(ctx, token)
	if err != nil {
		return identity.Identity{}, err
	}
	h.cache.Store(token, ident)
	return ident, nil
}

// connect registers the session and stages its connect notice.
func (h *Hub) connect(id string, ident identity.Identity, pageTitle string, outbox presence.Outbox) presence.Session {
	session := h.registry.Register(id, ident, pageTitle, outbox)
	if presence.ShouldPropagate(session) {
		h.stageNotice(message.TypeNewConnection, session, "")
	}
	return session
}

// disconnect removes the session and stages its disconnect notice. Unknown
// ids are a no-op so transport teardown and idle eviction can race safely.
func (h *Hub) disconnect(id, reason string) {
	session, ok := h.registry.Unregister(id)
	if !ok {
		return
	}
	h.announceDisconnect(session, reason)
}

func (h *Hub) announceDisconnect(session presence.Session, reason string) {
	if presence.ShouldPropagate(session) {
		h.stageNotice(message.TypeNewDisconnection, session, reason)
	}
}

func (h *Hub) stageNotice(frameType string, session presence.Session, reason string) {
	payload, err := h.enricher.System(frameType, session, reason)
	if err != nil {
		h.log.Error("render presence notice", logging.Error(err))
		return
	}
	h.queue.Enqueue(payload)
}

// BroadcastPublic delivers one flush payload to every session.
func (h *Hub) BroadcastPublic(payload []byte) {
	for _, session := range h.registry.All() {
		h.deliverBroadcast(session, payload)
	}
}

// BroadcastAdmin delivers the richer flush payload to admin sessions only.
func (h *Hub) BroadcastAdmin(payload []byte) {
	for _, session := range h.registry.All() {
		if session.IsAdmin {
			h.deliverBroadcast(session, payload)
		}
	}
}

func (h *Hub) deliverBroadcast(session presence.Session, payload []byte) {
	if session.Outbox == nil {
		return
	}
	if err := session.Outbox.Deliver(payload); err != nil {
		h.log.Debug("broadcast delivery failed",
			logging.String("resource_id", session.ID),
			logging.Error(err))
	}
}

// SessionCount reports the current registry size for readiness checks.
func (h *Hub) SessionCount() int { return h.registry.Len() }

// AuthLinkError reports the identity link state for readiness checks.
func (h *Hub) AuthLinkError() error { return h.auth.Err() }

// Uptime reports how long the hub has been running.
func (h *Hub) Uptime() time.Duration { return time.Since(h.startedAt) }

// QueueStats reports the staged broadcast backlog and total overflow drops.
func (h *Hub) QueueStats() (int, uint64) { return h.queue.Len(), h.queue.Dropped() }

func closeOutbox(outbox presence.Outbox) {
	if closer, ok := outbox.(interface{ Close() }); ok {
		closer.Close()
	}
}
