package presence

import (
	"sort"
	"sync"
	"time"

	"clipstream/presence/internal/identity"
)

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithClock overrides the registry time source; primarily used in tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

type record struct {
	session  Session
	deadline time.Time
}

// Registry is the authoritative set of connected sessions. All mutation goes
// through its methods under one lock so the counters can never drift from the
// session set.
type Registry struct {
	mu          sync.RWMutex
	idleTimeout time.Duration
	now         func() time.Time
	sessions    map[string]*record
	counters    *Counters
}

// NewRegistry constructs an empty registry whose sessions are evicted after
// idleTimeout without inbound activity.
func NewRegistry(idleTimeout time.Duration, opts ...RegistryOption) *Registry {
	registry := &Registry{
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*record),
		counters:    NewCounters(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

// Register constructs a Session from the decrypted identity, inserts it under
// the transport-assigned id, and bumps every populated presence dimension.
func (r *Registry) Register(id string, ident identity.Identity, pageTitle string, outbox Outbox) Session {
	now := r.now()
	session := newSession(id, ident, pageTitle, outbox, now)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		// A duplicate id replaces the previous record so counters stay balanced.
		r.counters.Apply(existing.session, -1)
	}
	r.sessions[id] = &record{session: session, deadline: now.Add(r.idleTimeout)}
	r.counters.Apply(session, +1)
	return session
}

// Unregister removes the session and decrements its presence dimensions,
// returning the removed record so callers can decide whether to notify peers.
func (r *Registry) Unregister(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	r.counters.Apply(rec.session, -1)
	return rec.session, true
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.session, true
}

// All returns a point-in-time copy of every registered session.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		sessions = append(sessions, rec.session)
	}
	return sessions
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Touch resets the idle-eviction deadline; called on every inbound message.
func (r *Registry) Touch(id string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return false
	}
	rec.session.LastActivityAt = now
	rec.deadline = now.Add(r.idleTimeout)
	return true
}

// Refresh folds a re-validated identity into the session. Personal and routing
// fields follow the fresh payload; dimension attributes (video, live, room,
// device) stay as registered so the counters never drift independently of
// session lifecycle.
func (r *Registry) Refresh(id string, ident identity.Identity) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	session := &rec.session
	if ident.UserName != "" {
		session.UserName = ident.UserName
	}
	session.IsAdmin = bool(ident.IsAdmin)
	if ident.SelfURI != "" {
		session.SelfURI = ident.SelfURI
	}
	if ident.IP != "" {
		session.IP = ident.IP
	}
	refreshed := session.Identity
	refreshed.UserName = ident.UserName
	refreshed.IsAdmin = ident.IsAdmin
	refreshed.SelfURI = ident.SelfURI
	refreshed.IP = ident.IP
	refreshed.SendToURIPattern = ident.SendToURIPattern
	refreshed.SentFrom = ident.SentFrom
	refreshed.Browser = ident.Browser
	refreshed.OS = ident.OS
	refreshed.Location = ident.Location
	session.Identity = refreshed
	return *session, true
}

// SweepIdle removes and returns every session whose idle deadline has passed.
func (r *Registry) SweepIdle(now time.Time) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []Session
	for id, rec := range r.sessions {
		if rec.deadline.After(now) {
			continue
		}
		delete(r.sessions, id)
		r.counters.Apply(rec.session, -1)
		expired = append(expired, rec.session)
	}
	return expired
}

// Snapshot renders the full presence picture: aggregate totals plus one
// prefixed key per live dimension value.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type pair struct {
		users  int64
		device string
	}
	uniquePairs := make(map[pair]struct{}, len(r.sessions))
	devices := make(map[string]struct{}, len(r.sessions))
	for _, rec := range r.sessions {
		uniquePairs[pair{users: rec.session.UsersID, device: rec.session.DeviceID}] = struct{}{}
		if rec.session.DeviceID != "" {
			devices[rec.session.DeviceID] = struct{}{}
		}
	}

	snapshot := make(map[string]any, len(r.sessions)+3)
	snapshot["total_users_online"] = len(r.sessions)
	snapshot["total_users_unique_users"] = len(uniquePairs)
	snapshot["total_devices_online"] = len(devices)
	r.counters.Render(snapshot)
	return snapshot
}

// UserSummary is the public per-user slice of the online summary.
type UserSummary struct {
	UsersID  int64  `json:"users_id"`
	UserName string `json:"user_name"`
	Devices  int    `json:"devices"`
}

// DeviceDetail is the admin-only per-device slice of the online summary.
type DeviceDetail struct {
	UsersID    int64  `json:"users_id"`
	UserName   string `json:"user_name"`
	DeviceID   string `json:"yptDeviceId"`
	ResourceID string `json:"resourceId"`
	SentFrom   string `json:"sentFrom"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	Location   string `json:"location"`
	PageTitle  string `json:"pageTitle"`
	SelfURI    string `json:"selfURI"`
}

// OnlineSummary scans the registry once and produces both summary variants:
// the public per-user roll-up and the richer per-device map for admins.
func (r *Registry) OnlineSummary() ([]UserSummary, []DeviceDetail) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type userAgg struct {
		name    string
		devices int
	}
	perUser := make(map[int64]*userAgg)
	detail := make([]DeviceDetail, 0, len(r.sessions))
	for _, rec := range r.sessions {
		s := rec.session
		agg, ok := perUser[s.UsersID]
		if !ok {
			agg = &userAgg{name: s.UserName}
			perUser[s.UsersID] = agg
		}
		agg.devices++
		detail = append(detail, DeviceDetail{
			UsersID:    s.UsersID,
			UserName:   s.UserName,
			DeviceID:   s.DeviceID,
			ResourceID: s.ID,
			SentFrom:   s.Identity.SentFrom,
			Browser:    s.Identity.Browser,
			OS:         s.Identity.OS,
			Location:   s.Identity.Location,
			PageTitle:  s.PageTitle,
			SelfURI:    s.SelfURI,
		})
	}

	users := make([]UserSummary, 0, len(perUser))
	for id, agg := range perUser {
		users = append(users, UserSummary{UsersID: id, UserName: agg.name, Devices: agg.devices})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UsersID < users[j].UsersID })
	sort.Slice(detail, func(i, j int) bool {
		if detail[i].UsersID != detail[j].UsersID {
			return detail[i].UsersID < detail[j].UsersID
		}
		return detail[i].ResourceID < detail[j].ResourceID
	})
	return users, detail
}
