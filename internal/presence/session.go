package presence

import (
	"fmt"
	"time"

	"clipstream/presence/internal/identity"
)

// LoopbackIP marks same-host synthetic connections (health checks, local
// tooling) whose joins and leaves are not announced to other sessions.
const LoopbackIP = "127.0.0.1"

// Outbox is the transport back-channel for one connected client. Implementations
// must not block; a full or broken transport returns an error instead.
type Outbox interface {
	Deliver(payload []byte) error
}

// Session is one authenticated, currently-connected client. The registry owns
// the authoritative record; callers receive value copies.
type Session struct {
	ID            string
	UsersID       int64
	UserName      string
	IsAdmin       bool
	VideosID      int64
	LiveKey       string
	LiveServersID int64
	LiveLinkID    string
	RoomUsersID   int64
	SelfURI       string
	DeviceID      string
	IP            string
	PageTitle     string

	ConnectedAt    time.Time
	LastActivityAt time.Time

	Identity identity.Identity
	Outbox   Outbox
}

func newSession(id string, ident identity.Identity, pageTitle string, outbox Outbox, now time.Time) Session {
	name := ident.UserName
	if name == "" {
		name = "unknown"
	}
	return Session{
		ID:             id,
		UsersID:        int64(ident.UsersID),
		UserName:       name,
		IsAdmin:        bool(ident.IsAdmin),
		VideosID:       int64(ident.VideosID),
		LiveKey:        ident.Live.Key,
		LiveServersID:  int64(ident.Live.LiveServersID),
		LiveLinkID:     ident.Live.LiveLink,
		RoomUsersID:    int64(ident.RoomUsersID),
		SelfURI:        ident.SelfURI,
		DeviceID:       ident.DeviceID,
		IP:             ident.IP,
		PageTitle:      pageTitle,
		ConnectedAt:    now,
		LastActivityAt: now,
		Identity:       ident,
		Outbox:         outbox,
	}
}

// LiveDimension renders the live-session counter key, empty when the session
// is not attached to a live broadcast.
func (s Session) LiveDimension() string {
	if s.LiveKey == "" {
		return ""
	}
	return fmt.Sprintf("%s_%d", s.LiveKey, s.LiveServersID)
}

// ShouldPropagate reports whether the session's connect and disconnect events
// are announced to other sessions. Loopback sessions stay silent but are still
// counted in presence.
func ShouldPropagate(s Session) bool {
	return s.IP != LoopbackIP
}
