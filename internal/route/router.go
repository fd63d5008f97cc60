// Package route decides which sessions receive an outbound application
// message. Resolution is strictly first-match-wins; a message never takes more
// than one branch.
package route

import (
	"encoding/json"
	"regexp"
	"strings"

	"clipstream/presence/internal/logging"
	"clipstream/presence/internal/message"
	"clipstream/presence/internal/presence"
)

// Directory is the read side of the session registry the router needs.
type Directory interface {
	All() []presence.Session
	Get(id string) (presence.Session, bool)
}

// Queue stages messages for the next broadcast flush.
type Queue interface {
	Enqueue(payload json.RawMessage)
}

// Router dispatches routed messages and falls back to the broadcast queue.
type Router struct {
	dir      Directory
	queue    Queue
	enricher *message.Enricher
	log      *logging.Logger
}

// NewRouter wires the router to the session directory and broadcast queue.
func NewRouter(dir Directory, queue Queue, enricher *message.Enricher, log *logging.Logger) *Router {
	if log == nil {
		log = logging.L()
	}
	return &Router{dir: dir, queue: queue, enricher: enricher, log: log}
}

// Route resolves the audience for one inbound message and delivers to it.
// Routing misses are operator-visible only; the sender gets no error back.
func (r *Router) Route(m *message.Message, sender presence.Session) {
	if r == nil || m == nil {
		return
	}
	if pattern := sender.Identity.SendToURIPattern; pattern != "" {
		r.toURIPattern(m, sender, pattern)
		return
	}
	if usersID := m.TargetUsersID(); usersID != 0 {
		r.toUser(m, sender, usersID)
		return
	}
	if resourceID := m.TargetResourceID(); resourceID != "" {
		r.toResource(m, sender, resourceID)
		return
	}
	if key, serversID, ok := m.LiveRedirect(); ok {
		r.toLive(m, sender, key, serversID)
		return
	}
	payload, err := r.enricher.Queued(m, sender)
	if err != nil {
		r.log.Error("stage broadcast message", logging.Error(err))
		return
	}
	r.queue.Enqueue(payload)
}

func (r *Router) toURIPattern(m *message.Message, sender presence.Session, pattern string) {
	compiled, err := regexp.Compile(strings.Trim(pattern, "/"))
	if err != nil {
		r.log.Warn("invalid uri pattern",
			logging.String("pattern", pattern),
			logging.String("sender", sender.ID),
			logging.Error(err))
		return
	}
	for _, session := range r.dir.All() {
		if compiled.MatchString(session.SelfURI) {
			r.deliver(m, sender, session)
		}
	}
}

func (r *Router) toUser(m *message.Message, sender presence.Session, usersID int64) {
	matched := false
	for _, session := range r.dir.All() {
		if session.UsersID == usersID {
			r.deliver(m, sender, session)
			matched = true
		}
	}
	if !matched {
		r.log.Debug("no sessions for target user", logging.Int64("users_id", usersID))
	}
}

func (r *Router) toResource(m *message.Message, sender presence.Session, resourceID string) {
	session, ok := r.dir.Get(resourceID)
	if !ok {
		r.log.Debug("target session not found", logging.String("resource_id", resourceID))
		return
	}
	r.deliver(m, sender, session)
}

func (r *Router) toLive(m *message.Message, sender presence.Session, key string, serversID int64) {
	for _, session := range r.dir.All() {
		if session.LiveKey == key && session.LiveServersID == serversID {
			r.deliver(m, sender, session)
		}
	}
}

func (r *Router) deliver(m *message.Message, sender, recipient presence.Session) {
	payload, err := r.enricher.Direct(m, sender, recipient.ID)
	if err != nil {
		r.log.Error("enrich routed message", logging.Error(err))
		return
	}
	if recipient.Outbox == nil {
		return
	}
	if err := recipient.Outbox.Deliver(payload); err != nil {
		// One broken recipient must not abort the rest of the fan-out.
		r.log.Warn("deliver routed message",
			logging.String("resource_id", recipient.ID),
			logging.Error(err))
	}
}
