package presence

import "strconv"

// Snapshot key prefixes, one per counted dimension so rendered keys never collide.
const (
	userKeyPrefix     = "user_online_"
	videoKeyPrefix    = "total_on_videos_id_"
	liveKeyPrefix     = "total_on_live_"
	liveLinkKeyPrefix = "total_on_live_link_"
	roomKeyPrefix     = "total_on_chat_room_"
)

// Counters maintains per-dimension online counts incrementally as sessions
// join and leave. Keys whose count reaches zero are removed, so each map's key
// set is exactly the dimension values with at least one active session.
type Counters struct {
	users     map[int64]int
	videos    map[int64]int
	lives     map[string]int
	liveLinks map[string]int
	rooms     map[int64]int
}

// NewCounters constructs an empty counter set.
func NewCounters() *Counters {
	return &Counters{
		users:     make(map[int64]int),
		videos:    make(map[int64]int),
		lives:     make(map[string]int),
		liveLinks: make(map[string]int),
		rooms:     make(map[int64]int),
	}
}

// Apply adds delta (+1 or -1) to every dimension the session populates.
func (c *Counters) Apply(s Session, delta int) {
	if c == nil {
		return
	}
	if s.UsersID != 0 {
		bumpInt(c.users, s.UsersID, delta)
	}
	if s.VideosID != 0 {
		bumpInt(c.videos, s.VideosID, delta)
	}
	if key := s.LiveDimension(); key != "" {
		bumpString(c.lives, key, delta)
	}
	if s.LiveLinkID != "" {
		bumpString(c.liveLinks, s.LiveLinkID, delta)
	}
	if s.RoomUsersID != 0 {
		bumpInt(c.rooms, s.RoomUsersID, delta)
	}
}

// Render writes the dimension counters into dst using prefixed keys.
func (c *Counters) Render(dst map[string]any) {
	if c == nil || dst == nil {
		return
	}
	for id, count := range c.users {
		dst[userKeyPrefix+strconv.FormatInt(id, 10)] = count
	}
	for id, count := range c.videos {
		dst[videoKeyPrefix+strconv.FormatInt(id, 10)] = count
	}
	for key, count := range c.lives {
		dst[liveKeyPrefix+key] = count
	}
	for key, count := range c.liveLinks {
		dst[liveLinkKeyPrefix+key] = count
	}
	for id, count := range c.rooms {
		dst[roomKeyPrefix+strconv.FormatInt(id, 10)] = count
	}
}

func bumpInt(m map[int64]int, key int64, delta int) {
	next := m[key] + delta
	if next <= 0 {
		delete(m, key)
		return
	}
	m[key] = next
}

func bumpString(m map[string]int, key string, delta int) {
	next := m[key] + delta
	if next <= 0 {
		delete(m, key)
		return
	}
	m[key] = next
}
