package game

// PlayerID identifies a client for the lifetime of its participation: a
// generated "conn-N" handle on the connection-oriented transport, the remote
// address string on the connectionless one.
type PlayerID string

// AnswerRecord is one round's submission, indexed by round within
// Player.Answers.
type AnswerRecord struct {
	Letter  string
	Elapsed float64
}

// Player is the per-client state owned by the session coordinator.
// Name stays empty between connect and register. Answers is keyed by round
// index; a round's entry exists at most once.
type Player struct {
	ID      PlayerID
	Name    string
	Score   int
	Answers map[int]AnswerRecord
}

// Registry maps identities to player state and preserves insertion order so
// host selection stays deterministic. It is not safe for concurrent use; the
// session's lock guards it.
type Registry struct {
	byID  map[PlayerID]*Player
	order []PlayerID
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[PlayerID]*Player)}
}

// Track creates an unnamed entry for a freshly connected client. It is a
// no-op if the identity is already known.
func (r *Registry) Track(id PlayerID) *Player {
	if p, ok := r.byID[id]; ok {
		return p
	}
	p := &Player{ID: id}
	r.byID[id] = p
	r.order = append(r.order, id)
	return p
}

// Upsert registers a display name, creating the entry on first contact.
func (r *Registry) Upsert(id PlayerID, name string) *Player {
	p := r.Track(id)
	p.Name = name
	return p
}

func (r *Registry) Get(id PlayerID) (*Player, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Remove deletes an entry and reports whether it existed.
func (r *Registry) Remove(id PlayerID) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Len() int {
	return len(r.byID)
}

// Named counts entries that completed registration. Tracked-but-unregistered
// connections receive broadcasts but are not players.
func (r *Registry) Named() int {
	n := 0
	for _, p := range r.byID {
		if p.Name != "" {
			n++
		}
	}
	return n
}

// Players returns an insertion-ordered snapshot. Broadcasts iterate this
// snapshot so concurrent registration is never visible mid-fanout.
func (r *Registry) Players() []*Player {
	players := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		players = append(players, r.byID[id])
	}
	return players
}

// First returns the earliest-inserted identity, the deterministic host choice
// after a disconnect.
func (r *Registry) First() (PlayerID, bool) {
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[0], true
}
