package game

import (
	"log"

	"quiznet/internal/protocol"
)

// HostedSession is the connection-oriented coordinator configuration: the
// same timeline and state machine as Session, plus host arbitration. The
// first client to connect holds the host role; only the host may start a
// game, and the role moves deterministically on disconnect.
type HostedSession struct {
	*Session
	host    PlayerID
	hasHost bool
}

func NewHostedSession(cfg Config) *HostedSession {
	h := &HostedSession{Session: NewSession(cfg)}
	h.afterRemove = h.reassignHostLocked
	return h
}

// Connect tracks a fresh connection before it registers and seats the first
// client as host.
func (h *HostedSession) Connect(id PlayerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.Track(id)
	if !h.hasHost {
		h.host = id
		h.hasHost = true
	}
}

// Disconnect removes a departed client and runs host re-election if needed.
func (h *HostedSession) Disconnect(id PlayerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

// Register acknowledges with the registrant's host status in addition to the
// shared registration behavior.
func (h *HostedSession) Register(id PlayerID, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, count, ok := h.registerLocked(id, name)
	if !ok {
		return
	}
	h.sendLocked(id, protocol.TypeRegistered, protocol.HostRegisteredData{
		Message:     "Welcome " + p.Name + "!",
		PlayerCount: count,
		IsHost:      h.hasHost && id == h.host,
	})
	h.dropLocked(h.broadcastLocked(protocol.TypePlayerJoined, protocol.PlayerJoinedData{
		PlayerName:   p.Name,
		TotalPlayers: count,
	}, id))
}

// Start only honors the current host; everyone else gets an error reply and
// no state changes.
func (h *HostedSession) Start(id PlayerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasHost || id != h.host {
		h.sendLocked(id, protocol.TypeError, protocol.ErrorData{Message: "Only the host can start the game"})
		return
	}
	if _, ok := h.registry.Get(id); !ok {
		h.sendLocked(id, protocol.TypeError, protocol.ErrorData{Message: "Not registered"})
		return
	}
	h.startLocked(id)
}

// HostID exposes the current host for tests and logs.
func (h *HostedSession) HostID() (PlayerID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.host, h.hasHost
}

// reassignHostLocked runs after every registry removal. When the host left
// and clients remain, the earliest-connected one takes over and everyone is
// told; when the registry emptied, the role is cleared.
func (h *HostedSession) reassignHostLocked(removed PlayerID) {
	if !h.hasHost || h.host != removed {
		return
	}
	id, ok := h.registry.First()
	if !ok {
		h.host = ""
		h.hasHost = false
		return
	}
	h.host = id
	p, _ := h.registry.Get(id)
	log.Printf("host reassigned to %s (%s)", p.Name, id)
	// Write failures here are only logged; evicting mid-election would
	// recurse into another election.
	h.broadcastLocked(protocol.TypeHostUpdate, protocol.HostUpdateData{HostName: p.Name})
}
