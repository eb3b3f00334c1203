package tracker

import "sync"

// connRegistry is the peer-IP <-> session-id bidirectional map. A session id appears at most once at
// any instant.
type connRegistry struct {
	mu sync.Mutex
	byPeer map[string]int64
	bySession map[int64]string
}

func newConnRegistry() *connRegistry {
	return &connRegistry{
		byPeer: make(map[string]int64),
		bySession: make(map[int64]string),
	}
}

// register binds peer to sessionID, failing if sessionID is already
// bound to any peer, including a second connection from the same IP.
func (r *connRegistry) register(peer string, sessionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[sessionID]; ok {
		return ErrAlreadyConnected
	}
	r.byPeer[peer] = sessionID
	r.bySession[sessionID] = peer
	return nil
}

// unregister removes peer's binding, if any.
func (r *connRegistry) unregister(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID, ok := r.byPeer[peer]; ok {
		delete(r.byPeer, peer)
		delete(r.bySession, sessionID)
	}
}

// BannedList reports whether a peer IP should be refused before the
// handshake starts.
type BannedList interface {
	IsBanned(ip string) bool
}

// StaticBanList is a fixed, process-lifetime set of banned peer IPs.
type StaticBanList map[string]struct{}

func (b StaticBanList) IsBanned(ip string) bool {
	_, banned := b[ip]
	return banned
}
