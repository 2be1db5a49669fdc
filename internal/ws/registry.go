package ws

import "sync"

// Registry tracks live connections per session and per user. A user holds at
// most one connection; reconnecting replaces the previous one.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]*Conn
	sessions map[string]map[string]*Conn
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[string]*Conn),
		sessions: make(map[string]map[string]*Conn),
	}
}

// Register stores the connection, closing any previous one for the same user.
func (r *Registry) Register(conn *Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byUser[conn.UserID()]; ok && existing != conn {
		// Close asynchronously so a blocked writer cannot hold the lock.
		go existing.Close()
		r.removeLocked(existing)
	}

	r.byUser[conn.UserID()] = conn
	if r.sessions[conn.SessionID()] == nil {
		r.sessions[conn.SessionID()] = make(map[string]*Conn)
	}
	r.sessions[conn.SessionID()][conn.UserID()] = conn
}

// Unregister removes the connection if it is still the one registered for its
// user. Idempotent; a stale connection never evicts its replacement.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byUser[conn.UserID()]; !ok || current != conn {
		return
	}
	r.removeLocked(conn)
}

func (r *Registry) removeLocked(conn *Conn) {
	delete(r.byUser, conn.UserID())
	if members, ok := r.sessions[conn.SessionID()]; ok {
		delete(members, conn.UserID())
		if len(members) == 0 {
			delete(r.sessions, conn.SessionID())
		}
	}
}

// SessionConns returns every connection attached to the session.
func (r *Registry) SessionConns(sessionID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.sessions[sessionID]
	conns := make([]*Conn, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	return conns
}

// SessionSize returns the number of connections attached to the session.
func (r *Registry) SessionSize(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Stats reports connection and session counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.byUser),
		"sessions":    len(r.sessions),
	}
}
