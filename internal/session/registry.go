// Package session tracks which connection currently speaks for each
// logged-in user and keeps every session informed of who is online.
package session

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/mcoot/fortunegame/internal/protocol"
)

// Handle is the registry's view of a connection
type Handle interface {
	// ID identifies the connection in logs
	ID() string

	// Send queues an encoded packet without blocking. It returns false if the
	// packet was dropped because the connection is closed or backed up.
	Send(packet []byte) bool
}

// Registry maps usernames to their active connection. At most one session
// exists per username; a newer login replaces the older one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Handle

	// presenceMu serializes mutation plus broadcast so the last UserList a
	// client receives always matches the registry contents
	presenceMu sync.Mutex

	logger *slog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Handle),
		logger:   logger.With(slog.String("component", "session")),
	}
}

// Register binds username to h and broadcasts presence. It returns the handle
// that previously held the username, if any; that connection is left open.
func (r *Registry) Register(username string, h Handle) Handle {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	r.mu.Lock()
	previous := r.sessions[username]
	r.sessions[username] = h
	count := len(r.sessions)
	r.mu.Unlock()

	if previous != nil && previous != h {
		r.logger.Info("session replaced",
			slog.String("username", username),
			slog.String("old_conn", previous.ID()),
			slog.String("new_conn", h.ID()))
	} else {
		r.logger.Info("session registered",
			slog.String("username", username),
			slog.String("conn", h.ID()),
			slog.Int("active", count))
	}

	r.broadcastPresenceLocked()
	return previous
}

// Unregister removes username only if it is still bound to h, so a replaced
// connection closing does not evict its successor. It reports whether an
// entry was removed; presence is broadcast only in that case.
func (r *Registry) Unregister(username string, h Handle) bool {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	r.mu.Lock()
	current, ok := r.sessions[username]
	if !ok || current != h {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, username)
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session unregistered",
		slog.String("username", username),
		slog.String("conn", h.ID()),
		slog.Int("active", count))

	r.broadcastPresenceLocked()
	return true
}

// Lookup returns the handle bound to username
func (r *Registry) Lookup(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[username]
	return h, ok
}

// ListActive returns the logged-in usernames in sorted order
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast queues packet on every active session and returns how many
// sessions accepted and dropped it
func (r *Registry) Broadcast(packet []byte) (sent, dropped int) {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if h.Send(packet) {
			sent++
		} else {
			dropped++
			r.logger.Warn("packet dropped - session not accepting", slog.String("conn", h.ID()))
		}
	}
	return sent, dropped
}

// broadcastPresenceLocked sends the current UserList to everyone.
// Caller must hold presenceMu.
func (r *Registry) broadcastPresenceLocked() {
	packet, err := protocol.Encode(protocol.TypeUserList, r.ListActive())
	if err != nil {
		r.logger.Error("encode user list", slog.Any("error", err))
		return
	}
	sent, dropped := r.Broadcast(packet)
	if dropped > 0 {
		r.logger.Warn("presence broadcast partial failure",
			slog.Int("sent", sent),
			slog.Int("dropped", dropped))
	}
}
