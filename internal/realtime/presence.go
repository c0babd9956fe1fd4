package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"btplive/internal/models"
)

// Presence holds the latest roster broadcast by the server. Each broadcast
// replaces the whole set.
type Presence struct {
	mu        sync.RWMutex
	roster    []models.PresenceEntry
	listeners []func([]models.PresenceEntry)
	logger    *slog.Logger
}

func NewPresence(logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{logger: logger}
}

// Attach subscribes the tracker to roster broadcasts. The roster is dropped
// whenever the connection is (re)established or lost: the next broadcast is
// the only source of truth.
func (p *Presence) Attach(m *Manager) {
	m.On(models.EventUsersOnlineList, func(data json.RawMessage) {
		var peers []models.PresenceEntry
		if err := json.Unmarshal(data, &peers); err != nil {
			p.logger.Warn("invalid roster payload", "error", err)
			return
		}
		p.OnRosterUpdate(peers)
	})
	m.On(models.EventConnect, func(json.RawMessage) { p.Reset() })
	m.On(models.EventDisconnect, func(json.RawMessage) { p.Reset() })
}

// OnRosterUpdate replaces the roster. Duplicate user ids keep their first
// entry.
func (p *Presence) OnRosterUpdate(peers []models.PresenceEntry) {
	roster := make([]models.PresenceEntry, 0, len(peers))
	seen := make(map[string]struct{}, len(peers))
	for _, peer := range peers {
		if _, ok := seen[peer.UserID]; ok {
			continue
		}
		seen[peer.UserID] = struct{}{}
		roster = append(roster, peer)
	}

	p.mu.Lock()
	p.roster = roster
	listeners := p.listeners
	p.mu.Unlock()

	p.notify(listeners, roster)
}

func (p *Presence) Reset() {
	p.mu.Lock()
	if len(p.roster) == 0 {
		p.mu.Unlock()
		return
	}
	p.roster = nil
	listeners := p.listeners
	p.mu.Unlock()

	p.notify(listeners, nil)
}

func (p *Presence) Roster() []models.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.PresenceEntry, len(p.roster))
	copy(out, p.roster)
	return out
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.roster)
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.roster {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// OnChange registers a listener called with every new roster.
func (p *Presence) OnChange(fn func([]models.PresenceEntry)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Presence) notify(listeners []func([]models.PresenceEntry), roster []models.PresenceEntry) {
	for _, fn := range listeners {
		out := make([]models.PresenceEntry, len(roster))
		copy(out, roster)
		fn(out)
	}
}
