// Package session tracks connected players and delivers frames to them.
//
// Delivery is fire-and-forget. A frame for a client whose queue is full, whose
// connection has gone away, or whose id is unknown is dropped without error
// and without retry; game updates are ephemeral and the next snapshot
// supersedes whatever was lost. A Manager is owned by the hub goroutine and is
// not locked.
package session

import (
	"github.com/rs/zerolog"
)

// Binding is what the manager knows about a connected player.
type Binding struct {
	Client   *Client
	Name     string
	RoomCode string
}

// Seated reports whether the player is currently in a room.
func (b Binding) Seated() bool { return b.RoomCode != "" }

type Manager struct {
	entries map[string]*Binding
	logger  zerolog.Logger
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		entries: make(map[string]*Binding),
		logger:  logger,
	}
}

// Register indexes a new connection by its client id. Ids are expected to be
// unique per connection; if one is reused anyway, the previous connection is
// closed and its binding returned so the caller can unseat that player.
func (m *Manager) Register(c *Client) (Binding, bool) {
	old, ok := m.entries[c.ID]
	if ok && old.Client == c {
		return Binding{}, false
	}
	m.entries[c.ID] = &Binding{Client: c}
	if !ok {
		return Binding{}, false
	}
	old.Client.close()

	return *old, true
}

// Unregister forgets a connection and closes its send queue. It returns the
// binding as it was so the caller can clean up the player's room.
func (m *Manager) Unregister(id string) (Binding, bool) {
	b, ok := m.entries[id]
	if !ok {
		return Binding{}, false
	}
	delete(m.entries, id)
	b.Client.close()

	return *b, true
}

// Bind records the player's name and room.
func (m *Manager) Bind(id, name, roomCode string) bool {
	b, ok := m.entries[id]
	if !ok {
		return false
	}
	b.Name = name
	b.RoomCode = roomCode
	return true
}

// Unbind clears the player's room, keeping the connection registered.
func (m *Manager) Unbind(id string) {
	if b, ok := m.entries[id]; ok {
		b.RoomCode = ""
	}
}

func (m *Manager) Lookup(id string) (Binding, bool) {
	b, ok := m.entries[id]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

func (m *Manager) Len() int { return len(m.entries) }

// SendTo queues a frame for one player and reports whether it was queued.
func (m *Manager) SendTo(id string, payload []byte) bool {
	b, ok := m.entries[id]
	if !ok {
		return false
	}
	if !b.Client.enqueue(payload) {
		m.logger.Debug().Str("player", id).Msg("send queue full, frame dropped")
		return false
	}
	return true
}

// Broadcast queues a frame for every id except exclude, each subject to the
// same drop rule as SendTo. It returns how many recipients got the frame.
func (m *Manager) Broadcast(ids []string, payload []byte, exclude string) int {
	delivered := 0
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if m.SendTo(id, payload) {
			delivered++
		}
	}
	return delivered
}

// CloseAll closes every connection, used on shutdown.
func (m *Manager) CloseAll() {
	for id, b := range m.entries {
		b.Client.close()
		delete(m.entries, id)
	}
}
