package collab

import (
	"sync"

	"github.com/google/uuid"
)

// Manager is the process-wide registry of live rooms, keyed by board id.
// Creation and removal are serialized by the manager lock so a member can
// never be added to a room that is concurrently being evicted.
type Manager struct {
	mu          sync.RWMutex
	rooms       map[uuid.UUID]*Room
	busCapacity int
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		rooms:       make(map[uuid.UUID]*Room),
		busCapacity: DefaultBusCapacity,
	}
}

// Get returns the room for the board, if one is live.
func (m *Manager) Get(boardID uuid.UUID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[boardID]
	return room, ok
}

// GetOrCreate returns the board's room, creating it if absent. Concurrent
// callers for the same new board id observe the same room.
func (m *Manager) GetOrCreate(boardID uuid.UUID) *Room {
	m.mu.RLock()
	room, ok := m.rooms[boardID]
	m.mu.RUnlock()
	if ok {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[boardID]; ok {
		return room
	}
	room = NewRoom(boardID, m.busCapacity)
	m.rooms[boardID] = room
	activeRooms.Set(float64(len(m.rooms)))
	log.WithField("board", boardID).Debug("Created room")
	return room
}

// RemoveIfEmpty evicts the board's room iff it has no members at the moment
// of the call. Returns true when the room was removed.
func (m *Manager) RemoveIfEmpty(boardID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[boardID]
	if !ok || room.MemberCount() != 0 {
		return false
	}
	delete(m.rooms, boardID)
	activeRooms.Set(float64(len(m.rooms)))
	log.WithField("board", boardID).Debug("Evicted empty room")
	return true
}

// RoomCount returns the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
