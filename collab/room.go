package collab

import (
	"sync"

	"github.com/google/uuid"

	"github.com/openboard/openboard/crdt"
)

// memberColors is the fixed palette assigned to joiners round-robin.
var memberColors = [8]string{
	"#F44336", "#2196F3", "#4CAF50", "#FF9800",
	"#9C27B0", "#00BCD4", "#E91E63", "#3F51B5",
}

// Member is one connected principal of a room.
type Member struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Color    string    `json:"color"`
}

// Room binds a board id to its live document, broadcast bus and member set.
// The document is only reachable through the scoped WithDocRead/WithDocWrite
// accessors; membership has its own lock and is never touched while the
// document lock is held.
type Room struct {
	BoardID uuid.UUID

	doc *crdt.Doc
	bus *Bus

	membersMu sync.RWMutex
	members   map[uuid.UUID]Member
}

// NewRoom creates an empty room for the board.
func NewRoom(boardID uuid.UUID, busCapacity int) *Room {
	return &Room{
		BoardID: boardID,
		doc:     crdt.NewDoc(),
		bus:     NewBus(busCapacity),
		members: make(map[uuid.UUID]Member),
	}
}

// AddMember inserts the principal and returns its assigned color, derived
// from the member count at join time.
func (r *Room) AddMember(userID uuid.UUID, username string) string {
	r.membersMu.Lock()
	defer r.membersMu.Unlock()
	color := memberColors[len(r.members)%len(memberColors)]
	r.members[userID] = Member{UserID: userID, Username: username, Color: color}
	return color
}

// RemoveMember deletes the principal. Idempotent.
func (r *Room) RemoveMember(userID uuid.UUID) {
	r.membersMu.Lock()
	defer r.membersMu.Unlock()
	delete(r.members, userID)
}

// MemberCount returns the number of connected members.
func (r *Room) MemberCount() int {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	return len(r.members)
}

// Members returns a snapshot of the member set.
func (r *Room) Members() []Member {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Subscribe registers a new receiver on the room bus. The receiver sees
// only frames published after this call.
func (r *Room) Subscribe() *Subscription {
	return r.bus.Subscribe()
}

// Publish broadcasts a frame to all subscribers without blocking.
func (r *Room) Publish(f Frame) {
	framesRelayed.Inc()
	r.bus.Publish(f)
}

// WithDocRead runs fn inside a shared read transaction on the document.
// The closure must not block on the bus, sockets or storage.
func (r *Room) WithDocRead(fn func(tx crdt.ReadTx)) {
	r.doc.View(fn)
}

// WithDocWrite runs fn inside an exclusive write transaction on the
// document. Same blocking rules as WithDocRead.
func (r *Room) WithDocWrite(fn func(tx crdt.WriteTx)) {
	r.doc.Update(fn)
}

// Doc exposes the underlying document for the sync codec, which manages
// its own transactions.
func (r *Room) Doc() *crdt.Doc {
	return r.doc
}
