// Package db defines the storage interface consumed by the collaboration
// core and the HTTP surface. The canonical implementation is the embedded
// bolt store in db/kv.
package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Board is the stored metadata of one whiteboard.
type Board struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShareLink grants time-limited, role-scoped access to a board without an
// account. A nil ExpiresAt never expires.
type ShareLink struct {
	ID        uuid.UUID  `json:"id"`
	BoardID   uuid.UUID  `json:"board_id"`
	Token     string     `json:"token"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the link is past its expiry.
func (l *ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Database is the persistence surface of the server.
type Database interface {
	SnapshotStore
	BoardStore
	ShareLinkStore
	CollaboratorStore
	Close() error
}

// SnapshotStore persists the opaque CRDT snapshot of each board. This is
// the only storage dependency of the collaboration core.
type SnapshotStore interface {
	// SaveSnapshot atomically overwrites the board's snapshot and bumps the
	// board's updated-at timestamp when board metadata exists.
	SaveSnapshot(ctx context.Context, boardID uuid.UUID, snapshot []byte) error
	// Snapshot returns the most recently persisted snapshot, or nil when
	// none has been written.
	Snapshot(ctx context.Context, boardID uuid.UUID) ([]byte, error)
}

// BoardStore persists board metadata for the HTTP surface.
type BoardStore interface {
	SaveBoard(ctx context.Context, board *Board) error
	Board(ctx context.Context, boardID uuid.UUID) (*Board, error)
	BoardsForUser(ctx context.Context, userID uuid.UUID) ([]*Board, error)
	DeleteBoard(ctx context.Context, boardID uuid.UUID) error
}

// ShareLinkStore persists share links, looked up by their opaque token.
type ShareLinkStore interface {
	SaveShareLink(ctx context.Context, link *ShareLink) error
	ShareLinkByToken(ctx context.Context, token string) (*ShareLink, error)
	ShareLinksForBoard(ctx context.Context, boardID uuid.UUID) ([]*ShareLink, error)
	DeleteShareLink(ctx context.Context, linkID uuid.UUID) error
}

// CollaboratorStore persists per-board collaborator roles.
type CollaboratorStore interface {
	SetCollaborator(ctx context.Context, boardID, userID uuid.UUID, role string) error
	CollaboratorRole(ctx context.Context, boardID, userID uuid.UUID) (string, error)
}
