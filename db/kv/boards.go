package kv

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/openboard/openboard/db"
)

// SaveBoard inserts or overwrites board metadata.
func (s *Store) SaveBoard(_ context.Context, board *db.Board) error {
	enc, err := json.Marshal(board)
	if err != nil {
		return errors.Wrap(err, "could not encode board")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boardsBucket).Put(board.ID[:], enc)
	})
}

// Board returns the board's metadata, or nil when unknown.
func (s *Store) Board(_ context.Context, boardID uuid.UUID) (*db.Board, error) {
	var board *db.Board
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(boardsBucket).Get(boardID[:])
		if enc == nil {
			return nil
		}
		board = &db.Board{}
		return json.Unmarshal(enc, board)
	})
	return board, err
}

// BoardsForUser lists boards the user owns or collaborates on, most
// recently updated first.
func (s *Store) BoardsForUser(_ context.Context, userID uuid.UUID) ([]*db.Board, error) {
	var boards []*db.Board
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boardsBucket).ForEach(func(k, v []byte) error {
			var board db.Board
			if err := json.Unmarshal(v, &board); err != nil {
				return err
			}
			if board.OwnerID == userID {
				boards = append(boards, &board)
				return nil
			}
			if role := tx.Bucket(collaboratorsBucket).Get(collaboratorKey(board.ID, userID)); role != nil {
				boards = append(boards, &board)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(boards, func(i, j int) bool {
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})
	return boards, nil
}

// DeleteBoard removes the board's metadata, snapshot, share links and
// collaborator entries.
func (s *Store) DeleteBoard(_ context.Context, boardID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := boardID[:]
		if err := tx.Bucket(boardsBucket).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(snapshotsBucket).Delete(key); err != nil {
			return err
		}
		links := tx.Bucket(shareLinksBucket)
		c := links.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var link db.ShareLink
			if err := json.Unmarshal(v, &link); err != nil {
				return err
			}
			if link.BoardID == boardID {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		collabs := tx.Bucket(collaboratorsBucket)
		c = collabs.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) >= 16 && uuid.UUID(k[:16]) == boardID {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func collaboratorKey(boardID, userID uuid.UUID) []byte {
	key := make([]byte, 0, 32)
	key = append(key, boardID[:]...)
	return append(key, userID[:]...)
}

// SetCollaborator upserts the user's role on the board.
func (s *Store) SetCollaborator(_ context.Context, boardID, userID uuid.UUID, role string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collaboratorsBucket).Put(collaboratorKey(boardID, userID), []byte(role))
	})
}

// CollaboratorRole returns the user's role on the board, or "" when the
// user is not a collaborator.
func (s *Store) CollaboratorRole(_ context.Context, boardID, userID uuid.UUID) (string, error) {
	var role string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(collaboratorsBucket).Get(collaboratorKey(boardID, userID)); v != nil {
			role = string(v)
		}
		return nil
	})
	return role, err
}
