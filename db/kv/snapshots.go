package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/openboard/openboard/db"
)

// SaveSnapshot overwrites the board's snapshot in a single write
// transaction and, when board metadata exists, bumps its updated-at
// timestamp as a side-signal of recent activity.
func (s *Store) SaveSnapshot(_ context.Context, boardID uuid.UUID, snapshot []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := boardID[:]
		if err := tx.Bucket(snapshotsBucket).Put(key, snapshot); err != nil {
			return errors.Wrap(err, "could not store snapshot")
		}
		boards := tx.Bucket(boardsBucket)
		enc := boards.Get(key)
		if enc == nil {
			return nil
		}
		var board db.Board
		if err := json.Unmarshal(enc, &board); err != nil {
			return errors.Wrap(err, "could not decode board metadata")
		}
		board.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(&board)
		if err != nil {
			return err
		}
		return boards.Put(key, out)
	})
}

// Snapshot returns the board's persisted snapshot, or nil when absent.
func (s *Store) Snapshot(_ context.Context, boardID uuid.UUID) ([]byte, error) {
	var snapshot []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(snapshotsBucket).Get(boardID[:])
		if enc == nil {
			return nil
		}
		snapshot = make([]byte, len(enc))
		copy(snapshot, enc)
		return nil
	})
	return snapshot, err
}
