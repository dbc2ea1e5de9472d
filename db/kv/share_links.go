package kv

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/openboard/openboard/db"
)

// SaveShareLink inserts or overwrites a share link, keyed by its token.
func (s *Store) SaveShareLink(_ context.Context, link *db.ShareLink) error {
	if link.Token == "" {
		return errors.New("share link token must not be empty")
	}
	enc, err := json.Marshal(link)
	if err != nil {
		return errors.Wrap(err, "could not encode share link")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(shareLinksBucket).Put([]byte(link.Token), enc)
	})
}

// ShareLinkByToken returns the link for the token, or nil when unknown.
// Expiry is not evaluated here; callers decide what an expired link means.
func (s *Store) ShareLinkByToken(_ context.Context, token string) (*db.ShareLink, error) {
	var link *db.ShareLink
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(shareLinksBucket).Get([]byte(token))
		if enc == nil {
			return nil
		}
		link = &db.ShareLink{}
		return json.Unmarshal(enc, link)
	})
	return link, err
}

// ShareLinksForBoard lists all links bound to the board.
func (s *Store) ShareLinksForBoard(_ context.Context, boardID uuid.UUID) ([]*db.ShareLink, error) {
	var links []*db.ShareLink
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(shareLinksBucket).ForEach(func(k, v []byte) error {
			var link db.ShareLink
			if err := json.Unmarshal(v, &link); err != nil {
				return err
			}
			if link.BoardID == boardID {
				links = append(links, &link)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// DeleteShareLink removes the link with the given id.
func (s *Store) DeleteShareLink(_ context.Context, linkID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(shareLinksBucket)
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var link db.ShareLink
			if err := json.Unmarshal(v, &link); err != nil {
				return err
			}
			if link.ID == linkID {
				return c.Delete()
			}
		}
		return nil
	})
}
