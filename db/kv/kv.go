// Package kv implements the db.Database interface on an embedded bolt
// key-value store.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/openboard/openboard/db"
)

var log = logrus.WithField("prefix", "db")

var _ db.Database = (*Store)(nil)

const databaseFileName = "openboard.db"

var (
	snapshotsBucket     = []byte("snapshots")
	boardsBucket        = []byte("boards")
	shareLinksBucket    = []byte("share-links")
	collaboratorsBucket = []byte("collaborators")
)

// Store is a bolt-backed implementation of db.Database.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewStore opens (or creates) the database under dirPath and ensures all
// buckets exist.
func NewStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create database directory")
	}
	datafile := filepath.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	store := &Store{db: boltDB, databasePath: datafile}
	if err := boltDB.Update(func(tx *bolt.Tx) error {
		return createBuckets(tx,
			snapshotsBucket,
			boardsBucket,
			shareLinksBucket,
			collaboratorsBucket,
		)
	}); err != nil {
		return nil, err
	}
	log.WithField("path", datafile).Info("Opened database")
	return store, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath is the file this store writes to.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// ClearDB removes the database file from disk.
func (s *Store) ClearDB() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(s.databasePath)
}
