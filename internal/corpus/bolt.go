package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	chunksBucket   = []byte("chunks")
	manifestBucket = []byte("manifest")
	manifestKey    = []byte("current")
)

// BoltStore keeps the index in a single bbolt file. The file is opened per
// operation so the indexer and the bot can share it.
type BoltStore struct {
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &BoltStore{path: path}, nil
}

func (s *BoltStore) open() (*bolt.DB, error) {
	return bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
}

func (s *BoltStore) ReadManifest(_ context.Context) (Manifest, bool, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return Manifest{}, false, nil
	}
	db, err := s.open()
	if err != nil {
		return Manifest{}, false, err
	}
	defer func() { _ = db.Close() }()

	var (
		m  Manifest
		ok bool
	)
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(manifestBucket)
		if b == nil {
			return nil
		}
		v := b.Get(manifestKey)
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &m)
	})
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}
	return m, ok, nil
}

func (s *BoltStore) Write(_ context.Context, m Manifest, chunks []Chunk) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, manifestBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		cb, err := tx.CreateBucket(chunksBucket)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			enc, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := cb.Put(chunkKey(c.ID), enc); err != nil {
				return err
			}
		}
		mb, err := tx.CreateBucket(manifestBucket)
		if err != nil {
			return err
		}
		enc, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return mb.Put(manifestKey, enc)
	})
}

// Open loads every chunk into memory; search runs on the in-memory copy.
func (s *BoltStore) Open(_ context.Context) (Searcher, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var chunks []Chunk
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		if b == nil {
			return fmt.Errorf("bucket %s missing", chunksBucket)
		}
		return b.ForEach(func(_, v []byte) error {
			var c Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	return newMemorySearcher(chunks), nil
}

func (s *BoltStore) Close() error { return nil }

func chunkKey(id int) []byte {
	return []byte(fmt.Sprintf("%08d", id))
}
