// Package index persists per-commit file listings. Commits are immutable,
// so a listing computed once never needs invalidation.
package index

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "listing"

// Listing is the derived view of one commit's snapshot.
type Listing struct {
	Files   []string `json:"files"`
	Changed []string `json:"changed"`
}

type Options struct {
	Path            string
	InMemory        bool
	CompressMinSize int
}

type Store struct {
	db    *badger.DB
	codec *codec
	owned bool
}

// Open opens (or creates) a badger database for the index.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	s, err := New(db, opts.CompressMinSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing database. The caller keeps ownership of db.
func New(db *badger.DB, compressMinSize int) (*Store, error) {
	c, err := newCodec(compressMinSize)
	if err != nil {
		return nil, fmt.Errorf("creating index codec: %w", err)
	}
	return &Store{db: db, codec: c}, nil
}

func (s *Store) makeKey(hash string) []byte {
	return []byte(fmt.Sprintf("%s:%s", keyPrefix, hash))
}

// Get returns the listing stored for a commit hash. The boolean is false
// when nothing is stored yet.
func (s *Store) Get(hash string) (*Listing, bool, error) {
	var listing Listing
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw, err := s.codec.decode(val)
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, &listing)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading listing %s: %w", hash, err)
	}
	return &listing, true, nil
}

func (s *Store) Put(hash string, listing *Listing) error {
	if hash == "" {
		return fmt.Errorf("listing hash cannot be empty")
	}

	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("marshaling listing: %w", err)
	}

	value := s.codec.encode(data)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(hash), value)
	})
	if err != nil {
		return fmt.Errorf("writing listing %s: %w", hash, err)
	}
	return nil
}

// Len counts stored listings.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(keyPrefix + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting listings: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.codec.close()
	if s.owned {
		return s.db.Close()
	}
	return nil
}
