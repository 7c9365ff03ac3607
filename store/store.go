// Package store implements the durable, byte-addressable digest → bytes
// map every component persists through (spec §4.2). Keys are write-once:
// a digest names its content, so a second write of the same key is either
// identical (idempotent no-op) or a local bug.
package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/types"
)

// Store is the contract every component depends on: write/read plus a
// notify_read future for callers (the synchronizer) that need to block
// until a key appears rather than poll (spec §4.2).
type Store interface {
	Write(digest types.Digest, value []byte) error
	Read(digest types.Digest) ([]byte, bool, error)
	// NotifyRead returns a channel that receives the value once written
	// for digest. If ctx is done first the waiter is dropped: the channel
	// then receives nothing and is not closed.
	NotifyRead(ctx context.Context, digest types.Digest) <-chan []byte
	Close() error
}

// PebbleStore is the durable Store backing every replica, grounded on the
// teacher's crypto/database package shape (a thin Reader/Writer facade
// over a real embedded KV engine) but backed by pebble instead of the
// teacher's in-house engine.
type PebbleStore struct {
	db  *pebble.DB
	log log.Logger

	mu       sync.Mutex
	watchers map[types.Digest][]chan []byte
}

// Open creates or reopens a PebbleStore rooted at dir.
func Open(dir string, logger log.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{
		db:       db,
		log:      logger,
		watchers: make(map[types.Digest][]chan []byte),
	}, nil
}

// Write persists value under digest. Idempotent: writing the same digest
// twice with equal content is a no-op; the store does not attempt to
// detect or reject the case of two writers disagreeing on content, since
// digests are content-addressed and a disagreement would mean the caller
// mis-hashed.
func (s *PebbleStore) Write(digest types.Digest, value []byte) error {
	if err := s.db.Set(digest[:], value, pebble.Sync); err != nil {
		return err
	}
	s.fulfil(digest, value)
	return nil
}

// Read returns the current value for digest, if any.
func (s *PebbleStore) Read(digest types.Digest) ([]byte, bool, error) {
	v, closer, err := s.db.Get(digest[:])
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	if cerr := closer.Close(); cerr != nil {
		return nil, false, cerr
	}
	return out, true, nil
}

// NotifyRead returns a channel fulfilled the moment digest is written, or
// immediately if it is already present (spec §4.2 "notify_read(key) →
// future value"; used by the synchronizer to wait for an ancestor block).
func (s *PebbleStore) NotifyRead(ctx context.Context, digest types.Digest) <-chan []byte {
	out := make(chan []byte, 1)
	if v, ok, err := s.Read(digest); err == nil && ok {
		out <- v
		close(out)
		return out
	}

	s.mu.Lock()
	s.watchers[digest] = append(s.watchers[digest], out)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[digest]
		for i, w := range ws {
			if w == out {
				s.watchers[digest] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
	}()
	return out
}

func (s *PebbleStore) fulfil(digest types.Digest, value []byte) {
	s.mu.Lock()
	ws := s.watchers[digest]
	delete(s.watchers, digest)
	s.mu.Unlock()
	for _, w := range ws {
		w <- value
		close(w)
	}
}

// Close flushes and releases the underlying database handle. A failure
// here is treated as a durable-storage loss by callers (spec §7: "Store
// I/O failure: fatal; the replica halts with a distinguished exit code").
func (s *PebbleStore) Close() error { return s.db.Close() }
