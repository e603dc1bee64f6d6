// Package store persists packet states and the listener cursor in an ethdb
// key-value store.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gofrs/flock"
	"github.com/nori-zk/dvn-worker/core/types"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrDirLocked   = errors.New("data directory is used by another process")
	errStoreClosed = errors.New("store is closed")
)

// Ensure the backing databases implement what the store relies on
var (
	_ ethdb.KeyValueStore = (*pebble.Database)(nil)
	_ ethdb.KeyValueStore = (*memorydb.Database)(nil)
)

// Store is a typed view over an ethdb.KeyValueStore.
type Store struct {
	db     ethdb.KeyValueStore
	lock   *flock.Flock // nil for in-memory stores
	mutex  sync.RWMutex
	closed bool

	log log.Logger // Contextual logger
}

// Open opens (or creates) the store in dir, taking an exclusive lock on the
// directory. An empty dir yields an in-memory store.
func Open(dir string, cache int, handles int) (*Store, error) {
	if dir == "" {
		return New(memorydb.New()), nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "dvn.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDirLocked, dir)
	}
	db, err := pebble.New(filepath.Join(dir, "packets"), cache, handles, "dvn/store/", false)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := New(db)
	s.lock = lock
	s.log = log.New("database", "pebble", "path", dir)
	s.log.Info("Opened packet store", "cache", cache, "handles", handles)
	return s, nil
}

// New wraps an existing key-value store.
func New(db ethdb.KeyValueStore) *Store {
	return &Store{db: db, log: log.New("database", "memory")}
}

// PutPacket stores the packet state, replacing any previous record.
func (s *Store) PutPacket(ps *types.PacketState) error {
	enc, err := rlp.EncodeToBytes(ps)
	if err != nil {
		return fmt.Errorf("encode packet state: %w", err)
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return s.db.Put(packetKey(ps.Packet.ID), enc)
}

// Packet retrieves the stored state of a packet.
func (s *Store) Packet(id common.Hash) (*types.PacketState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	key := packetKey(id)
	if ok, err := s.db.Has(key); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}
	blob, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	return decodePacketState(blob)
}

// DeletePacket removes the record of a packet.
func (s *Store) DeletePacket(id common.Hash) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return s.db.Delete(packetKey(id))
}

// IteratePackets calls fn for every stored packet state in key order.
// Iteration stops at the first error returned by fn.
func (s *Store) IteratePackets(fn func(*types.PacketState) error) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	it := s.db.NewIterator(packetPrefix, nil)
	defer it.Release()

	for it.Next() {
		if len(it.Key()) != len(packetPrefix)+common.HashLength {
			continue
		}
		ps, err := decodePacketState(it.Value())
		if err != nil {
			return fmt.Errorf("packet %x: %w", it.Key()[len(packetPrefix):], err)
		}
		if err := fn(ps); err != nil {
			return err
		}
	}
	return it.Error()
}

// PrunePackets deletes the terminal packets for which keep returns false
// and returns the number removed.
func (s *Store) PrunePackets(keep func(*types.PacketState) bool) (int, error) {
	var stale [][]byte
	err := s.IteratePackets(func(ps *types.PacketState) error {
		if ps.State.Terminal() && !keep(ps) {
			stale = append(stale, packetKey(ps.Packet.ID))
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return 0, errStoreClosed
	}
	batch := s.db.NewBatch()
	for _, key := range stale {
		if err := batch.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := batch.Write(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Cursor returns the next source block the listener should scan from.
func (s *Store) Cursor() (uint64, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return 0, false, errStoreClosed
	}
	ok, err := s.db.Has(cursorKey)
	if err != nil || !ok {
		return 0, false, err
	}
	blob, err := s.db.Get(cursorKey)
	if err != nil {
		return 0, false, err
	}
	if len(blob) != 8 {
		return 0, false, fmt.Errorf("invalid cursor length %d", len(blob))
	}
	return binary.BigEndian.Uint64(blob), true, nil
}

// SetCursor persists the listener cursor.
func (s *Store) SetCursor(block uint64) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return s.db.Put(cursorKey, binary.BigEndian.AppendUint64(nil, block))
}

// Close closes the database and releases the directory lock.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	s.log.Info("Closed packet store")
	return err
}

func decodePacketState(blob []byte) (*types.PacketState, error) {
	ps := new(types.PacketState)
	if err := rlp.Decode(bytes.NewReader(blob), ps); err != nil {
		return nil, fmt.Errorf("decode packet state: %w", err)
	}
	return ps, nil
}
