package archive

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
)

var (
	ErrBundleNotFound = errors.New("bundle not found")
	ErrBundleExpired  = errors.New("bundle expired")
)

var bundlePrefix = []byte("b")

// KVSink keeps bundles in a local key-value store.
type KVSink struct {
	db  ethdb.KeyValueStore
	now func() time.Time
}

func NewKVSink(db ethdb.KeyValueStore) *KVSink {
	return &KVSink{db: db, now: time.Now}
}

func (s *KVSink) Name() string { return "kv" }

func (s *KVSink) Put(_ context.Context, key string, blob []byte, _ time.Time) error {
	return s.db.Put(append(common.CopyBytes(bundlePrefix), key...), blob)
}

// Bundle returns the archived bundle of a packet. Expired bundles are
// deleted on access.
func (s *KVSink) Bundle(id common.Hash) (*Bundle, error) {
	key := append(common.CopyBytes(bundlePrefix), BundleKey(id)...)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBundleNotFound
	}
	blob, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(blob, &b); err != nil {
		return nil, err
	}
	if !b.ExpiresAt.IsZero() && s.now().After(b.ExpiresAt) {
		if err := s.db.Delete(key); err != nil {
			return nil, err
		}
		return nil, ErrBundleExpired
	}
	return &b, nil
}

func (s *KVSink) Close() error { return s.db.Close() }
