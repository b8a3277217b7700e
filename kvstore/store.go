// Package kvstore implements the per-plugin persistent key-value store:
// a thread-safe, file-backed store with binary (CBOR) value serialization,
// replacing the original's SQLite+msgpack table with an embedded bbolt
// database (spec §4.3).
package kvstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

// decMode decodes a stored value's nested maps as map[string]interface{}
// rather than the library's default map[interface{}]interface{} — plugins
// commonly store config-shaped values (string-keyed maps) via Set.
var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}{})}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// entry is the on-disk value shape: created_at/updated_at plus the
// caller's value, all CBOR-encoded together so a single Get is one read.
type entry struct {
	CreatedAt float64     `cbor:"created_at"`
	UpdatedAt float64     `cbor:"updated_at"`
	Value     interface{} `cbor:"value"`
}

// Store is a per-plugin KV store backed by one bbolt file. When Enabled
// is false, every mutating call is a no-op and every read returns its
// zero value/default, matching the disabled-store semantics in spec §4.3.
type Store struct {
	db      *bolt.DB
	logger  *logrus.Entry
	mu      sync.Mutex
	enabled bool
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string, enabled bool, logger *logrus.Entry) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv bucket: %w", err)
	}
	return &Store{db: db, enabled: enabled, logger: logger}, nil
}

// Get returns the value for key, or def if absent, disabled, or
// corrupted. Deserialization errors are logged and degraded to def,
// never raised (spec §4.3 failure semantics).
func (s *Store) Get(key string, def interface{}) interface{} {
	if !s.enabled {
		return def
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if raw == nil {
		return def
	}

	var e entry
	if err := decMode.Unmarshal(raw, &e); err != nil {
		if s.logger != nil {
			s.logger.WithError(err).WithField("key", key).Warn("kv store deserialize failed, returning default")
		}
		return def
	}
	return e.Value
}

// Set upserts key=value, preserving created_at across updates.
func (s *Store) Set(key string, value interface{}) error {
	if !s.enabled {
		if s.logger != nil {
			s.logger.WithField("key", key).Warn("kv store disabled, dropping set")
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		e := entry{CreatedAt: now, UpdatedAt: now, Value: value}
		if existing := b.Get([]byte(key)); existing != nil {
			var prev entry
			if err := decMode.Unmarshal(existing, &prev); err == nil {
				e.CreatedAt = prev.CreatedAt
			}
		}
		data, err := cbor.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Delete removes key, reporting whether it was present.
func (s *Store) Delete(key string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := false
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) != nil {
			existed = true
		}
		return b.Delete([]byte(key))
	})
	return existed
}

// Has reports whether key exists.
func (s *Store) Has(key string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		found = b.Get([]byte(key)) != nil
		return nil
	})
	return found
}

// Keys returns all keys with the given prefix ("" matches all), sorted.
func (s *Store) Keys(prefix string) []string {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	sort.Strings(keys)
	return keys
}

// Clear removes every key, returning the count removed.
func (s *Store) Clear() int {
	if !s.enabled {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		b.ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
		if err := tx.DeleteBucket(bucketName); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	return count
}

// Count returns the number of keys.
func (s *Store) Count() int {
	if !s.enabled {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n
}

// Dump returns the full key->value mapping.
func (s *Store) Dump() map[string]interface{} {
	if !s.enabled {
		return map[string]interface{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]interface{}{}
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			var e entry
			if err := decMode.Unmarshal(v, &e); err == nil {
				out[string(k)] = e.Value
			}
			return nil
		})
	})
	return out
}

// Len is an alias for Count, matching the dict-style __len__ sugar the
// original's store.py offers (spec [SUPPLEMENT] item 6); Go exposes it as
// a plain method rather than operator overloading.
func (s *Store) Len() int { return s.Count() }

// Close closes the underlying database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
