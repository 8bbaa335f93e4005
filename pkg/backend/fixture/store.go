// Package fixture is an offline backend stored in a bbolt file. Each entity
// is a bucket of JSON records; policies and the session identity live in
// reserved buckets.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cgast/schemaprobe/pkg/backend"
)

// Reserved buckets.
const (
	bucketPolicies = "_policies"
	bucketIdentity = "_identity"
)

const identityKey = "current"

// Policy describes how the fixture answers anonymous reads of an entity.
type Policy struct {
	AnonRead bool `json:"anon_read"`
}

// Store is a bbolt-backed fixture backend.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex
}

// Open opens or creates a fixture file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPolicies, bucketIdentity} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing fixture file without write access. The file
// is never created or modified; writes through the Store fail.
func OpenReadOnly(path string) (*Store, error) {
	db, err := bolt.Open(path, 0400, &bolt.Options{ReadOnly: true, Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the fixture file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clients wires the fixture into the harness collaborator set.
func (s *Store) Clients() backend.Clients {
	return backend.Clients{Query: s, Anonymous: anonymousView{s}, Auth: s}
}

// Seed appends records to entity, creating it if needed.
func (s *Store) Seed(entity string, records ...backend.Record) error {
	if err := checkEntityName(entity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(entity))
		if err != nil {
			return fmt.Errorf("create entity %s: %w", entity, err)
		}
		for _, rec := range records {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPolicy records the anonymous read policy for entity.
func (s *Store) SetPolicy(entity string, p Policy) error {
	return s.put(bucketPolicies, entity, p)
}

// SetIdentity records the session identity; nil clears it.
func (s *Store) SetIdentity(id *backend.Identity) error {
	if id == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(bucketIdentity))
			if b == nil {
				return nil
			}
			return b.Delete([]byte(identityKey))
		})
	}
	return s.put(bucketIdentity, identityKey, id)
}

// Entities lists the entity buckets.
func (s *Store) Entities() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if !isReserved(string(name)) {
				out = append(out, string(name))
			}
			return nil
		})
	})
	return out, err
}

// CountRows returns the number of records in entity.
func (s *Store) CountRows(ctx context.Context, entity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := entityBucket(tx, entity)
		if b == nil {
			return backend.NotFound(entity, "no such bucket")
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// FetchRows returns up to limit records of entity in insertion order.
func (s *Store) FetchRows(ctx context.Context, entity string, limit int) ([]backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []backend.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := entityBucket(tx, entity)
		if b == nil {
			return backend.NotFound(entity, "no such bucket")
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var rec backend.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal %s/%x: %w", entity, k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentIdentity returns the stored identity, or nil for anonymous.
func (s *Store) CurrentIdentity(ctx context.Context) (*backend.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var id backend.Identity
	found, err := s.get(bucketIdentity, identityKey, &id)
	if err != nil || !found {
		return nil, err
	}
	return &id, nil
}

func (s *Store) policy(entity string) (Policy, bool, error) {
	var p Policy
	found, err := s.get(bucketPolicies, entity, &p)
	return p, found, err
}

func (s *Store) put(bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *Store) get(bucket, key string, into any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, into)
	})
	return found, err
}

// anonymousView applies stored policies to reads.
type anonymousView struct {
	s *Store
}

func (v anonymousView) CountRows(ctx context.Context, entity string) (int, error) {
	if err := v.allow(entity); err != nil {
		return 0, err
	}
	return v.s.CountRows(ctx, entity)
}

func (v anonymousView) FetchRows(ctx context.Context, entity string, limit int) ([]backend.Record, error) {
	if err := v.allow(entity); err != nil {
		return nil, err
	}
	return v.s.FetchRows(ctx, entity, limit)
}

func (v anonymousView) allow(entity string) error {
	p, found, err := v.s.policy(entity)
	if err != nil {
		return err
	}
	if found && !p.AnonRead {
		return backend.Denied(entity, "anonymous read disabled by policy")
	}
	return nil
}

func entityBucket(tx *bolt.Tx, entity string) *bolt.Bucket {
	if isReserved(entity) {
		return nil
	}
	return tx.Bucket([]byte(entity))
}

func isReserved(name string) bool {
	return strings.HasPrefix(name, "_")
}

func checkEntityName(entity string) error {
	if entity == "" {
		return errors.New("fixture: entity name required")
	}
	if isReserved(entity) {
		return fmt.Errorf("fixture: entity name %q is reserved", entity)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
