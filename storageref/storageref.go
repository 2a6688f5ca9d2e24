// Package storageref is a reference storage-engine collaborator. The
// migration and replicated-write paths treat the real storage engine as
// external, but both need something that can actually reject a write past
// capacity for their OutOfSpace paths to be exercised by anything other
// than a mock. This package is a small boltdb-backed store with a byte
// quota, wrapping boltdb/bolt the same way etcd's mvcc/backend package
// does, plus an in-memory fake of the same Capacity interface for tests
// that don't want file I/O.
package storageref

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/boltdb/bolt"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/pkg/fileutil"
	"github.com/absolute8511/aerospike-server/record"
)

// dbFileName is the bolt file this package keeps inside the caller's data
// directory.
const dbFileName = "storageref.db"

// DefaultQuotaBytes is the byte budget a Store enforces when none is given.
const DefaultQuotaBytes = int64(2 * 1024 * 1024 * 1024) // 2 GB

// MaxQuotaBytes is the largest quota this package's callers should
// configure; a larger quota works but degrades the backing bolt file's
// mmap behavior.
const MaxQuotaBytes = int64(8 * 1024 * 1024 * 1024) // 8 GB

// Capacity tracks bytes reserved against a quota. Reserve must be called
// before a write is accepted; Release gives back bytes a write no longer
// occupies (an overwrite or a delete).
type Capacity interface {
	Reserve(nbytes int64) error
	Release(nbytes int64)
	Used() int64
}

// Store is a reference record store: one bolt bucket per namespace, keyed
// by digest, gated by a byte quota.
type Store struct {
	db    *bolt.DB
	quota int64
	used  int64
}

// Open opens (creating if absent) a bolt-backed store inside dir with the
// given quota. A quota of 0 selects DefaultQuotaBytes. dir is created,
// along with any missing parents, if it doesn't already exist.
func Open(dir string, quotaBytes int64) (*Store, error) {
	if quotaBytes == 0 {
		quotaBytes = DefaultQuotaBytes
	}
	if err := fileutil.MkdirAll(dir); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, dbFileName), 0600, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, quota: quotaBytes}, nil
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Used returns the number of bytes currently reserved.
func (s *Store) Used() int64 {
	return atomic.LoadInt64(&s.used)
}

// Reserve accounts nbytes against the quota, failing with ErrOutOfSpace if
// that would exceed it. Reserve and the subsequent Put are not atomic
// together; callers that fail after reserving must call Release.
func (s *Store) Reserve(nbytes int64) error {
	for {
		cur := atomic.LoadInt64(&s.used)
		next := cur + nbytes
		if next > s.quota {
			return errutil.ErrOutOfSpace
		}
		if atomic.CompareAndSwapInt64(&s.used, cur, next) {
			return nil
		}
	}
}

// Release gives back nbytes previously reserved.
func (s *Store) Release(nbytes int64) {
	atomic.AddInt64(&s.used, -nbytes)
}

// Put persists pickle under (namespace, digest), reserving only the net
// growth in footprint against the quota: an overwrite that replaces a
// larger value with a smaller one gives bytes back rather than double
// counting them. On quota failure nothing is written.
func (s *Store) Put(namespace string, d record.Digest, pickle []byte) error {
	var oldLen int64
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if v := b.Get(d[:]); v != nil {
			oldLen = int64(len(v))
		}
		return nil
	})

	delta := int64(len(pickle)) - oldLen
	if delta > 0 {
		if err := s.Reserve(delta); err != nil {
			return err
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return b.Put(d[:], pickle)
	})
	if err != nil {
		if delta > 0 {
			s.Release(delta)
		}
		return err
	}
	if delta < 0 {
		s.Release(-delta)
	}
	return nil
}

// Get returns the pickle stored under (namespace, digest), if any.
func (s *Store) Get(namespace string, d record.Digest) ([]byte, bool) {
	var out []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if v := b.Get(d[:]); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

// Delete removes any pickle stored under (namespace, digest), releasing
// its footprint back to the quota.
func (s *Store) Delete(namespace string, d record.Digest) {
	var freed int64
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if v := b.Get(d[:]); v != nil {
			freed = int64(len(v))
		}
		return b.Delete(d[:])
	})
	if freed > 0 {
		s.Release(freed)
	}
}

// Fake is an in-memory stand-in for Store: real quota accounting backed by
// a plain map instead of bolt, for tests that want Put/Delete to behave
// without touching disk.
type Fake struct {
	quota int64
	used  int64

	mu   sync.Mutex
	data map[string]map[record.Digest][]byte
}

// NewFake returns a Fake with the given quota.
func NewFake(quotaBytes int64) *Fake {
	return &Fake{quota: quotaBytes, data: make(map[string]map[record.Digest][]byte)}
}

// Put mirrors Store.Put against the in-memory map.
func (f *Fake) Put(namespace string, d record.Digest, pickle []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var oldLen int64
	if b := f.data[namespace]; b != nil {
		oldLen = int64(len(b[d]))
	}
	delta := int64(len(pickle)) - oldLen
	if delta > 0 {
		if err := f.Reserve(delta); err != nil {
			return err
		}
	} else if delta < 0 {
		f.Release(-delta)
	}

	if f.data[namespace] == nil {
		f.data[namespace] = make(map[record.Digest][]byte)
	}
	f.data[namespace][d] = append([]byte(nil), pickle...)
	return nil
}

// Get mirrors Store.Get against the in-memory map.
func (f *Fake) Get(namespace string, d record.Digest) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.data[namespace]
	if b == nil {
		return nil, false
	}
	v, ok := b[d]
	return v, ok
}

// Delete mirrors Store.Delete against the in-memory map.
func (f *Fake) Delete(namespace string, d record.Digest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.data[namespace]
	if b == nil {
		return
	}
	if v, ok := b[d]; ok {
		f.Release(int64(len(v)))
		delete(b, d)
	}
}

func (f *Fake) Reserve(nbytes int64) error {
	for {
		cur := atomic.LoadInt64(&f.used)
		next := cur + nbytes
		if next > f.quota {
			return errutil.ErrOutOfSpace
		}
		if atomic.CompareAndSwapInt64(&f.used, cur, next) {
			return nil
		}
	}
}

func (f *Fake) Release(nbytes int64) {
	atomic.AddInt64(&f.used, -nbytes)
}

func (f *Fake) Used() int64 {
	return atomic.LoadInt64(&f.used)
}
