// Package bboltdb implements the ledger store on top of go.etcd.io/bbolt.
package bboltdb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	// bucketName is the single bucket all ledger keys live in.
	bucketName = []byte("ledger")

	errNotFound = errors.New("not found")
	errClosed   = errors.New("database closed")
)

// Database is a persistent key-value store based on the bbolt storage engine.
// Apart from basic data storage functionality it also supports batch writes and
// iterating over the keyspace in binary-alphabetical order.
type Database struct {
	fn string    // Filename for reporting
	db *bbolt.DB // Underlying bbolt storage engine

	diskWriteMeter metrics.Meter // Meter for measuring the amount of data written in batches

	closeLock sync.RWMutex
	closed    bool

	log log.Logger // Contextual logger tracking the database path
}

// New opens (or creates) the bbolt database file inside the given directory.
func New(file string, namespace string, readonly bool, ephemeral bool) (*Database, error) {
	if err := os.MkdirAll(file, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}
	fullpath := filepath.Join(file, "bbolt.db")
	db, err := bbolt.Open(fullpath, 0600, &bbolt.Options{
		Timeout:  time.Second,
		ReadOnly: readonly,
		NoSync:   ephemeral,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %v", err)
	}
	if !readonly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create default bucket: %v", err)
		}
	}
	return &Database{
		fn:             fullpath,
		db:             db,
		log:            log.New("database", fullpath),
		diskWriteMeter: metrics.NewRegisteredMeter(namespace+"disk/write", nil),
	}, nil
}

// Close flushes any pending data to disk and closes the database file.
func (d *Database) Close() error {
	d.closeLock.Lock()
	defer d.closeLock.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// view runs fn in a read transaction, with a nil bucket if it was never
// created (read-only open of an empty file).
func (d *Database) view(fn func(b *bbolt.Bucket) error) error {
	d.closeLock.RLock()
	defer d.closeLock.RUnlock()
	if d.closed {
		return errClosed
	}
	return d.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

func (d *Database) update(fn func(b *bbolt.Bucket) error) error {
	d.closeLock.RLock()
	defer d.closeLock.RUnlock()
	if d.closed {
		return errClosed
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

// Has retrieves if a key is present in the key-value store.
func (d *Database) Has(key []byte) (bool, error) {
	var found bool
	err := d.view(func(b *bbolt.Bucket) error {
		found = b != nil && b.Get(key) != nil
		return nil
	})
	return found, err
}

// Get retrieves the given key if it's present in the key-value store.
func (d *Database) Get(key []byte) ([]byte, error) {
	var value []byte
	err := d.view(func(b *bbolt.Bucket) error {
		if b == nil {
			return errNotFound
		}
		v := b.Get(key)
		if v == nil {
			return errNotFound
		}
		value = common.CopyBytes(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put inserts the given value into the key-value store.
func (d *Database) Put(key []byte, value []byte) error {
	return d.update(func(b *bbolt.Bucket) error {
		return b.Put(key, value)
	})
}

// Delete removes the key from the key-value store.
func (d *Database) Delete(key []byte) error {
	return d.update(func(b *bbolt.Bucket) error {
		return b.Delete(key)
	})
}

// Path returns the path to the database file.
func (d *Database) Path() string {
	return d.fn
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
//
// The matching range is read up front so that no read transaction is held
// open while the caller writes.
func (d *Database) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	it := &iterator{index: -1}
	seek := append(append([]byte{}, prefix...), start...)
	it.err = d.view(func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			it.keys = append(it.keys, common.CopyBytes(k))
			it.values = append(it.values, common.CopyBytes(v))
		}
		return nil
	})
	return it
}

// iterator walks a materialized key range.
type iterator struct {
	index  int
	keys   [][]byte
	values [][]byte
	err    error
}

// Next moves the iterator to the next key/value pair. It returns whether the
// iterator is exhausted.
func (it *iterator) Next() bool {
	if it.err != nil || it.index >= len(it.keys)-1 {
		it.index = len(it.keys)
		return false
	}
	it.index++
	return true
}

// Error returns any accumulated error. Exhausting all the key/value pairs
// is not considered to be an error.
func (it *iterator) Error() error {
	return it.err
}

// Key returns the key of the current key/value pair, or nil if done.
func (it *iterator) Key() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return it.keys[it.index]
}

// Value returns the value of the current key/value pair, or nil if done.
func (it *iterator) Value() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return it.values[it.index]
}

// Release releases associated resources.
func (it *iterator) Release() {
	it.index, it.keys, it.values = -1, nil, nil
}

type keyvalue struct {
	key    []byte
	value  []byte
	delete bool
}

// batch is a write-only batch that commits changes to its host database in a
// single bbolt transaction when Write is called. A batch cannot be used
// concurrently.
type batch struct {
	db     *Database
	writes []keyvalue
	size   int
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (d *Database) NewBatch() ethdb.Batch {
	return &batch{db: d}
}

// NewBatchWithSize creates a write-only database batch with pre-allocated buffer.
func (d *Database) NewBatchWithSize(size int) ethdb.Batch {
	return &batch{db: d, writes: make([]keyvalue, 0, size/64)}
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	b.writes = append(b.writes, keyvalue{common.CopyBytes(key), common.CopyBytes(value), false})
	b.size += len(key) + len(value)
	return nil
}

// Delete inserts the key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	b.writes = append(b.writes, keyvalue{common.CopyBytes(key), nil, true})
	b.size += len(key)
	return nil
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk atomically.
func (b *batch) Write() error {
	err := b.db.update(func(bucket *bbolt.Bucket) error {
		for _, kv := range b.writes {
			var err error
			if kv.delete {
				err = bucket.Delete(kv.key)
			} else {
				err = bucket.Put(kv.key, kv.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.db.diskWriteMeter.Mark(int64(b.size))
	return nil
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.writes = b.writes[:0]
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w ethdb.KeyValueWriter) error {
	for _, kv := range b.writes {
		if kv.delete {
			if err := w.Delete(kv.key); err != nil {
				return err
			}
			continue
		}
		if err := w.Put(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}
