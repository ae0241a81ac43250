package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get for keys that were never written.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// Both backends also expose the trie node database that shares their
// key space, so the state trie and raw bookkeeping keys persist together.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	NewBatch() Batch
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// Batch buffers writes; Write applies all of them atomically.
type Batch interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	Write() error
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu     sync.RWMutex
	kv     *memorydb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := memorydb.New()
	return &MemDB{
		kv:     kv,
		trieDB: newTrieDB(kv),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.kv.Get(key)
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.kv.Delete(key)
}

// NewBatch returns a batch applied to the in-memory store on Write.
func (db *MemDB) NewBatch() Batch {
	return db.kv.NewBatch()
}

// TrieDB returns the node database layered over the in-memory store.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.trieDB.Close()
	db.kv.Close()
}

// --- Persistent DB ---

// LevelDBOptions tunes the persistent backend. Zero values pick the
// go-ethereum minimums.
type LevelDBOptions struct {
	CacheMB int
	Handles int
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db     *gethleveldb.Database
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return OpenLevelDB(path, LevelDBOptions{})
}

// OpenLevelDB opens path with explicit tuning.
func OpenLevelDB(path string, opts LevelDBOptions) (*LevelDB, error) {
	db, err := gethleveldb.New(path, opts.CacheMB, opts.Handles, "tokenledger/db/", false)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db, trieDB: newTrieDB(db)}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes a key. Missing keys are not an error.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key)
}

// NewBatch returns a LevelDB write batch.
func (ldb *LevelDB) NewBatch() Batch {
	return ldb.db.NewBatch()
}

// TrieDB returns the node database layered over LevelDB.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.trieDB.Close()
	ldb.db.Close()
}

func newTrieDB(kv ethdb.KeyValueStore) *triedb.Database {
	return triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults)
}
