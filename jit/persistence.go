package jit

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chazu/tansy/dist"
	"github.com/chazu/tansy/vm"
)

// ErrNotCached indicates the requested function is not in the cache.
var ErrNotCached = errors.New("function not cached")

// Cache is the on-disk compile cache: one row per function, keyed by the
// bytecode checksum, holding the wire image of the function plus the
// compile record. A process can reload functions from the cache instead
// of receiving them from the producer again, and tooling can report what
// was compiled and how long it took.
type Cache struct {
	db *sql.DB
	mu sync.Mutex
}

// CompileRecord is the per-function bookkeeping stored beside the image.
type CompileRecord struct {
	Name         string
	Checksum     uint32
	CodeWords    int
	Instructions int
	StackSlots   int
	Duration     time.Duration
}

// OpenCache opens or creates a compile cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS functions (
		checksum INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		image BLOB NOT NULL,
		code_words INTEGER NOT NULL,
		instructions INTEGER NOT NULL,
		stack_slots INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		created TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores or replaces the cache row for one compiled function.
func (c *Cache) Put(fn *vm.FunctionDef, instructions, stackSlots int, d time.Duration) error {
	image, err := dist.MarshalFunction(fn)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", fn.Name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO functions
		 (checksum, name, image, code_words, instructions, stack_slots, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(fn.Checksum()), fn.Name, image,
		len(fn.Code), instructions, stackSlots, d.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("caching %s: %w", fn.Name, err)
	}
	return nil
}

// Get loads a cached function and its compile record by checksum.
func (c *Cache) Get(checksum uint32) (*vm.FunctionDef, *CompileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		image []byte
		rec   CompileRecord
		ns    int64
	)
	err := c.db.QueryRow(
		`SELECT name, image, code_words, instructions, stack_slots, duration_ns
		 FROM functions WHERE checksum = ?`, int64(checksum),
	).Scan(&rec.Name, &image, &rec.CodeWords, &rec.Instructions, &rec.StackSlots, &ns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %08x", ErrNotCached, checksum)
		}
		return nil, nil, fmt.Errorf("querying cache: %w", err)
	}
	rec.Checksum = checksum
	rec.Duration = time.Duration(ns)
	fn, err := dist.UnmarshalFunction(image)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", rec.Name, err)
	}
	return fn, &rec, nil
}

// Records lists the compile records of every cached function, newest
// first.
func (c *Cache) Records() ([]CompileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.db.Query(
		`SELECT checksum, name, code_words, instructions, stack_slots, duration_ns
		 FROM functions ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()
	var out []CompileRecord
	for rows.Next() {
		var (
			rec CompileRecord
			sum int64
			ns  int64
		)
		if err := rows.Scan(&sum, &rec.Name, &rec.CodeWords, &rec.Instructions, &rec.StackSlots, &ns); err != nil {
			return nil, err
		}
		rec.Checksum = uint32(sum)
		rec.Duration = time.Duration(ns)
		out = append(out, rec)
	}
	return out, rows.Err()
}
