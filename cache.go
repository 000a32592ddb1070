package spritescan

import (
	"database/sql"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const day = 24 * time.Hour

// CacheEntry is a set of locations previously found in a ROM image
type CacheEntry struct {
	Checksum  string
	Params    ScanParams
	Locations []SpriteLocation
	CreatedAt time.Time
	TTLDays   int
}

// Expired reports whether the entry is no longer usable at the given time
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= time.Duration(e.TTLDays)*day
}

// CachePersistenceError is returned when the cache database cannot be
// updated
type CachePersistenceError struct {
	Op  string
	Err error
}

func (e *CachePersistenceError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *CachePersistenceError) Unwrap() error {
	return e.Err
}

// CacheStats summarises the contents of the cache
type CacheStats struct {
	Entries   int
	Locations int
	Expired   int
}

// LocationCache persists scan results keyed by ROM checksum. Writes are
// serialised; lookups may run concurrently with each other.
type LocationCache struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *log.Logger
	now    func() time.Time
}

// NewLocationCache opens, creating if necessary, the cache database in file.
// A nil logger discards messages.
func NewLocationCache(file string, logger *log.Logger) (*LocationCache, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS scan (checksum TEXT PRIMARY KEY NOT NULL, range_start INTEGER NOT NULL, range_end INTEGER NOT NULL, step INTEGER NOT NULL, min_quality REAL NOT NULL, created_at INTEGER NOT NULL, ttl_days INTEGER NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS location (checksum TEXT NOT NULL, seq INTEGER NOT NULL, rom_offset INTEGER NOT NULL, compressed_size INTEGER NOT NULL, decompressed_size INTEGER NOT NULL, quality REAL NOT NULL, PRIMARY KEY(checksum, seq), FOREIGN KEY(checksum) REFERENCES scan(checksum) ON DELETE CASCADE)"); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}

	return &LocationCache{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the underlying database
func (c *LocationCache) Close() error {
	return c.db.Close()
}

// Lookup returns the entry for checksum, or nil if there is none or it has
// expired. Expired entries are removed.
func (c *LocationCache) Lookup(checksum string) *CacheEntry {
	c.mu.RLock()
	e, err := c.lookup(checksum)
	c.mu.RUnlock()

	switch {
	case err != nil:
		c.logger.Printf("Cache lookup for %s failed: %v\n", checksum, err)
		return nil
	case e == nil:
		return nil
	case e.Expired(c.now()):
		c.mu.Lock()
		defer c.mu.Unlock()
		// Only remove the entry if it hasn't been refreshed in between
		if _, err := c.db.Exec("DELETE FROM scan WHERE checksum = ? AND created_at = ?", checksum, e.CreatedAt.UnixNano()); err != nil {
			c.logger.Printf("Unable to evict %s: %v\n", checksum, err)
		}
		return nil
	default:
		return e
	}
}

func (c *LocationCache) lookup(checksum string) (*CacheEntry, error) {
	e := CacheEntry{Checksum: checksum}
	var created int64
	switch err := c.db.QueryRow("SELECT range_start, range_end, step, min_quality, created_at, ttl_days FROM scan WHERE checksum = ?", checksum).Scan(&e.Params.RangeStart, &e.Params.RangeEnd, &e.Params.Step, &e.Params.MinQuality, &created, &e.TTLDays); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
	default:
		return nil, err
	}
	e.CreatedAt = time.Unix(0, created)

	rows, err := c.db.Query("SELECT rom_offset, compressed_size, decompressed_size, quality FROM location WHERE checksum = ? ORDER BY seq", checksum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	e.Locations = []SpriteLocation{}
	for rows.Next() {
		var l SpriteLocation
		if err := rows.Scan(&l.Offset, &l.CompressedSize, &l.DecompressedSize, &l.Quality); err != nil {
			return nil, err
		}
		e.Locations = append(e.Locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &e, nil
}

// Store replaces any entry for checksum. It returns false if the entry could
// not be written, in which case any previous entry is left intact.
func (c *LocationCache) Store(checksum string, params ScanParams, locations []SpriteLocation, ttlDays int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store(checksum, params, locations, ttlDays); err != nil {
		c.logger.Println(&CachePersistenceError{"store " + checksum, err})
		return false
	}
	return true
}

func (c *LocationCache) store(checksum string, params ScanParams, locations []SpriteLocation, ttlDays int) (err error) {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM location WHERE checksum = ?", checksum); err != nil {
		return err
	}

	if _, err = tx.Exec("INSERT OR REPLACE INTO scan (checksum, range_start, range_end, step, min_quality, created_at, ttl_days) VALUES (?, ?, ?, ?, ?, ?, ?)", checksum, params.RangeStart, params.RangeEnd, params.Step, params.MinQuality, c.now().UnixNano(), ttlDays); err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO location (checksum, seq, rom_offset, compressed_size, decompressed_size, quality) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, l := range locations {
		if _, err = stmt.Exec(checksum, i, l.Offset, l.CompressedSize, l.DecompressedSize, l.Quality); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Invalidate removes any entry for checksum
func (c *LocationCache) Invalidate(checksum string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM scan WHERE checksum = ?", checksum); err != nil {
		return &CachePersistenceError{"invalidate " + checksum, err}
	}
	return nil
}

// Purge removes every expired entry and, if olderThan is positive, every
// entry created longer ago than that. It returns the number removed.
func (c *LocationCache) Purge(olderThan time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	cutoff := int64(-1)
	if olderThan > 0 {
		cutoff = now - int64(olderThan)
	}

	result, err := c.db.Exec("DELETE FROM scan WHERE created_at + ttl_days * ? <= ? OR created_at < ?", int64(day), now, cutoff)
	if err != nil {
		return 0, &CachePersistenceError{"purge", err}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, &CachePersistenceError{"purge", err}
	}
	return int(n), nil
}

// Stats counts the entries and locations held
func (c *LocationCache) Stats() (CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s CacheStats
	if err := c.db.QueryRow("SELECT COUNT(*) FROM scan").Scan(&s.Entries); err != nil {
		return s, err
	}
	if err := c.db.QueryRow("SELECT COUNT(*) FROM location").Scan(&s.Locations); err != nil {
		return s, err
	}
	if err := c.db.QueryRow("SELECT COUNT(*) FROM scan WHERE created_at + ttl_days * ? <= ?", int64(day), c.now().UnixNano()).Scan(&s.Expired); err != nil {
		return s, err
	}
	return s, nil
}
