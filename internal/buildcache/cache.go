// Package buildcache is a content-addressed store for compiled bytecode,
// keyed by a hash of the source text. The CLI's `build`/`run` commands
// compile first and then record the result here; they do not read it
// back to skip compiling. Grounded on
// sentra/internal/database.DBManager's pluggable-backend shape: a
// connection is opened from a DSN whose scheme picks the driver, the
// same way DBManager.Connect maps a dbType string to a driver name.
// Unlike DBManager (which keeps a named pool of live connections for
// Sentra scripts to address by id), this package wants exactly one
// connection for the toolchain's own cache table, so it collapses that
// down to a single *Cache wrapping one *sql.DB.
package buildcache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"net/url"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"mirlang/internal/bytecode"
)

// Cache stores compiled bytecode.Code payloads keyed by a blake2b hash
// of the exact source text that produced them.
type Cache struct {
	db    *sql.DB
	group singleflight.Group
}

// Open connects to dsn, dispatching to a driver by URL scheme exactly
// the way DBManager.Connect maps a dbType string to one: "sqlite" (or a
// bare file path, matching the CLI's zero-config default) uses
// modernc.org/sqlite, "postgres"/"postgresql" uses lib/pq, "mysql" uses
// go-sql-driver/mysql, and "sqlserver" uses denisenkom/go-mssqldb.
func Open(dsn string) (*Cache, error) {
	driver, conn := resolveDriver(dsn)
	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("buildcache: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("buildcache: ping %s: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	c := &Cache{db: db}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func resolveDriver(dsn string) (driver, conn string) {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "sqlite", dsn
	}
	switch u.Scheme {
	case "sqlite", "sqlite3", "file":
		return "sqlite", dsn
	case "postgres", "postgresql":
		return "postgres", dsn
	case "mysql":
		return "mysql", dsn
	case "sqlserver", "mssql":
		return "sqlserver", dsn
	default:
		return "sqlite", dsn
	}
}

func (c *Cache) ensureSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS bytecode_cache (
		hash TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at TIMESTAMP
	)`)
	return err
}

// Close releases the underlying connection.
func (c *Cache) Close() error { return c.db.Close() }

// Hash returns the cache key for a source text: a hex-encoded blake2b-256
// digest, chosen over sha256 because it's the hash the rest of the
// domain stack already depends on and is faster for the toolchain's
// short, frequently-rehashed source files.
func Hash(source string) string {
	sum := blake2b.Sum256([]byte(source))
	return fmt.Sprintf("%x", sum)
}

// Get looks up a previously cached program by source hash.
func (c *Cache) Get(ctx context.Context, hash string) (*bytecode.Code, bool, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM bytecode_cache WHERE hash = ?`, hash).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("buildcache: get: %w", err)
	}
	var code bytecode.Code
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&code); err != nil {
		return nil, false, fmt.Errorf("buildcache: decode: %w", err)
	}
	return &code, true, nil
}

// Put stores code under hash, overwriting any prior entry for the same
// source.
func (c *Cache) Put(ctx context.Context, hash string, code bytecode.Code) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(code); err != nil {
		return fmt.Errorf("buildcache: encode: %w", err)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO bytecode_cache (hash, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		hash, buf.Bytes(), time.Now())
	if err != nil {
		return fmt.Errorf("buildcache: put: %w", err)
	}
	return nil
}

// BuildOrGet returns the cached bytecode for source if present, or calls
// build and caches its result. Concurrent calls on the same Cache for
// the same source share one in-flight build via singleflight instead of
// compiling twice; calls from separate processes are not coordinated.
func (c *Cache) BuildOrGet(ctx context.Context, source string, build func() (bytecode.Code, error)) (bytecode.Code, error) {
	hash := Hash(source)
	if cached, ok, err := c.Get(ctx, hash); err != nil {
		return nil, err
	} else if ok {
		return *cached, nil
	}

	v, err, _ := c.group.Do(hash, func() (interface{}, error) {
		code, err := build()
		if err != nil {
			return nil, err
		}
		if putErr := c.Put(ctx, hash, code); putErr != nil {
			return nil, putErr
		}
		return code, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(bytecode.Code), nil
}
