// Package database centralises sqlx connection helpers for the catalog's
// own store and for scanned sources.  The catalog store uses
// go-sql-driver/mysql; sources may be MySQL or PostgreSQL (lib/pq).
//
// Public entry points:
//
//	Open(dsn)                         – catalog store with conservative pools.
//	OpenWithOptions(driver, dsn, o)   – fine-grained control.
//	WithPassword(template, password)  – inject a secret into a DSN template.
//
// Both Open helpers Ping the database before returning so callers can fail
// fast during bootstrap.  Callers should Close() the returned *sqlx.DB.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Options tunes one pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultOptions are used by Open: 15 max open, 5 idle, 30-minute lifetime.
var DefaultOptions = Options{
	MaxOpenConns:    15,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
	PingTimeout:     5 * time.Second,
}

// Open returns a MySQL *sqlx.DB with DefaultOptions.
func Open(dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(context.Background(), "mysql", dsn, DefaultOptions)
}

// OpenWithOptions opens driver/dsn, applies pool sizes, and pings.  Used by
// the source pool to keep per-source resource usage small.
func OpenWithOptions(ctx context.Context, driver, dsn string, o Options) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	if o.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.PingTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// WithPassword substitutes password into a DSN template holding one %s
// verb.  Templates without a verb are returned unchanged.
func WithPassword(template, password string) string {
	if password == "" || !strings.Contains(template, "%s") {
		return template
	}
	return fmt.Sprintf(template, password)
}
