// internal/discovery/pool.go
//
// Lazily opened, self-evicting source connection pools.
//
// Context
// -------
// A catalog deployment may be pointed at dozens of sources, but a scan only
// touches one at a time.  Pool opens a small *sqlx.DB per Connection.Name
// on first use, shares it between callers, and closes it again once it has
// been idle for IdleTTL or when more than MaxEntries pools are open.
//
// Notes
// -----
//   - Concurrent first requests for the same source collapse into one open
//     via singleflight.
//   - The eviction loop lives in evictor.go and stops on Close.
package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/catalog/internal/database"
	"github.com/yanizio/catalog/internal/logger"
	"github.com/yanizio/catalog/internal/metrics"
)

// Static defaults.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 32
	EvictInterval = 5 * time.Minute
)

// SourcePoolOptions keeps per-source resource usage small.
var SourcePoolOptions = database.Options{
	MaxOpenConns:    5,
	MaxIdleConns:    2,
	ConnMaxLifetime: 30 * time.Minute,
	PingTimeout:     5 * time.Second,
}

// OpenFunc opens a pool for driver/dsn.  Tests swap it for sqlmock.
type OpenFunc func(ctx context.Context, driver, dsn string) (*sqlx.DB, error)

func defaultOpen(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	return database.OpenWithOptions(ctx, driver, dsn, SourcePoolOptions)
}

type entry struct {
	db       *sqlx.DB
	lastSeen int64 // UnixNano
}

// Pool implements DBSource.  Zero value is invalid; use NewPool.
type Pool struct {
	open       OpenFunc
	log        *zap.SugaredLogger
	sfg        singleflight.Group
	m          sync.Map // name → *entry
	idleTTL    time.Duration
	maxEntries int

	evictTicker *time.Ticker
	stop        chan struct{}
	closeOnce   sync.Once
}

// PoolOption customises NewPool.
type PoolOption func(*Pool)

// WithOpener replaces the function used to open source pools.
func WithOpener(fn OpenFunc) PoolOption { return func(p *Pool) { p.open = fn } }

// WithLimits overrides IdleTTL and MaxEntries.
func WithLimits(idleTTL time.Duration, maxEntries int) PoolOption {
	return func(p *Pool) {
		p.idleTTL = idleTTL
		p.maxEntries = maxEntries
	}
}

// WithEvictInterval sets how often the evictor runs.  Zero disables it.
func WithEvictInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if p.evictTicker != nil {
			p.evictTicker.Stop()
			p.evictTicker = nil
		}
		if d > 0 {
			p.evictTicker = time.NewTicker(d)
		}
	}
}

// NewPool constructs a Pool and starts the background evictor.
func NewPool(log *zap.SugaredLogger, opts ...PoolOption) *Pool {
	p := &Pool{
		open:        defaultOpen,
		log:         logger.OrNop(log),
		idleTTL:     IdleTTL,
		maxEntries:  MaxEntries,
		evictTicker: time.NewTicker(EvictInterval),
		stop:        make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.evictTicker != nil {
		go p.evictLoop()
	}
	return p
}

// DB returns the pool for conn, opening it on demand.
func (p *Pool) DB(ctx context.Context, conn Connection) (*sqlx.DB, error) {
	if v, ok := p.m.Load(conn.Name); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.db, nil
	}

	v, err, _ := p.sfg.Do(conn.Name, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := p.m.Load(conn.Name); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.db, nil
		}
		db, err := p.open(ctx, conn.Driver, conn.DSN)
		if err != nil {
			metrics.SourcePoolLoadErrorsTotal.Inc()
			p.log.Warnw("source pool open failed", "source", conn.Name, "driver", conn.Driver, "err", err)
			return nil, err
		}
		p.m.Store(conn.Name, &entry{db: db, lastSeen: time.Now().UnixNano()})
		metrics.SourcePoolLoadsTotal.Inc()
		metrics.SourcePoolsOpen.Inc()
		p.log.Infow("source pool opened", "source", conn.Name, "driver", conn.Driver)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sqlx.DB), nil
}

// Len reports how many pools are open.
func (p *Pool) Len() int {
	n := 0
	p.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Close stops the evictor and closes every open pool.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		if p.evictTicker != nil {
			p.evictTicker.Stop()
		}
		p.m.Range(func(key, value any) bool {
			p.remove(key.(string), value.(*entry))
			return true
		})
	})
	return nil
}

func (p *Pool) remove(name string, ent *entry) {
	_ = ent.db.Close()
	p.m.Delete(name)
	metrics.SourcePoolsOpen.Dec()
}
