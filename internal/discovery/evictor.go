// evictor.go houses the eviction loop for Pool.  Every tick it scans the
// map and closes:
//
//   - pools idle longer than idleTTL
//   - least-recently-used pools when the map exceeds maxEntries
//
// Each eviction is logged and counted.
package discovery

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/yanizio/catalog/internal/metrics"
)

func (p *Pool) evictLoop() {
	for {
		select {
		case <-p.stop:
			return
		case <-p.evictTicker.C:
			p.evict(time.Now())
		}
	}
}

func (p *Pool) evict(now time.Time) {
	var count int

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	p.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		idle := now.Sub(time.Unix(0, atomic.LoadInt64(&ent.lastSeen)))
		if p.idleTTL > 0 && idle > p.idleTTL {
			p.remove(key.(string), ent)
			p.log.Infow("source pool evicted", "source", key, "idle", idle.Truncate(time.Second))
			metrics.SourcePoolEvictTotal.Inc()
			return true
		}
		count++
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if p.maxEntries <= 0 || count <= p.maxEntries {
		return
	}
	type kv struct {
		key string
		at  int64
	}
	var all []kv
	p.m.Range(func(key, value any) bool {
		all = append(all, kv{key: key.(string), at: atomic.LoadInt64(&value.(*entry).lastSeen)})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
	for i := 0; i < len(all)-p.maxEntries; i++ {
		if v, ok := p.m.Load(all[i].key); ok {
			p.remove(all[i].key, v.(*entry))
			p.log.Infow("source pool evicted (LRU pressure)", "source", all[i].key)
			metrics.SourcePoolEvictTotal.Inc()
		}
	}
}
