package scheduler

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dsgrid/ds-client/internal/model"
)

// Directory maps (type, id) to the latest ServerRecord reported by the
// simulator. Every bulk refresh replaces the contents wholesale; entries
// are never merged. A server the simulator stops reporting is not evicted
// eagerly, but its entry carries a TTL and silently expires when it is not
// refreshed in time.
//
// The scheduling loop is the only writer. The read lock exists for the
// diagnostic status API, which snapshots the directory from its own
// goroutine.
type Directory struct {
	mu      sync.RWMutex
	entries *gocache.Cache
	order   []string // first-seen key order of the latest refresh
}

// NewDirectory creates a directory whose entries expire after ttl.
func NewDirectory(ttl time.Duration) *Directory {
	return &Directory{
		entries: gocache.New(ttl, 2*ttl),
	}
}

// ReplaceAll discards the previous contents and installs records as the
// new directory state. Duplicate keys within one refresh keep their
// first-seen position but take the later record's values.
func (d *Directory) ReplaceAll(records []model.ServerRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries.Flush()
	d.order = d.order[:0]

	for _, rec := range records {
		key := rec.Key()
		if _, seen := d.entries.Get(key); !seen {
			d.order = append(d.order, key)
		}
		d.entries.SetDefault(key, rec)
	}
}

// Snapshot returns the live records in first-seen order. Expired entries
// are omitted.
func (d *Directory) Snapshot() []model.ServerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.ServerRecord, 0, len(d.order))
	for _, key := range d.order {
		if v, ok := d.entries.Get(key); ok {
			out = append(out, v.(model.ServerRecord))
		}
	}
	return out
}

// Get returns the live record for a (type, id) pair.
func (d *Directory) Get(serverType string, serverID int) (model.ServerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.entries.Get(model.ServerRecord{Type: serverType, ID: serverID}.Key())
	if !ok {
		return model.ServerRecord{}, false
	}
	return v.(model.ServerRecord), true
}

// Len returns the number of live entries.
func (d *Directory) Len() int {
	return len(d.Snapshot())
}
