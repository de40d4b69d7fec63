package router

import (
	"sync"
	"time"
)

// dedupWindow remembers recently seen (tenant, messageId) keys so transport
// redeliveries are dropped. Bounded by both entry count and TTL.
type dedupWindow struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	order   []string
	now     func() time.Time
}

func newDedupWindow(max int, ttl time.Duration) *dedupWindow {
	if max <= 0 {
		max = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &dedupWindow{
		ttl:     ttl,
		max:     max,
		entries: map[string]time.Time{},
		now:     time.Now,
	}
}

// Seen records the key and reports whether it was already present within the
// window.
func (w *dedupWindow) Seen(tenantID, messageID string) bool {
	key := tenantID + "|" + messageID
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	if seenAt, ok := w.entries[key]; ok && now.Sub(seenAt) < w.ttl {
		return true
	}
	w.entries[key] = now
	w.order = append(w.order, key)
	return false
}

// Forget removes the key so a transport redelivery is processed again. Used
// when handling failed before any effect was committed.
func (w *dedupWindow) Forget(tenantID, messageID string) {
	w.mu.Lock()
	delete(w.entries, tenantID+"|"+messageID)
	w.mu.Unlock()
}

// evict drops expired entries and enforces the size bound. Caller holds mu.
func (w *dedupWindow) evict(now time.Time) {
	for len(w.order) > 0 {
		oldest := w.order[0]
		seenAt, ok := w.entries[oldest]
		if ok && now.Sub(seenAt) < w.ttl && len(w.order) <= w.max {
			break
		}
		w.order = w.order[1:]
		if ok {
			delete(w.entries, oldest)
		}
	}
}
