package session

import (
	"sync"

	"github.com/google/uuid"
)

// StatusHub fans session snapshots out to API consumers and remembers the
// latest snapshot per tenant. Subscribers get replace-by-latest delivery: a
// slow reader skips intermediate snapshots and always sees the newest one.
type StatusHub struct {
	mu     sync.RWMutex
	latest map[string]Snapshot
	subs   map[string]map[string]chan Snapshot
}

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		latest: map[string]Snapshot{},
		subs:   map[string]map[string]chan Snapshot{},
	}
}

// Publish records the snapshot as the tenant's latest and notifies
// subscribers, replacing any undelivered previous value.
func (h *StatusHub) Publish(snap Snapshot) {
	h.mu.Lock()
	h.latest[snap.TenantID] = snap
	subs := h.subs[snap.TenantID]
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale value, then deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	h.mu.Unlock()
}

// Latest returns the tenant's most recent snapshot.
func (h *StatusHub) Latest(tenantID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap, ok := h.latest[tenantID]
	return snap, ok
}

// Subscribe registers a latest-value stream for the tenant and returns the
// channel plus a cancel function. The current snapshot, if any, is delivered
// immediately.
func (h *StatusHub) Subscribe(tenantID string) (<-chan Snapshot, func()) {
	subID := uuid.NewString()
	ch := make(chan Snapshot, 1)

	h.mu.Lock()
	subs, ok := h.subs[tenantID]
	if !ok {
		subs = map[string]chan Snapshot{}
		h.subs[tenantID] = subs
	}
	subs[subID] = ch
	if snap, ok := h.latest[tenantID]; ok {
		ch <- snap
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		subs := h.subs[tenantID]
		if subs != nil {
			if current, ok := subs[subID]; ok {
				delete(subs, subID)
				close(current)
			}
			if len(subs) == 0 {
				delete(h.subs, tenantID)
			}
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// Forget drops the remembered snapshot for a tenant whose session was
// destroyed. Active subscriptions stay open until cancelled by their owners.
func (h *StatusHub) Forget(tenantID string) {
	h.mu.Lock()
	delete(h.latest, tenantID)
	h.mu.Unlock()
}
