package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Manager is the registry of active sessions: exactly one Session per tenant
// at any instant. All registry mutation goes through the per-tenant lock so
// concurrent Connect calls never race-create two transport handshakes.
type Manager struct {
	transport Transport
	handler   InboundHandler
	hub       *StatusHub
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	runOnce   sync.Once
}

// NewManager creates the session registry. handler receives every inbound
// message; hub receives every status transition.
func NewManager(log *slog.Logger, transport Transport, handler InboundHandler, hub *StatusHub, opts Options) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		transport: transport,
		handler:   handler,
		hub:       hub,
		opts:      opts.withDefaults(),
		logger:    log.With(slog.String("component", "session_manager")),
		sessions:  map[string]*Session{},
		locks:     map[string]*sync.Mutex{},
	}
}

// Hub returns the status hub the manager publishes to.
func (m *Manager) Hub() *StatusHub {
	return m.hub
}

// tenantLock returns the creation lock for a tenant, allocating it on first use.
func (m *Manager) tenantLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[tenantID] = lock
	}
	return lock
}

func (m *Manager) baseContext() context.Context {
	m.runOnce.Do(func() {
		m.runCtx, m.runCancel = context.WithCancel(context.Background())
	})
	return m.runCtx
}

// Connect ensures the tenant has a live session. Creating one and
// re-requesting connection for an Error/Disconnected session both start the
// supervision loop; Connect on a Connecting/Connected session is idempotent.
func (m *Manager) Connect(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}

	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess := m.sessions[tenantID]
	if sess == nil {
		sess = newSession(tenantID, m.transport, m.handler, m.hub, m.opts, m.logger)
		m.sessions[tenantID] = sess
	}
	m.mu.Unlock()

	switch sess.Snapshot().State {
	case StateConnecting, StateQRPending, StateAuthenticated, StateConnected:
		// Already live; no duplicate handshake.
		return nil
	default:
		m.logger.Info("session connect", slog.String("tenant_id", tenantID))
		sess.start(m.baseContext())
		return nil
	}
}

// Disconnect tears down the tenant's session: cancels any pending reconnect
// or QR refresh, releases transport resources, and frees the registry slot.
func (m *Manager) Disconnect(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}

	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess := m.sessions[tenantID]
	delete(m.sessions, tenantID)
	m.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	m.logger.Info("session disconnect", slog.String("tenant_id", tenantID))
	err := sess.stop(ctx)
	if m.hub != nil {
		m.hub.Forget(tenantID)
	}
	return err
}

// GetStatus returns the tenant's current snapshot, or ErrNoSession when no
// session was ever created (or it was explicitly disconnected).
func (m *Manager) GetStatus(tenantID string) (Snapshot, error) {
	m.mu.Lock()
	sess := m.sessions[tenantID]
	m.mu.Unlock()
	if sess == nil {
		return Snapshot{}, ErrNoSession
	}
	return sess.Snapshot(), nil
}

// Send delivers an outbound message over the tenant's session.
func (m *Manager) Send(ctx context.Context, tenantID, contactID, text string) error {
	m.mu.Lock()
	sess := m.sessions[tenantID]
	m.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	return sess.replySender().Reply(ctx, contactID, text, "")
}

// Shutdown stops every session. Used on process exit; registry slots are not
// released individually since the whole registry goes away.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if err := sess.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	return firstErr
}
