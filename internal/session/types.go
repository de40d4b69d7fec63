// Package session supervises per-tenant WhatsApp connections: pairing,
// authentication, reconnection, and inbound/outbound message flow.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned when a tenant has never created a session.
var ErrNoSession = errors.New("no session for tenant")

// State is the lifecycle state of a tenant's WhatsApp session.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateQRPending     State = "qr_pending"
	StateAuthenticated State = "authenticated"
	StateConnected     State = "connected"
	StateError         State = "error"
)

// QRCode is an opaque pairing token with its validity window. Only the most
// recently issued code is ever exposed; superseded codes are discarded.
type QRCode struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the code's validity window has passed at now.
func (q QRCode) Expired(now time.Time) bool {
	return !q.ExpiresAt.After(now)
}

// Snapshot is the externally visible state of one session. Consumers must
// treat it as a replace-by-latest value, not a log: delivery is at-least-once.
type Snapshot struct {
	TenantID    string    `json:"tenant_id"`
	State       State     `json:"state"`
	QR          *QRCode   `json:"qr,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InboundMessage is one message received from the transport. MessageID is
// unique per tenant and is the dedup key under transport redelivery.
type InboundMessage struct {
	TenantID   string
	ContactID  string
	MessageID  string
	Text       string
	ReceivedAt time.Time
}

// ReplySender delivers a reply back over the session that received the
// inbound message.
type ReplySender interface {
	Reply(ctx context.Context, contactID, text, inReplyTo string) error
}

// InboundHandler consumes inbound messages and replies through the sender.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage, sender ReplySender) error
}

// Options tunes session supervision. Zero values fall back to defaults.
type Options struct {
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	QRTTL                time.Duration
	SendRatePerSecond    int
}

func (o Options) withDefaults() Options {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 2 * time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 60 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.QRTTL <= 0 {
		o.QRTTL = 60 * time.Second
	}
	if o.SendRatePerSecond <= 0 {
		o.SendRatePerSecond = 5
	}
	return o
}
