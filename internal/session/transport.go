package session

import "context"

// EventKind discriminates transport events.
type EventKind string

const (
	// EventQR carries a freshly issued pairing code.
	EventQR EventKind = "qr"
	// EventAuthenticated signals the pairing completed; PhoneNumber is set.
	EventAuthenticated EventKind = "authenticated"
	// EventConnected signals the transport is ready for traffic.
	EventConnected EventKind = "connected"
	// EventMessage carries one inbound message.
	EventMessage EventKind = "message"
	// EventDisconnected signals an unexpected drop; the session will retry.
	EventDisconnected EventKind = "disconnected"
	// EventError signals a transport failure. Fatal errors (e.g. the account
	// was logged out remotely) end the session instead of retrying.
	EventError EventKind = "error"
)

// Event is one transport notification. Exactly the fields implied by Kind
// are set.
type Event struct {
	Kind        EventKind
	QR          *QRCode
	PhoneNumber string
	Message     *InboundMessage
	Err         error
	Fatal       bool
}

// Transport is the WhatsApp network capability the engine consumes. The wire
// protocol is the transport's own concern; the engine only sees these events
// and commands.
type Transport interface {
	// Dial starts (or resumes) the tenant's connection handshake and returns
	// the event stream. The stream is closed when the connection ends.
	Dial(ctx context.Context, tenantID string) (<-chan Event, error)
	// RefreshQR requests a replacement pairing code while pairing is still
	// in progress.
	RefreshQR(ctx context.Context, tenantID string) error
	// Send delivers a text message to a contact.
	Send(ctx context.Context, tenantID, contactID, text string) error
	// Close releases all transport resources held for the tenant.
	Close(ctx context.Context, tenantID string) error
}
