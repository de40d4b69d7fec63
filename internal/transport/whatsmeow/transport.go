// Package whatsmeow adapts the whatsmeow WhatsApp library to the session
// transport contract. Device credentials live in the engine's Postgres
// database; one whatsmeow client runs per paired tenant.
package whatsmeow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/chatlift/chatlift/internal/session"
)

// ErrUnknownTenant is returned for commands against a tenant with no live
// connection.
var ErrUnknownTenant = errors.New("whatsmeow: no connection for tenant")

// tenantMarker tags a whatsmeow device row with the tenant that owns it, so
// stored credentials survive restarts and re-attach to the right tenant.
func tenantMarker(tenantID string) string {
	return "tenant:" + tenantID
}

type instance struct {
	client *whatsmeow.Client
	events chan session.Event
	stop   func()
}

// Transport implements session.Transport on top of whatsmeow, with device
// credentials persisted through whatsmeow's sqlstore in Postgres.
type Transport struct {
	container *sqlstore.Container
	logger    *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// New opens (and migrates) the whatsmeow credential store in the given
// Postgres database.
func New(ctx context.Context, log *slog.Logger, dsn string) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}
	container, err := sqlstore.New(ctx, "pgx", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open whatsmeow store: %w", err)
	}
	return &Transport{
		container: container,
		logger:    log.With(slog.String("component", "transport")),
		instances: make(map[string]*instance),
	}, nil
}

// Dial starts the tenant's connection. A tenant with stored credentials goes
// straight to login; otherwise whatsmeow's pairing channel drives QR events
// until the phone scans one.
func (t *Transport) Dial(ctx context.Context, tenantID string) (<-chan session.Event, error) {
	t.mu.Lock()
	if _, live := t.instances[tenantID]; live {
		t.mu.Unlock()
		return nil, fmt.Errorf("whatsmeow: tenant %s already dialing", tenantID)
	}
	t.mu.Unlock()

	device, err := t.deviceFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst := &instance{
		client: client,
		events: make(chan session.Event, 32),
		stop:   cancel,
	}

	handlerID := client.AddEventHandler(func(evt any) {
		t.translate(streamCtx, tenantID, inst, evt)
	})
	go func() {
		<-streamCtx.Done()
		client.RemoveEventHandler(handlerID)
		client.Disconnect()
		close(inst.events)
	}()

	if client.Store.ID == nil {
		// Unpaired: the QR channel must be requested before Connect.
		qrChan, err := client.GetQRChannel(streamCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("request pairing channel: %w", err)
		}
		go t.forwardPairing(streamCtx, inst, qrChan)
	}

	if err := client.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("whatsmeow connect: %w", err)
	}

	t.mu.Lock()
	t.instances[tenantID] = inst
	t.mu.Unlock()
	t.logger.Info("whatsmeow client connecting",
		slog.String("tenant_id", tenantID),
		slog.Bool("paired", client.Store.ID != nil))
	return inst.events, nil
}

// deviceFor finds the tenant's stored device or provisions a fresh one.
func (t *Transport) deviceFor(ctx context.Context, tenantID string) (*store.Device, error) {
	devices, err := t.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored devices: %w", err)
	}
	marker := tenantMarker(tenantID)
	for _, d := range devices {
		if d != nil && d.BusinessName == marker {
			return d, nil
		}
	}
	device := t.container.NewDevice()
	device.BusinessName = marker
	return device, nil
}

// forwardPairing relays whatsmeow's rotating pairing codes as QR events.
// whatsmeow reissues a code on its own while pairing is open; each one
// becomes a fresh QR event that supersedes the last.
func (t *Transport) forwardPairing(ctx context.Context, inst *instance, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			t.emit(ctx, inst, session.Event{
				Kind: session.EventQR,
				QR: &session.QRCode{
					Code:     item.Code,
					IssuedAt: time.Now(),
				},
			})
		case "success":
			return
		case "timeout":
			t.emit(ctx, inst, session.Event{
				Kind: session.EventError,
				Err:  errors.New("pairing window expired before scan"),
			})
			return
		}
	}
}

// translate converts whatsmeow events into session events.
func (t *Transport) translate(ctx context.Context, tenantID string, inst *instance, evt any) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		t.emit(ctx, inst, session.Event{
			Kind:        session.EventAuthenticated,
			PhoneNumber: v.ID.User,
		})
	case *events.Connected:
		phone := ""
		if id := inst.client.Store.ID; id != nil {
			phone = id.User
		}
		t.emit(ctx, inst, session.Event{
			Kind:        session.EventConnected,
			PhoneNumber: phone,
		})
	case *events.Message:
		if v.Info.IsFromMe || v.Info.IsGroup {
			return
		}
		text := extractText(v.Message)
		if text == "" {
			return
		}
		t.emit(ctx, inst, session.Event{
			Kind: session.EventMessage,
			Message: &session.InboundMessage{
				TenantID:   tenantID,
				ContactID:  v.Info.Sender.ToNonAD().String(),
				MessageID:  v.Info.ID,
				Text:       text,
				ReceivedAt: v.Info.Timestamp,
			},
		})
	case *events.Disconnected:
		t.emit(ctx, inst, session.Event{
			Kind: session.EventDisconnected,
			Err:  errors.New("server closed the connection"),
		})
	case *events.StreamError:
		t.emit(ctx, inst, session.Event{
			Kind: session.EventDisconnected,
			Err:  fmt.Errorf("stream error: %s", v.Code),
		})
	case *events.LoggedOut:
		t.emit(ctx, inst, session.Event{
			Kind:  session.EventError,
			Err:   fmt.Errorf("device logged out (reason %d)", int(v.Reason)),
			Fatal: true,
		})
	}
}

func (t *Transport) emit(ctx context.Context, inst *instance, evt session.Event) {
	select {
	case inst.events <- evt:
	case <-ctx.Done():
	}
}

// extractText pulls the plain-text body out of a message, covering both bare
// and extended (quoted/link-preview) text messages.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if ext := msg.GetExtendedTextMessage(); ext.GetText() != "" {
		return ext.GetText()
	}
	return msg.GetConversation()
}

// RefreshQR is part of the transport contract. whatsmeow rotates pairing
// codes itself and each rotation already arrives as a fresh QR event, so a
// live pairing needs no action here; the call only validates the tenant.
func (t *Transport) RefreshQR(_ context.Context, tenantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.instances[tenantID]; !ok {
		return ErrUnknownTenant
	}
	return nil
}

// Send delivers a plain text message.
func (t *Transport) Send(ctx context.Context, tenantID, contactID, text string) error {
	t.mu.Lock()
	inst, ok := t.instances[tenantID]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownTenant
	}
	jid, err := contactJID(contactID)
	if err != nil {
		return err
	}
	_, err = inst.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", contactID, err)
	}
	return nil
}

// contactJID accepts both full JIDs and bare phone numbers.
func contactJID(contactID string) (waTypes.JID, error) {
	if strings.ContainsRune(contactID, '@') {
		jid, err := waTypes.ParseJID(contactID)
		if err != nil {
			return waTypes.JID{}, fmt.Errorf("parse contact %q: %w", contactID, err)
		}
		return jid, nil
	}
	number := strings.Map(func(r rune) rune {
		if r == '+' || r == ' ' || r == '-' {
			return -1
		}
		return r
	}, contactID)
	if number == "" {
		return waTypes.JID{}, fmt.Errorf("empty contact id")
	}
	return waTypes.NewJID(number, waTypes.DefaultUserServer), nil
}

// Close tears down the tenant's client and event stream.
func (t *Transport) Close(_ context.Context, tenantID string) error {
	t.mu.Lock()
	inst, ok := t.instances[tenantID]
	delete(t.instances, tenantID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	inst.stop()
	t.logger.Info("whatsmeow client closed", slog.String("tenant_id", tenantID))
	return nil
}
