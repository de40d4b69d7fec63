package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Session is one supervised WhatsApp connection for one tenant. It owns the
// QR/auth state and the reconnect policy; all mutation happens inside its own
// run loop, never directly from the router or the API layer.
type Session struct {
	tenantID  string
	transport Transport
	handler   InboundHandler
	hub       *StatusHub
	opts      Options
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu      sync.Mutex
	snap    Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func newSession(tenantID string, transport Transport, handler InboundHandler, hub *StatusHub, opts Options, log *slog.Logger) *Session {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		tenantID:  tenantID,
		transport: transport,
		handler:   handler,
		hub:       hub,
		opts:      opts,
		logger:    log.With(slog.String("component", "session"), slog.String("tenant_id", tenantID)),
		limiter:   rate.NewLimiter(rate.Limit(opts.SendRatePerSecond), opts.SendRatePerSecond),
	}
	s.snap = Snapshot{TenantID: tenantID, State: StateDisconnected, UpdatedAt: time.Now().UTC()}
	return s
}

// Snapshot returns the current externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// start launches the supervision loop. No-op while a loop is live. A loop
// that already published a terminal Error state may still be winding down;
// start waits for it to finish and then relaunches, so a manual reconnect
// racing the old loop's exit is never silently dropped.
func (s *Session) start(parent context.Context) {
	for {
		s.mu.Lock()
		if !s.running {
			ctx, cancel := context.WithCancel(parent)
			s.cancel = cancel
			s.done = make(chan struct{})
			s.running = true
			done := s.done
			s.mu.Unlock()

			go func() {
				defer func() {
					s.mu.Lock()
					s.running = false
					s.mu.Unlock()
					close(done)
				}()
				s.run(ctx)
			}()
			return
		}
		done := s.done
		state := s.snap.State
		s.mu.Unlock()

		if state != StateError {
			return
		}
		<-done
	}
}

// stop cancels the loop, waits for it to exit, and releases transport
// resources. Cancellation is cooperative: the loop notices at its next
// suspension point.
func (s *Session) stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := s.transport.Close(ctx, s.tenantID)
	s.publish(func(snap *Snapshot) {
		snap.State = StateDisconnected
		snap.QR = nil
		snap.LastError = ""
	})
	return err
}

// run is the supervision loop: dial, consume events, retry with backoff on
// unexpected drops, stop on fatal errors or cancellation.
func (s *Session) run(ctx context.Context) {
	attempts := 0
	retry := newBackoff(s.opts.ReconnectBase, s.opts.ReconnectCap)

	for {
		s.publish(func(snap *Snapshot) {
			snap.State = StateConnecting
			snap.QR = nil
		})

		events, err := s.transport.Dial(ctx, s.tenantID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("dial failed", slog.Any("error", err))
			if !s.waitRetry(ctx, retry, &attempts, err) {
				return
			}
			continue
		}

		outcome, err := s.consume(ctx, events, retry, &attempts)
		switch outcome {
		case outcomeCancelled:
			return
		case outcomeFatal:
			s.releaseTransport(ctx)
			s.logger.Error("unrecoverable transport failure", slog.Any("error", err))
			s.publish(func(snap *Snapshot) {
				snap.State = StateError
				snap.QR = nil
				snap.LastError = err.Error()
			})
			return
		case outcomeDropped:
			s.releaseTransport(ctx)
			s.logger.Warn("connection dropped", slog.Any("error", err))
			if !s.waitRetry(ctx, retry, &attempts, err) {
				return
			}
		}
	}
}

// releaseTransport tears down the tenant's dropped connection so the next
// Dial starts from a clean slate; the transport holds one live instance per
// tenant and refuses to redial over it.
func (s *Session) releaseTransport(ctx context.Context) {
	if err := s.transport.Close(context.WithoutCancel(ctx), s.tenantID); err != nil {
		s.logger.Warn("transport close failed", slog.Any("error", err))
	}
}

type outcome int

const (
	outcomeCancelled outcome = iota
	outcomeDropped
	outcomeFatal
)

// consume applies transport events to the state machine until the stream
// ends. The QR timer guards pairing: if the current code reaches its TTL
// without a replacement, the stale code is cleared from the snapshot and a
// refresh is requested, so API consumers never observe a dead code.
func (s *Session) consume(ctx context.Context, events <-chan Event, retry *backoff, attempts *int) (outcome, error) {
	qrTimer := time.NewTimer(time.Hour)
	qrTimer.Stop()
	defer qrTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcomeCancelled, ctx.Err()

		case <-qrTimer.C:
			snap := s.Snapshot()
			if snap.State != StateQRPending || snap.QR == nil || !snap.QR.Expired(time.Now()) {
				continue
			}
			s.logger.Info("qr code expired, requesting refresh")
			s.publish(func(snap *Snapshot) {
				snap.QR = nil
			})
			if err := s.transport.RefreshQR(ctx, s.tenantID); err != nil {
				s.logger.Warn("qr refresh failed", slog.Any("error", err))
			}

		case ev, ok := <-events:
			if !ok {
				return outcomeDropped, errStreamClosed
			}
			switch ev.Kind {
			case EventQR:
				qr := s.normalizeQR(ev.QR)
				s.publish(func(snap *Snapshot) {
					snap.State = StateQRPending
					snap.QR = &qr
				})
				resetTimer(qrTimer, time.Until(qr.ExpiresAt))

			case EventAuthenticated:
				qrTimer.Stop()
				s.publish(func(snap *Snapshot) {
					snap.State = StateAuthenticated
					snap.QR = nil
					snap.PhoneNumber = ev.PhoneNumber
					snap.LastError = ""
				})

			case EventConnected:
				*attempts = 0
				retry.Reset()
				qrTimer.Stop()
				s.publish(func(snap *Snapshot) {
					snap.State = StateConnected
					snap.QR = nil
					snap.LastError = ""
				})

			case EventMessage:
				if ev.Message != nil && s.handler != nil {
					msg := *ev.Message
					msg.TenantID = s.tenantID
					if err := s.handler.HandleInbound(ctx, msg, s.replySender()); err != nil {
						s.logger.Error("inbound handling failed", slog.Any("error", err))
					}
				}

			case EventDisconnected:
				return outcomeDropped, errOrStreamDrop(ev.Err)

			case EventError:
				if ev.Fatal {
					return outcomeFatal, errOrStreamDrop(ev.Err)
				}
				return outcomeDropped, errOrStreamDrop(ev.Err)
			}
		}
	}
}

// waitRetry sleeps the next backoff delay. Returns false when the retry
// budget is exhausted (session parked in Error, manual reconnect required)
// or the context is cancelled.
func (s *Session) waitRetry(ctx context.Context, retry *backoff, attempts *int, cause error) bool {
	*attempts++
	if *attempts > s.opts.MaxReconnectAttempts {
		s.logger.Error("reconnect budget exhausted", slog.Int("attempts", *attempts-1), slog.Any("error", cause))
		s.publish(func(snap *Snapshot) {
			snap.State = StateError
			snap.QR = nil
			snap.LastError = cause.Error()
		})
		return false
	}
	delay := retry.Next()
	s.logger.Info("reconnecting", slog.Int("attempt", *attempts), slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) normalizeQR(qr *QRCode) QRCode {
	now := time.Now().UTC()
	out := QRCode{IssuedAt: now, ExpiresAt: now.Add(s.opts.QRTTL)}
	if qr != nil {
		out = *qr
		if out.IssuedAt.IsZero() {
			out.IssuedAt = now
		}
		if out.ExpiresAt.IsZero() {
			out.ExpiresAt = out.IssuedAt.Add(s.opts.QRTTL)
		}
	}
	return out
}

// publish mutates the snapshot under the session lock and emits it as a
// status event.
func (s *Session) publish(mutate func(snap *Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	s.snap.UpdatedAt = time.Now().UTC()
	snap := s.snap
	s.mu.Unlock()
	if s.hub != nil {
		s.hub.Publish(snap)
	}
}

type sessionReplySender struct {
	session *Session
}

func (s *Session) replySender() ReplySender {
	return &sessionReplySender{session: s}
}

// Reply sends an outbound text through the session's transport, throttled by
// the per-session rate limiter.
func (r *sessionReplySender) Reply(ctx context.Context, contactID, text, inReplyTo string) error {
	_ = inReplyTo // delivery log correlation only; the transport has no quote semantics here
	if err := r.session.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.session.transport.Send(ctx, r.session.tenantID, contactID, text)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

var errStreamClosed = &transportError{"transport event stream closed"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }

func errOrStreamDrop(err error) error {
	if err != nil {
		return err
	}
	return errStreamClosed
}
