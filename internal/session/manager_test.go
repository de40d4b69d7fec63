package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentConnectSingleHandshake(t *testing.T) {
	transport := &fakeTransport{}
	m := NewManager(nil, transport, nil, NewStatusHub(), testOptions())
	defer m.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Connect(context.Background(), "t1"))
		}()
	}
	wg.Wait()

	waitForState(t, m, "t1", StateConnecting)
	// Give any racing duplicate loop a chance to dial before asserting.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount(), "concurrent Connect must not race-create two handshakes")
}

func TestConnectIdempotentWhileLive(t *testing.T) {
	transport := &fakeTransport{}
	m := NewManager(nil, transport, nil, NewStatusHub(), testOptions())
	defer m.Shutdown(context.Background())

	require.NoError(t, m.Connect(context.Background(), "t1"))
	waitForState(t, m, "t1", StateConnecting)
	transport.emit(Event{Kind: EventConnected})
	waitForState(t, m, "t1", StateConnected)

	require.NoError(t, m.Connect(context.Background(), "t1"))
	require.NoError(t, m.Connect(context.Background(), "t1"))
	assert.Equal(t, 1, transport.dialCount())
}

func TestGetStatusNotFound(t *testing.T) {
	m := NewManager(nil, &fakeTransport{}, nil, NewStatusHub(), testOptions())
	_, err := m.GetStatus("nobody")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDisconnectReleasesSlot(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewStatusHub()
	m := NewManager(nil, transport, nil, hub, testOptions())

	require.NoError(t, m.Connect(context.Background(), "t1"))
	waitForState(t, m, "t1", StateConnecting)
	transport.emit(Event{Kind: EventConnected})
	waitForState(t, m, "t1", StateConnected)

	require.NoError(t, m.Disconnect(context.Background(), "t1"))
	assert.Equal(t, 1, transport.closes, "transport resources released")

	_, err := m.GetStatus("t1")
	assert.ErrorIs(t, err, ErrNoSession)

	_, ok := hub.Latest("t1")
	assert.False(t, ok, "hub forgets a destroyed session's snapshot")

	// Reconnect after explicit disconnect creates a fresh session.
	require.NoError(t, m.Connect(context.Background(), "t1"))
	waitForState(t, m, "t1", StateConnecting)
	assert.Equal(t, 2, transport.dialCount())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	dialErrs := make(chan struct{}, 64)
	transport := &fakeTransport{
		onDial: func(attempt int) (chan Event, error) {
			if attempt == 1 {
				ch := make(chan Event, 1)
				ch <- Event{Kind: EventDisconnected}
				return ch, nil
			}
			dialErrs <- struct{}{}
			return nil, errStreamClosed
		},
	}
	opts := testOptions()
	opts.ReconnectBase = 30 * time.Second // retry would park for a long time
	opts.ReconnectCap = 60 * time.Second
	m := NewManager(nil, transport, nil, NewStatusHub(), opts)

	require.NoError(t, m.Connect(context.Background(), "t1"))
	waitForState(t, m, "t1", StateConnecting)

	// The session is now sleeping its 30s backoff; Disconnect must not wait it out.
	done := make(chan error, 1)
	go func() { done <- m.Disconnect(context.Background(), "t1") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect blocked on a pending reconnect backoff")
	}
	assert.Empty(t, dialErrs, "no further dial attempts after disconnect")
}

func TestManagerSend(t *testing.T) {
	transport := &fakeTransport{}
	m := NewManager(nil, transport, nil, NewStatusHub(), testOptions())
	defer m.Shutdown(context.Background())

	assert.ErrorIs(t, m.Send(context.Background(), "t1", "c1", "hola"), ErrNoSession)

	require.NoError(t, m.Connect(context.Background(), "t1"))
	waitForState(t, m, "t1", StateConnecting)
	require.NoError(t, m.Send(context.Background(), "t1", "c1", "hola"))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, []string{"c1:hola"}, transport.sent)
}
