package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/optionrelay/internal/wire"
)

// fakeConn is an in-memory stand-in for *websocket.Conn, letting these
// tests exercise Transport's queueing policy without a real socket.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	closed   bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-make(chan struct{}) // block forever; tests here don't exercise ReadPump
	return 0, nil, nil
}
func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}
func (f *fakeConn) SetReadLimit(limit int64)              {}
func (f *fakeConn) SetReadDeadline(t time.Time) error     { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error    { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error)   {}
func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// noopSink satisfies CommandSink; these tests only exercise Enqueue, never
// handleInbound, so its methods are never actually called.
type noopSink struct{}

func (noopSink) SwitchUnderlying(_ context.Context, _, _ string, _ []string) error { return nil }
func (noopSink) SwitchExpiry(_ context.Context, _ string) error                    { return nil }

func newTestTransport() (*Transport, *fakeConn) {
	c := &fakeConn{}
	tr := NewTransport(c, "user-1", noopSink{}, nil)
	return tr, c
}

func TestTransportEnqueueDropsOldestMarketUpdateWhenFull(t *testing.T) {
	tr, _ := newTestTransport()

	for i := 0; i < queueCap; i++ {
		tr.Enqueue(wire.OutboundFrame{Type: wire.TypeMarketUpdate, Data: i})
	}
	require.Len(t, tr.queue, queueCap)

	tr.Enqueue(wire.OutboundFrame{Type: wire.TypeMarketUpdate, Data: "newest"})

	require.Len(t, tr.queue, queueCap)
	assert.Equal(t, "newest", tr.queue[0].Data)
}

func TestTransportEnqueueNeverDropsControlFrames(t *testing.T) {
	tr, _ := newTestTransport()

	for i := 0; i < queueCap; i++ {
		tr.Enqueue(wire.OutboundFrame{Type: wire.TypeMarketUpdate, Data: i})
	}

	tr.Enqueue(wire.OutboundFrame{Type: wire.TypeFeedState, Data: "state"})

	require.Len(t, tr.queue, queueCap)
	foundState := false
	marketUpdateCount := 0
	for _, f := range tr.queue {
		if f.Type == wire.TypeFeedState {
			foundState = true
		}
		if f.Type == wire.TypeMarketUpdate {
			marketUpdateCount++
		}
	}
	assert.True(t, foundState, "FEED_STATE must not be dropped")
	assert.Equal(t, queueCap-1, marketUpdateCount)
}

func TestTransportEnqueueGrowsPastCapWhenAllControlFrames(t *testing.T) {
	tr, _ := newTestTransport()

	for i := 0; i < queueCap; i++ {
		tr.Enqueue(wire.OutboundFrame{Type: wire.TypeFeedHealth, Data: i})
	}
	tr.Enqueue(wire.OutboundFrame{Type: wire.TypeError, Data: "err"})

	assert.Len(t, tr.queue, queueCap+1)
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	tr, c := newTestTransport()
	tr.Close()
	tr.Close()
	assert.True(t, c.closed)
	select {
	case <-tr.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
}
