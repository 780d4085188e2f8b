package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnManager(d Dialer, h Handler, opts ...ConnOption) *ConnManager {
	base := []ConnOption{
		WithDialer(d),
		WithBackoff(FixedBackoff{Interval: 5 * time.Millisecond}),
		WithConnLogger(zerolog.Nop()),
	}
	return NewConnManager("ws://feed.test/api/ws/feed", h, append(base, opts...)...)
}

func TestConnManagerStateMachine(t *testing.T) {
	dialer := newFakeDialer()
	h := newRecordingHandler()
	m := newTestConnManager(dialer, h)
	t.Cleanup(m.Close)

	dialer.refuse()
	dialer.refuse()
	m.Open(context.Background())

	assert.Equal(t, StateConnecting, h.nextState(t).Kind)

	closed := h.nextState(t)
	require.Equal(t, StateClosed, closed.Kind)
	var chErr *ChannelError
	require.True(t, errors.As(closed.Reason, &chErr))
	assert.Equal(t, "dial", chErr.Op)

	r1 := h.nextState(t)
	require.Equal(t, StateReconnecting, r1.Kind)
	assert.Equal(t, 1, r1.Attempt)
	assert.Equal(t, 5*time.Millisecond, r1.Delay)

	assert.Equal(t, StateConnecting, h.nextState(t).Kind)
	assert.Equal(t, StateClosed, h.nextState(t).Kind)
	r2 := h.nextState(t)
	require.Equal(t, StateReconnecting, r2.Kind)
	assert.Equal(t, 2, r2.Attempt)

	conn := dialer.accept()
	assert.Equal(t, StateConnecting, h.nextState(t).Kind)
	assert.Equal(t, StateOpen, h.nextState(t).Kind)

	conn.hangUp()
	readClosed := h.nextState(t)
	require.Equal(t, StateClosed, readClosed.Kind)
	require.True(t, errors.As(readClosed.Reason, &chErr))
	assert.Equal(t, "read", chErr.Op)

	r3 := h.nextState(t)
	require.Equal(t, StateReconnecting, r3.Kind)
	assert.Equal(t, 1, r3.Attempt, "attempt counter resets after a successful open")
}

func TestConnManagerDeliversEventsInOrder(t *testing.T) {
	dialer := newFakeDialer()
	h := newRecordingHandler()
	m := newTestConnManager(dialer, h)
	t.Cleanup(m.Close)

	conn := dialer.accept()
	m.Open(context.Background())
	h.waitFor(t, StateOpen)

	conn.send(t, post("1", 1))
	conn.frames <- []byte(`{"garbage"`)
	conn.frames <- []byte(`{"type":"com.y.like","data":{}}`)
	conn.send(t, post("2", 2))

	first := <-h.events
	second := <-h.events
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)

	// Malformed frames must not have cost us the channel.
	assert.Equal(t, int32(1), dialer.dials.Load())
	select {
	case s := <-h.states:
		t.Fatalf("unexpected state %s", s)
	default:
	}
}

func TestConnManagerProtocolPinning(t *testing.T) {
	dialer := newFakeDialer()
	h := newRecordingHandler()
	m := newTestConnManager(dialer, h, WithProtocol(ProtocolUntagged))
	t.Cleanup(m.Close)

	conn := dialer.accept()
	m.Open(context.Background())
	h.waitFor(t, StateOpen)

	conn.send(t, post("tagged", 1))
	untagged, err := EncodeFrame(post("raw", 2), ProtocolUntagged)
	require.NoError(t, err)
	conn.frames <- untagged

	got := <-h.events
	assert.Equal(t, "raw", got.ID)
}

func TestConnManagerCloseCancelsPendingReconnect(t *testing.T) {
	dialer := newFakeDialer()
	h := newRecordingHandler()
	m := newTestConnManager(dialer, h, WithBackoff(FixedBackoff{Interval: time.Hour}))

	dialer.refuse()
	m.Open(context.Background())
	h.waitFor(t, StateReconnecting)

	m.Close()
	m.Close()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager goroutine did not exit")
	}
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestConnManagerCloseReleasesOpenChannel(t *testing.T) {
	dialer := newFakeDialer()
	h := newRecordingHandler()
	m := newTestConnManager(dialer, h)

	conn := dialer.accept()
	m.Open(context.Background())
	h.waitFor(t, StateOpen)

	m.Close()
	<-m.Done()

	select {
	case <-conn.closed:
	default:
		t.Fatal("channel was not closed")
	}
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestConnManagerCloseBeforeOpen(t *testing.T) {
	dialer := newFakeDialer()
	m := newTestConnManager(dialer, newRecordingHandler())

	m.Close()
	m.Open(context.Background())

	<-m.Done()
	assert.Equal(t, int32(0), dialer.dials.Load())
}
