package feed

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/yfeed/internal/models"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, frame, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, p models.Post) {
	t.Helper()
	frame, err := EncodeFrame(p, ProtocolTagged)
	require.NoError(t, err)
	c.frames <- frame
}

// hangUp simulates the server closing the channel.
func (c *fakeConn) hangUp() { close(c.frames) }

type dialResult struct {
	conn Conn
	err  error
}

type fakeDialer struct {
	results chan dialResult
	dials   atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) accept() *fakeConn {
	c := newFakeConn()
	d.results <- dialResult{conn: c}
	return c
}

func (d *fakeDialer) refuse() {
	d.results <- dialResult{err: errors.New("connection refused")}
}

// fakeFetcher returns its result once released. It ignores ctx on purpose so
// tests can deliver completions after teardown.
type fakeFetcher struct {
	release chan struct{}
	posts   []models.Post
	err     error
	calls   atomic.Int32
	done    chan struct{}
}

func newFakeFetcher(posts []models.Post, err error) *fakeFetcher {
	return &fakeFetcher{
		release: make(chan struct{}),
		posts:   posts,
		err:     err,
		done:    make(chan struct{}, 8),
	}
}

func readyFetcher(posts ...models.Post) *fakeFetcher {
	f := newFakeFetcher(posts, nil)
	close(f.release)
	return f
}

func (f *fakeFetcher) FetchRecent(_ context.Context, limit int) ([]models.Post, error) {
	f.calls.Add(1)
	<-f.release
	defer func() { f.done <- struct{}{} }()
	if f.err != nil {
		return nil, f.err
	}
	out := clonePosts(f.posts)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingHandler struct {
	events chan models.Post
	states chan State
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		events: make(chan models.Post, 32),
		states: make(chan State, 64),
	}
}

func (h *recordingHandler) OnEvent(p models.Post) { h.events <- p }
func (h *recordingHandler) OnStateChange(s State) { h.states <- s }

func (h *recordingHandler) nextState(t *testing.T) State {
	t.Helper()
	select {
	case s := <-h.states:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return State{}
	}
}

func (h *recordingHandler) waitFor(t *testing.T, kind StateKind) State {
	t.Helper()
	for {
		if s := h.nextState(t); s.Kind == kind {
			return s
		}
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
