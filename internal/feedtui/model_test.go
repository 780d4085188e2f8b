package feedtui

import (
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/yfeed/internal/feed"
	"github.com/tOgg1/yfeed/internal/models"
)

type fakeSource struct {
	mu       sync.Mutex
	posts    []models.Post
	state    feed.State
	onWindow []feed.WindowHandler
	onState  []feed.StateHandler
	unsubbed int
}

func (f *fakeSource) Snapshot() []models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Post(nil), f.posts...)
}

func (f *fakeSource) State() feed.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Subscribe(fn feed.WindowHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWindow = append(f.onWindow, fn)
	return func() { f.mu.Lock(); f.unsubbed++; f.mu.Unlock() }
}

func (f *fakeSource) SubscribeState(fn feed.StateHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = append(f.onState, fn)
	return func() { f.mu.Lock(); f.unsubbed++; f.mu.Unlock() }
}

func (f *fakeSource) setWindow(posts ...models.Post) {
	f.mu.Lock()
	f.posts = posts
	handlers := f.onWindow
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(posts)
	}
}

func (f *fakeSource) setState(state feed.State) {
	f.mu.Lock()
	f.state = state
	handlers := f.onState
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(state)
	}
}

func newTestModel(t *testing.T, src *fakeSource, refresh func()) *Model {
	t.Helper()
	m, err := NewModel(Config{
		Source:   src,
		Capacity: 10,
		Refresh:  refresh,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	select {
	case msg := <-done:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("command did not return")
		return nil
	}
}

func TestModelRequiresSource(t *testing.T) {
	_, err := NewModel(Config{})
	assert.Error(t, err)
}

func TestModelShowsCatchingUpUntilOpen(t *testing.T) {
	src := &fakeSource{state: feed.State{Kind: feed.StateConnecting}}
	m := newTestModel(t, src, nil)

	view := m.View()
	assert.Contains(t, view, "catching up")
	assert.Contains(t, view, "0/10 posts")
	assert.Contains(t, view, "No posts yet.")

	src.setState(feed.State{Kind: feed.StateOpen})
	src.setWindow(models.Post{ID: "1", Handle: "yev", Note: "hello", CreatedAt: now.Add(-3 * time.Minute)})

	msg := runCmd(t, m.waitForChangeCmd())
	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)

	view = m.View()
	assert.Contains(t, view, "LIVE")
	assert.Contains(t, view, "1/10 posts")
	assert.Contains(t, view, "@yev")
	assert.Contains(t, view, "3 minutes ago")
	assert.Contains(t, view, "hello")
}

func TestModelShowsReconnecting(t *testing.T) {
	src := &fakeSource{state: feed.State{Kind: feed.StateReconnecting, Attempt: 2, Delay: 4 * time.Second}}
	m := newTestModel(t, src, nil)
	assert.Contains(t, m.View(), "reconnecting (attempt 2 in 4s)")

	src.state = feed.State{Kind: feed.StateClosed, Reason: errors.New("eof")}
	m.Update(changedMsg{})
	assert.Contains(t, m.View(), "closed (eof)")
}

func TestModelKeys(t *testing.T) {
	refreshed := 0
	src := &fakeSource{posts: []models.Post{
		{ID: "2", Owner: "b", Note: "second", CreatedAt: now},
		{ID: "1", Owner: "a", Note: "first", CreatedAt: now.Add(-time.Hour)},
	}}
	m := newTestModel(t, src, func() { refreshed++ })

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, 1, refreshed)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 1, m.offset)
	assert.NotContains(t, m.View(), "second")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 1, m.offset)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	assert.Equal(t, 0, m.offset)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelClampsOffsetWhenWindowShrinks(t *testing.T) {
	src := &fakeSource{posts: []models.Post{
		{ID: "3", Note: "c", CreatedAt: now},
		{ID: "2", Note: "b", CreatedAt: now},
		{ID: "1", Note: "a", CreatedAt: now},
	}}
	m := newTestModel(t, src, nil)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	assert.Equal(t, 2, m.offset)

	src.setWindow(models.Post{ID: "4", Note: "d", CreatedAt: now})
	m.Update(changedMsg{})
	assert.Equal(t, 0, m.offset)
}

func TestModelViewFitsHeight(t *testing.T) {
	posts := make([]models.Post, 0, 20)
	for i := 0; i < 20; i++ {
		posts = append(posts, models.Post{ID: string(rune('a' + i)), Note: "note", CreatedAt: now})
	}
	m := newTestModel(t, &fakeSource{posts: posts}, nil)
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})

	lines := 0
	for _, c := range m.View() {
		if c == '\n' {
			lines++
		}
	}
	assert.LessOrEqual(t, lines+1, 10)
}

func TestModelCloseUnsubscribes(t *testing.T) {
	src := &fakeSource{}
	m := newTestModel(t, src, nil)
	m.Close()
	m.Close()
	assert.Equal(t, 2, src.unsubbed)
}
