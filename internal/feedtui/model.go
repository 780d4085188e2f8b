// Package feedtui renders a synchronized feed window in the terminal.
package feedtui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tOgg1/yfeed/internal/feed"
	"github.com/tOgg1/yfeed/internal/models"
)

const clockTick = 30 * time.Second

// Source is the part of a feed.Store the viewer reads from.
type Source interface {
	Snapshot() []models.Post
	State() feed.State
	Subscribe(fn feed.WindowHandler) func()
	SubscribeState(fn feed.StateHandler) func()
}

// Config configures the viewer.
type Config struct {
	Source   Source
	Theme    Theme
	Capacity int
	// Refresh asks the synchronizer for a fresh backfill. Optional.
	Refresh func()
	Now     func() time.Time
}

type changedMsg struct{}

type clockMsg time.Time

// Model is the bubbletea model for the live feed viewer.
type Model struct {
	source   Source
	refresh  func()
	capacity int
	now      func() time.Time
	styles   styles

	posts []models.Post
	state feed.State

	width  int
	height int
	offset int

	notify    chan struct{}
	unsubs    []func()
	closeOnce sync.Once
}

// NewModel subscribes to cfg.Source. Call Close when done.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("feed source is required")
	}
	theme := cfg.Theme
	if theme.Name == "" {
		theme = DefaultTheme
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Model{
		source:   cfg.Source,
		refresh:  cfg.Refresh,
		capacity: cfg.Capacity,
		now:      now,
		styles:   newStyles(theme),
		notify:   make(chan struct{}, 1),
		width:    defaultWidth,
	}
	// Handlers run on the synchronizer goroutine; only signal, never block.
	poke := func() {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	m.unsubs = append(m.unsubs,
		cfg.Source.Subscribe(func([]models.Post) { poke() }),
		cfg.Source.SubscribeState(func(feed.State) { poke() }),
	)
	m.posts = cfg.Source.Snapshot()
	m.state = cfg.Source.State()
	return m, nil
}

// Run drives the viewer until the user quits or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	model, err := NewModel(cfg)
	if err != nil {
		return err
	}
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close drops the store subscriptions.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		for _, unsub := range m.unsubs {
			unsub()
		}
	})
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChangeCmd(), m.clockCmd())
}

func (m *Model) waitForChangeCmd() tea.Cmd {
	return func() tea.Msg {
		<-m.notify
		return changedMsg{}
	}
}

func (m *Model) clockCmd() tea.Cmd {
	return tea.Tick(clockTick, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case changedMsg:
		m.posts = m.source.Snapshot()
		m.state = m.source.State()
		m.offset = min(m.offset, max(0, len(m.posts)-1))
		return m, m.waitForChangeCmd()
	case clockMsg:
		// Relative timestamps are recomputed in View.
		return m, m.clockCmd()
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return tea.Quit
	case "r":
		if m.refresh != nil {
			m.refresh()
		}
	case "j", "down":
		m.offset = min(max(0, len(m.posts)-1), m.offset+1)
	case "k", "up":
		m.offset = max(0, m.offset-1)
	case "g", "home":
		m.offset = 0
	case "G", "end":
		m.offset = max(0, len(m.posts)-1)
	}
	return nil
}

func (m *Model) View() string {
	now := m.now()
	var b strings.Builder
	b.WriteString(m.headerLine())
	b.WriteString("\n\n")

	body := m.bodyLines(now)
	if m.height > 0 {
		// header, blank line, footer
		room := max(1, m.height-3)
		if len(body) > room {
			body = body[:room]
		}
	}
	b.WriteString(strings.Join(body, "\n"))
	b.WriteString("\n")
	b.WriteString(m.styles.footer.Render("j/k scroll  g/G top/bottom  r refresh  q quit"))
	return b.String()
}

func (m *Model) headerLine() string {
	count := fmt.Sprintf("%d posts", len(m.posts))
	if m.capacity > 0 {
		count = fmt.Sprintf("%d/%d posts", len(m.posts), m.capacity)
	}
	return m.styles.header.Render("yfeed") + "  " + m.stateLabel() + "  " + m.styles.muted.Render(count)
}

func (m *Model) stateLabel() string {
	switch m.state.Kind {
	case feed.StateOpen:
		return m.styles.live.Render("LIVE")
	case feed.StateConnecting:
		return m.styles.behind.Render("catching up")
	case feed.StateReconnecting:
		return m.styles.behind.Render(m.state.String())
	default:
		return m.styles.down.Render(m.state.String())
	}
}

func (m *Model) bodyLines(now time.Time) []string {
	if len(m.posts) == 0 {
		return []string{m.styles.muted.Render("No posts yet.")}
	}
	var lines []string
	for i, post := range m.posts[m.offset:] {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, postLines(post, now, m.width, &m.styles)...)
	}
	return lines
}
