package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tOgg1/yfeed/internal/feed"
	"github.com/tOgg1/yfeed/internal/feedtui"
	"github.com/tOgg1/yfeed/internal/models"
)

type outputFormat int

const (
	outputTUI outputFormat = iota
	outputPlain
	outputJSON
)

// eventBuffer bounds queued events; state events beyond it are dropped.
const eventBuffer = 16

// windowEvent and stateEvent are the JSON lines written by watch --json.
type windowEvent struct {
	Type  string        `json:"type"`
	At    time.Time     `json:"at"`
	Posts []models.Post `json:"posts"`
}

type stateEvent struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	State   string    `json:"state"`
	Attempt int       `json:"attempt,omitempty"`
	DelayMS int64     `json:"delay_ms,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

type streamer struct {
	out    io.Writer
	format outputFormat
	width  int
	now    func() time.Time
}

// queuedEvent is either a window snapshot or a state transition.
type queuedEvent struct {
	window bool
	posts  []models.Post
	state  feed.State
}

// eventQueue keeps events in the order the source delivered them.
type eventQueue struct {
	mu     sync.Mutex
	events []queuedEvent
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

// push appends ev. Back-to-back windows collapse into the newest one.
func (q *eventQueue) push(ev queuedEvent) {
	q.mu.Lock()
	n := len(q.events)
	switch {
	case ev.window && n > 0 && q.events[n-1].window:
		q.events[n-1] = ev
	case n >= eventBuffer && !ev.window:
		q.mu.Unlock()
		return
	case n >= eventBuffer:
		q.events = append(q.events[1:], ev)
	default:
		q.events = append(q.events, ev)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// run writes window and state changes from src until ctx or done ends.
// Lines follow the order the source reported changes in; consecutive window
// changes are coalesced into the latest snapshot.
func (s *streamer) run(ctx context.Context, src feedtui.Source, done <-chan struct{}) error {
	queue := newEventQueue()

	unsubWindow := src.Subscribe(func(posts []models.Post) {
		queue.push(queuedEvent{window: true, posts: posts})
	})
	defer unsubWindow()
	unsubState := src.SubscribeState(func(state feed.State) {
		queue.push(queuedEvent{state: state})
	})
	defer unsubState()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-queue.wake:
			for _, ev := range queue.drain() {
				var err error
				if ev.window {
					err = s.writeWindow(ev.posts)
				} else {
					err = s.writeState(ev.state)
				}
				if err != nil {
					return err
				}
			}
		}
	}
}

func (s *streamer) writeWindow(posts []models.Post) error {
	now := s.now()
	switch s.format {
	case outputJSON:
		return s.writeJSON(windowEvent{Type: "window", At: now, Posts: nonNilPosts(posts)})
	default:
		if _, err := fmt.Fprintf(s.out, "--- %s  %d posts ---\n", now.Format("15:04:05"), len(posts)); err != nil {
			return err
		}
		if err := feedtui.RenderPlain(s.out, posts, now, s.width); err != nil {
			return err
		}
		_, err := io.WriteString(s.out, "\n")
		return err
	}
}

func (s *streamer) writeState(state feed.State) error {
	switch s.format {
	case outputJSON:
		event := stateEvent{
			Type:    "state",
			At:      s.now(),
			State:   state.Kind.String(),
			Attempt: state.Attempt,
			DelayMS: state.Delay.Milliseconds(),
		}
		if state.Reason != nil {
			event.Reason = state.Reason.Error()
		}
		return s.writeJSON(event)
	default:
		_, err := fmt.Fprintf(s.out, "# %s\n", state)
		return err
	}
}

func (s *streamer) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')
	_, err = s.out.Write(data)
	return err
}

func nonNilPosts(posts []models.Post) []models.Post {
	if posts == nil {
		return []models.Post{}
	}
	return posts
}
