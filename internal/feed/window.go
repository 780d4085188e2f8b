package feed

import (
	"slices"

	"github.com/tOgg1/yfeed/internal/models"
)

// DefaultCapacity is the window size when none is configured.
const DefaultCapacity = 10

type source uint8

const (
	sourceBackfill source = iota
	sourceLive
)

type entry struct {
	post   models.Post
	source source
}

// Window is the bounded, newest-first post sequence. It is not safe for
// concurrent use; the synchronizer's event loop is its only writer.
//
// Invariants after every call:
//   - createdAt is non-increasing from index 0
//   - equal createdAt: live before backfill, newer live arrival first
//   - len <= capacity
//   - ids are unique
type Window struct {
	capacity int
	entries  []entry
}

// NewWindow returns an empty window. Negative capacity is treated as zero.
func NewWindow(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{
		capacity: capacity,
		entries:  make([]entry, 0, capacity),
	}
}

func (w *Window) Capacity() int { return w.capacity }

func (w *Window) Len() int { return len(w.entries) }

// Contains reports whether a post with id is in the window.
func (w *Window) Contains(id string) bool {
	return w.indexOf(id) >= 0
}

// Posts returns a deep copy of the window, newest first.
func (w *Window) Posts() []models.Post {
	out := make([]models.Post, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.post.Clone()
	}
	return out
}

// ApplyLive inserts a live post. It returns false when nothing changed: the
// id is already present, or the post is older than everything in a full
// window and would be evicted straight away.
func (w *Window) ApplyLive(post models.Post) bool {
	if w.capacity == 0 || w.Contains(post.ID) {
		return false
	}
	return w.insert(entry{post: post.Clone(), source: sourceLive})
}

// ApplyBackfill reconciles a fetched batch (newest first) with the window.
//
// The window is replaced wholesale unless that would drop a live post the
// fetch doesn't know about yet; in that case every fetched post is merged in
// with the live insertion rule. It returns whether the visible window changed.
func (w *Window) ApplyBackfill(posts []models.Post) bool {
	if w.capacity == 0 {
		return false
	}

	fetched := make(map[string]struct{}, len(posts))
	batch := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		if _, dup := fetched[post.ID]; dup {
			continue
		}
		fetched[post.ID] = struct{}{}
		batch = append(batch, post)
	}

	mustMerge := false
	for _, e := range w.entries {
		if _, ok := fetched[e.post.ID]; e.source == sourceLive && !ok {
			mustMerge = true
			break
		}
	}

	if mustMerge {
		changed := false
		for _, post := range batch {
			if w.Contains(post.ID) {
				continue
			}
			if w.insert(entry{post: post.Clone(), source: sourceBackfill}) {
				changed = true
			}
		}
		return changed
	}

	live := make(map[string]struct{})
	for _, e := range w.entries {
		if e.source == sourceLive {
			live[e.post.ID] = struct{}{}
		}
	}

	previous := w.entries
	w.entries = make([]entry, 0, w.capacity)
	for _, post := range batch {
		src := sourceBackfill
		if _, ok := live[post.ID]; ok {
			src = sourceLive
		}
		w.insert(entry{post: post.Clone(), source: src})
	}
	return !sameEntries(previous, w.entries)
}

func (w *Window) insert(e entry) bool {
	pos := len(w.entries)
	for i := range w.entries {
		if goesBefore(e, w.entries[i]) {
			pos = i
			break
		}
	}
	if pos >= w.capacity {
		return false
	}
	w.entries = slices.Insert(w.entries, pos, e)
	if len(w.entries) > w.capacity {
		w.entries = w.entries[:w.capacity]
	}
	return true
}

// goesBefore decides whether a newcomer sorts ahead of an existing entry.
func goesBefore(newcomer, existing entry) bool {
	a, b := newcomer.post.CreatedAt, existing.post.CreatedAt
	if !a.Equal(b) {
		return a.After(b)
	}
	// Ties: a live newcomer beats both backfill and earlier live arrivals. A
	// backfill newcomer goes behind everything tied with it, which keeps the
	// server's order within a batch.
	return newcomer.source == sourceLive
}

func (w *Window) indexOf(id string) int {
	for i, e := range w.entries {
		if e.post.ID == id {
			return i
		}
	}
	return -1
}

func sameEntries(a, b []entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].source != b[i].source || !samePost(a[i].post, b[i].post) {
			return false
		}
	}
	return true
}

func samePost(a, b models.Post) bool {
	return a.ID == b.ID &&
		a.Owner == b.Owner &&
		a.OwnerID == b.OwnerID &&
		a.Handle == b.Handle &&
		a.Title == b.Title &&
		a.Note == b.Note &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		slices.Equal(a.Tags, b.Tags) &&
		slices.Equal(a.URLs, b.URLs) &&
		slices.Equal(a.AttachmentRefs, b.AttachmentRefs)
}
