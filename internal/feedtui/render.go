package feedtui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"

	"github.com/tOgg1/yfeed/internal/models"
)

const (
	bodyIndent   = "  "
	defaultWidth = 80
	minWidth     = 20
)

// RelativeTime renders t relative to now: "now" inside the first minute,
// then "3 minutes ago", "2 hours ago" and so on.
func RelativeTime(t, now time.Time) string {
	if now.Sub(t) < time.Minute {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// RenderPlain writes posts as uncolored text wrapped to width.
func RenderPlain(w io.Writer, posts []models.Post, now time.Time, width int) error {
	for i, post := range posts {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		for _, line := range postLines(post, now, width, nil) {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// postLines lays out one post. st may be nil for plain output.
func postLines(post models.Post, now time.Time, width int, st *styles) []string {
	if width <= 0 {
		width = defaultWidth
	}
	width = max(width, minWidth)

	paint := func(style func(styles) lipgloss.Style, text string) string {
		if st == nil {
			return text
		}
		return style(*st).Render(text)
	}

	author := "anonymous"
	if name := post.DisplayName(); name != "" {
		author = "@" + name
	}
	ownerStyle := func(s styles) lipgloss.Style { return s.owner(post.DisplayName()) }
	lines := []string{
		paint(ownerStyle, author) + "  " + paint(func(s styles) lipgloss.Style { return s.muted }, RelativeTime(post.CreatedAt, now)),
	}

	inner := width - len(bodyIndent)
	if title := strings.TrimSpace(post.Title); title != "" {
		for _, l := range wrap(title, inner) {
			lines = append(lines, bodyIndent+paint(func(s styles) lipgloss.Style { return s.title }, l))
		}
	}
	for _, l := range wrap(post.Note, inner) {
		lines = append(lines, bodyIndent+paint(func(s styles) lipgloss.Style { return s.body }, l))
	}
	if len(post.Tags) > 0 {
		tags := make([]string, 0, len(post.Tags))
		for _, tag := range post.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, "#"+tag)
			}
		}
		if len(tags) > 0 {
			for _, l := range wrap(strings.Join(tags, " "), inner) {
				lines = append(lines, bodyIndent+paint(func(s styles) lipgloss.Style { return s.tag }, l))
			}
		}
	}
	for _, u := range post.URLs {
		if u = strings.TrimSpace(u); u != "" {
			lines = append(lines, bodyIndent+paint(func(s styles) lipgloss.Style { return s.link }, u))
		}
	}
	if n := len(post.AttachmentRefs); n > 0 {
		lines = append(lines, bodyIndent+paint(func(s styles) lipgloss.Style { return s.muted }, fmt.Sprintf("[%d attachment%s]", n, plural(n))))
	}
	return lines
}

func wrap(text string, width int) []string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(wordwrap.String(text, width), "\n")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
