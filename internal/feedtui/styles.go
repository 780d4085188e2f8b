package feedtui

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the color tokens used by the viewer.
type Theme struct {
	Name         string
	OwnerPalette []string

	Background string
	Foreground string
	Muted      string
	Accent     string
	Border     string

	Live   string
	Behind string
	Down   string
}

// DefaultTheme is tuned for dark 256-color terminals.
var DefaultTheme = Theme{
	Name:         "default",
	OwnerPalette: []string{"33", "39", "45", "69", "75", "81", "114", "141", "168", "176", "209", "214"},
	Background:   "234",
	Foreground:   "252",
	Muted:        "245",
	Accent:       "75",
	Border:       "240",
	Live:         "41",
	Behind:       "220",
	Down:         "203",
}

// HighContrastTheme favors legibility on low-quality terminals.
var HighContrastTheme = Theme{
	Name:         "high-contrast",
	OwnerPalette: []string{"51", "87", "123", "159", "195", "226", "229", "46", "118", "213", "219", "225"},
	Background:   "16",
	Foreground:   "231",
	Muted:        "250",
	Accent:       "51",
	Border:       "231",
	Live:         "46",
	Behind:       "226",
	Down:         "196",
}

// Themes lists the selectable themes by name.
var Themes = map[string]Theme{
	DefaultTheme.Name:      DefaultTheme,
	HighContrastTheme.Name: HighContrastTheme,
}

// ThemeByName resolves name, treating "" as the default theme.
func ThemeByName(name string) (Theme, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultTheme, nil
	}
	theme, ok := Themes[name]
	if !ok {
		return Theme{}, fmt.Errorf("unknown theme %q", name)
	}
	return theme, nil
}

type styles struct {
	header lipgloss.Style
	footer lipgloss.Style
	muted  lipgloss.Style
	title  lipgloss.Style
	body   lipgloss.Style
	tag    lipgloss.Style
	link   lipgloss.Style
	live   lipgloss.Style
	behind lipgloss.Style
	down   lipgloss.Style
	theme  Theme
}

func newStyles(theme Theme) styles {
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(theme.Accent)),
		footer: lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Muted)),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Muted)),
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(theme.Foreground)),
		body:   lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Foreground)),
		tag:    lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Accent)),
		link:   lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color(theme.Muted)),
		live:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(theme.Live)),
		behind: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(theme.Behind)),
		down:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(theme.Down)),
		theme:  theme,
	}
}

// owner gives each author a stable color from the palette.
func (s styles) owner(name string) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	palette := s.theme.OwnerPalette
	if len(palette) == 0 {
		return style.Foreground(lipgloss.Color(s.theme.Accent))
	}
	return style.Foreground(lipgloss.Color(palette[ownerColorIndex(name, len(palette))]))
}

func ownerColorIndex(name string, paletteLen int) int {
	if paletteLen <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return int(h.Sum32() % uint32(paletteLen))
}
