package status

import (
	"strings"

	"chainrig/internal/chain"
	"chainrig/internal/controller"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	colorPlaying = lipgloss.Color("#8BC34A")
	colorStaged  = lipgloss.Color("#FFC107")
	colorMuted   = lipgloss.Color("#6b7785")
	colorTitle   = lipgloss.Color("#2196F3")
	colorBorder  = lipgloss.Color("#2a3850")
)

// Styles holds every style the status views use.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Current lipgloss.Style
	Next    lipgloss.Style
	Empty   lipgloss.Style
	Box     lipgloss.Style
	Help    lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTitle),
		Label:   lipgloss.NewStyle().Foreground(colorMuted),
		Current: lipgloss.NewStyle().Bold(true).Foreground(colorPlaying),
		Next:    lipgloss.NewStyle().Foreground(colorStaged),
		Empty:   lipgloss.NewStyle().Faint(true).Foreground(colorMuted),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		Help: lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// PlainStyles renders without any escape codes. Used for logs and tests.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Title: s, Label: s, Current: s, Next: s, Empty: s, Box: s, Help: s}
}

func orNone(st Styles, style lipgloss.Style, name string) string {
	if name == "" {
		return st.Empty.Render("-")
	}
	return style.Render(name)
}

// RenderPair renders "now: A  next: B".
func RenderPair(st Styles, snap controller.Snapshot) string {
	return st.Label.Render("now:") + " " + orNone(st, st.Current, snap.Current) +
		"  " + st.Label.Render("next:") + " " + orNone(st, st.Next, snap.Next)
}

// RenderChain renders one chain as "name [saw gain left]" with a marker for
// its role in the pair.
func RenderChain(st Styles, c chain.Status, snap controller.Snapshot) string {
	roles := make([]string, len(c.Roles))
	for i, r := range c.Roles {
		roles[i] = string(r)
	}
	marker, style := "  ", st.Label
	switch c.Name {
	case snap.Current:
		marker, style = "▶ ", st.Current
	case snap.Next:
		marker, style = "» ", st.Next
	}
	return marker + style.Render(c.Name) + " " + st.Label.Render("["+strings.Join(roles, " ")+"]")
}
