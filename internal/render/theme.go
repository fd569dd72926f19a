package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// podPalette cycles across the pods of a deployment view.
var podPalette = []lipgloss.Color{
	"#1E88E5", // blue
	"#43A047", // green
	"#E53935", // red
	"#FB8C00", // orange
	"#8E24AA", // purple
	"#00ACC1", // cyan
	"#F06292", // pink
	"#66BB6A", // light green
	"#FFA726", // light orange
	"#AB47BC", // light purple
}

// PodColor returns the palette colour for the pod at index i.
func PodColor(i int) lipgloss.Color {
	if i < 0 {
		i = -i
	}
	return podPalette[i%len(podPalette)]
}

// StatusColor maps a pod phase to its indicator colour.
func StatusColor(status string) lipgloss.Color {
	switch strings.ToLower(status) {
	case "running":
		return "#4CAF50"
	case "pending":
		return "#FF9800"
	case "succeeded":
		return "#2196F3"
	case "failed":
		return "#F44336"
	default:
		return "#9E9E9E"
	}
}

// Status renders a pod phase behind an indicator dot coloured by StatusColor.
func (t Theme) Status(status string) string {
	if status == "" {
		status = "Unknown"
	}
	text := "● " + status
	if t.NoColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Render(text)
}

// Theme maps segment styles to terminal styles.
type Theme struct {
	// NoColor writes segment text unchanged.
	NoColor bool

	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Debug     lipgloss.Style
	Timestamp lipgloss.Style
	Namespace lipgloss.Style
	Pod       lipgloss.Style
	JSONKey   lipgloss.Style
	String    lipgloss.Style
	Number    lipgloss.Style
	Match     lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Bold(true),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")).Bold(true),
		Info:      lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
		Debug:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		Timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		Namespace: lipgloss.NewStyle().Foreground(lipgloss.Color("#94E2D5")),
		Pod:       lipgloss.NewStyle().Foreground(lipgloss.Color("#CBA6F7")),
		JSONKey:   lipgloss.NewStyle().Foreground(lipgloss.Color("#89DCEB")),
		String:    lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		Number:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		Match: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#F9E2AF")),
	}
}

// Line renders one line for a terminal.
func (t Theme) Line(l Line) string {
	if t.NoColor {
		return l.Text()
	}
	var b strings.Builder
	for _, seg := range l {
		b.WriteString(t.segment(seg))
	}
	return b.String()
}

// Lines renders lines joined by newlines.
func (t Theme) Lines(lines []Line) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = t.Line(l)
	}
	return strings.Join(out, "\n")
}

func (t Theme) segment(seg Segment) string {
	switch seg.Style {
	case StyleLevel:
		return t.level(seg.Text).Render(seg.Text)
	case StyleTimestamp:
		return t.Timestamp.Render(seg.Text)
	case StyleNamespace:
		return t.Namespace.Render(seg.Text)
	case StylePod:
		return t.Pod.Render(seg.Text)
	case StyleJSONKey:
		return t.JSONKey.Render(seg.Text)
	case StyleString:
		return t.String.Render(seg.Text)
	case StyleNumber:
		return t.Number.Render(seg.Text)
	case StyleMatch:
		return t.Match.Render(seg.Text)
	default:
		return seg.Text
	}
}

func (t Theme) level(word string) lipgloss.Style {
	switch strings.ToLower(word) {
	case "fatal", "panic", "error", "err":
		return t.Error
	case "warn", "warning":
		return t.Warning
	case "info":
		return t.Info
	default:
		return t.Debug
	}
}
