package formatter

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/cmdarr/internal/models"
)

// DefaultPalette is used by the CLI. Colours drop out when stdout is not a terminal.
var DefaultPalette = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
}

func NewPalette(t, s, e, w, m string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		muted: NewEm(m),
	}
}

// PlainPalette renders every string unchanged.
func PlainPalette() *Palette {
	plain := lipgloss.NewStyle()
	return &Palette{title: plain, ok: plain, err: plain, warn: plain, muted: plain}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Muted(s string) string { return p.muted.Render(s) }

// Status colours an execution status: green for completed, red for failed and
// timeout, orange while in flight, grey for cancelled.
func (p *Palette) Status(s models.ExecutionStatus) string {
	switch s {
	case models.StatusCompleted:
		return p.OK(string(s))
	case models.StatusFailed, models.StatusTimeout:
		return p.Err(string(s))
	case models.StatusRunning, models.StatusPending:
		return p.Warn(string(s))
	default:
		return p.Muted(string(s))
	}
}
