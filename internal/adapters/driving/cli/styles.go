package cli

import (
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

const timeFormat = "2006-01-02 15:04:05"

var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(12)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// statusStyle colours a session status.
func statusStyle(s domain.SessionStatus) lipgloss.Style {
	switch s {
	case domain.StatusCompleted:
		return okStyle
	case domain.StatusFailed:
		return errorStyle
	case domain.StatusPaused, domain.StatusStopped:
		return warnStyle
	default:
		return runningStyle
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
