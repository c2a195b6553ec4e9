// Package ui renders uploader output for the terminal.
//
// Styles degrade to plain text when stdout is not a terminal or NO_COLOR is
// set, so piped output and log files stay free of escape codes.
package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/fsmweb/uploader/internal/queue"
	"github.com/fsmweb/uploader/internal/session"
)

// Palette
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#8BC34A"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB300"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	HeaderStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "!"
	IconFail = "✗"
	IconHold = "…"
	IconInfo = "•"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor honours NO_COLOR and CLICOLOR_FORCE before falling back to
// terminal detection.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderHeader(s string) string { return HeaderStyle.Render(s) }

// FormatSizes renders queue occupancy, e.g. "upload 3 pending, 1 held".
func FormatSizes(name string, s queue.Sizes) string {
	return fmt.Sprintf("%s %d pending, %d held", name, s.Pending, s.Held)
}

// FormatEvent renders one session event as a single line. Queue events
// return the empty string; callers show them through a status line instead.
func FormatEvent(ev session.Event) string {
	stamp := RenderMuted(ev.Time.Format(time.TimeOnly))
	name := filepath.Base(ev.Path)

	var line string
	switch ev.Kind {
	case session.EventConnected:
		line = RenderPass(IconPass) + " " + ev.Message
	case session.EventUploaded:
		line = RenderPass(IconPass) + " Uploaded " + RenderAccent(name)
	case session.EventCopied:
		line = RenderPass(IconPass) + " Copied " + RenderAccent(name)
	case session.EventKeepalive:
		line = RenderMuted(IconInfo + " Sent keepalive")
	case session.EventHeld:
		line = RenderWarn(IconHold) + " Holding " + RenderAccent(name) + RenderMuted(" until its release time")
	case session.EventWarning:
		line = RenderWarn(IconWarn) + " " + ev.Message
	case session.EventFatal:
		line = RenderFail(IconFail+" "+ev.Message)
	case session.EventStopping:
		line = RenderMuted(IconInfo+" "+ev.Message) + " " + FormatSizes("upload", ev.Upload)
	case session.EventSnapshotWritten:
		line = RenderPass(IconPass) + " Snapshot written to " + ev.Path
	case session.EventStopped:
		line = RenderMuted(IconInfo + " Stopped")
	default:
		return ""
	}
	return stamp + " " + line
}

// ReadPassword prompts on stderr and reads a password without echo.
func ReadPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for password: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
