package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette. Adaptive colors keep listings readable on light terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "25", Dark: "39"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "203"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "240"}
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	PassStyle = lipgloss.NewStyle().
			Foreground(ColorPass)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)

	FailStyle = lipgloss.NewStyle().
			Foreground(ColorFail)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

func init() {
	// Honor NO_COLOR and non-TTY output for everything lipgloss renders.
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// RenderPass renders text in the success color.
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders text in the warning color.
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders text in the failure color.
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderMuted renders dim text.
func RenderMuted(s string) string { return MutedStyle.Render(s) }
