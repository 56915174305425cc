// Package ui renders colored terminal output for the confhub CLI.
package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorGreen  = 114
	colorYellow = 179
	colorRed    = 167
	colorPurple = 176
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return paint(colorGreen, s) }

// RenderWarn returns s in yellow.
func RenderWarn(s string) string { return paint(colorYellow, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorRed, s) }

// RenderChange colors a change type label: CREATE green, UPDATE yellow,
// ROLLBACK purple, DELETE red.
func RenderChange(changeType string) string {
	switch changeType {
	case "CREATE":
		return paint(colorGreen, changeType)
	case "UPDATE":
		return paint(colorYellow, changeType)
	case "ROLLBACK":
		return paint(colorPurple, changeType)
	case "DELETE":
		return paint(colorRed, changeType)
	}
	return changeType
}

// RenderEnabled renders a boolean as a colored yes/no.
func RenderEnabled(on bool) string {
	if on {
		return RenderOK("yes")
	}
	return RenderMuted("no")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
