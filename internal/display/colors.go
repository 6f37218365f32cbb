// Package display renders command output for terminals and scripts.
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a terminal color
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorWhite
	ColorBold
)

// ColorTheme maps message roles to colors
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBlue,
		Success: ColorGreen,
		Warning: ColorYellow,
		Error:   ColorRed,
		Info:    ColorCyan,
		Muted:   ColorWhite,
	}
}

// PlainTextTheme uses no colors
func PlainTextTheme() ColorTheme {
	return ColorTheme{}
}

// ColorSystem applies colors when the output supports them
type ColorSystem struct {
	theme   ColorTheme
	enabled bool
	colors  map[Color]*color.Color
}

// NewColorSystem detects color support for w
func NewColorSystem(w io.Writer, theme ColorTheme) *ColorSystem {
	return newColorSystem(theme, detectColorSupport(w))
}

func newColorSystem(theme ColorTheme, enabled bool) *ColorSystem {
	cs := &ColorSystem{
		theme:   theme,
		enabled: enabled,
		colors: map[Color]*color.Color{
			ColorRed:    color.New(color.FgRed),
			ColorGreen:  color.New(color.FgGreen),
			ColorYellow: color.New(color.FgYellow),
			ColorBlue:   color.New(color.FgBlue),
			ColorCyan:   color.New(color.FgCyan),
			ColorWhite:  color.New(color.FgWhite),
			ColorBold:   color.New(color.Bold),
		},
	}
	for _, c := range cs.colors {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return cs
}

// detectColorSupport reports whether w is a color-capable terminal
func detectColorSupport(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return termenv.NewOutput(f).ColorProfile() != termenv.Ascii
}

func (cs *ColorSystem) Enabled() bool { return cs.enabled }

func (cs *ColorSystem) Theme() ColorTheme { return cs.theme }

// Colorize wraps text in clr when colors are enabled
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.enabled || clr == ColorReset {
		return text
	}
	if c, ok := cs.colors[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}
