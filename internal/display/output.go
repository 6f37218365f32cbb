package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how structured results are written
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format flag value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// Printer writes status lines, tables and structured values
type Printer struct {
	w      io.Writer
	format Format
	colors *ColorSystem
	quiet  bool
}

// NewPrinter creates a printer for w. Colors are detected from w.
func NewPrinter(w io.Writer, format Format) *Printer {
	theme := DarkColorTheme()
	if format != FormatTable {
		theme = PlainTextTheme()
	}
	return &Printer{w: w, format: format, colors: NewColorSystem(w, theme)}
}

// NewPlainPrinter creates a printer that never emits color codes
func NewPlainPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format, colors: newColorSystem(PlainTextTheme(), false)}
}

// SetQuiet suppresses status lines. Errors and values are still written.
func (p *Printer) SetQuiet(quiet bool) { p.quiet = quiet }

func (p *Printer) Format() Format { return p.format }

func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) Colors() *ColorSystem { return p.colors }

// Structured reports whether output is meant for machines
func (p *Printer) Structured() bool { return p.format != FormatTable }

func (p *Printer) status(symbol string, clr Color, format string, args ...interface{}) {
	if p.quiet || p.Structured() {
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.colors.Colorize(symbol, clr), fmt.Sprintf(format, args...))
}

func (p *Printer) Success(format string, args ...interface{}) {
	p.status("✓", p.colors.Theme().Success, format, args...)
}

func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("!", p.colors.Theme().Warning, format, args...)
}

func (p *Printer) Info(format string, args ...interface{}) {
	p.status("•", p.colors.Theme().Info, format, args...)
}

// Error is written even in quiet mode
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.colors.Colorize("✗", p.colors.Theme().Error), fmt.Sprintf(format, args...))
}

// Section writes an underlined heading
func (p *Printer) Section(title string) {
	if p.Structured() {
		return
	}
	fmt.Fprintf(p.w, "\n%s\n%s\n", p.colors.Colorize(title, ColorBold), strings.Repeat("=", len(title)))
}

// Field writes an aligned "label: value" line
func (p *Printer) Field(label string, value interface{}) {
	if p.Structured() {
		return
	}
	fmt.Fprintf(p.w, "  %-18s %v\n", label+":", value)
}

func (p *Printer) Println(args ...interface{}) {
	fmt.Fprintln(p.w, args...)
}

// NewTable creates a table bound to the printer's colors
func (p *Printer) NewTable(headers ...string) *Table {
	t := NewTable(p.colors, headers...)
	if p.colors.Enabled() {
		t.SetBorder(RoundedBorderStyle)
	}
	return t
}

// Table writes t. Structured formats never carry tables.
func (p *Printer) Table(t *Table) error {
	if p.Structured() {
		return nil
	}
	return t.RenderTo(p.w)
}

// Value writes v as JSON or YAML. It is a no-op for the table format.
func (p *Printer) Value(v interface{}) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return nil
}
