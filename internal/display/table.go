package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Horizontal string
	Vertical   string
	Cross      string
}

var (
	ASCIIBorderStyle   = BorderStyle{Horizontal: "-", Vertical: "|", Cross: "+"}
	RoundedBorderStyle = BorderStyle{Horizontal: "─", Vertical: "│", Cross: "┼"}
)

// Table renders rows as aligned, bordered columns
type Table struct {
	headers  []string
	rows     [][]string
	align    map[int]Alignment
	border   BorderStyle
	maxWidth int
	colors   *ColorSystem
}

// NewTable creates a table. maxWidth of 0 uses the terminal width.
func NewTable(colors *ColorSystem, headers ...string) *Table {
	return &Table{
		headers: headers,
		align:   make(map[int]Alignment),
		border:  ASCIIBorderStyle,
		colors:  colors,
	}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) SetAlignment(column int, a Alignment) {
	t.align[column] = a
}

func (t *Table) SetBorder(b BorderStyle) {
	t.border = b
}

func (t *Table) SetMaxWidth(w int) {
	t.maxWidth = w
}

// Len returns the number of data rows
func (t *Table) Len() int { return len(t.rows) }

// Render returns the table as a string
func (t *Table) Render() string {
	widths := t.widths()
	var b strings.Builder
	sep := t.separator(widths)

	b.WriteString(sep)
	b.WriteString(t.line(t.headers, widths, true))
	b.WriteString(sep)
	for _, row := range t.rows {
		b.WriteString(t.line(row, widths, false))
	}
	b.WriteString(sep)
	return b.String()
}

func (t *Table) RenderTo(w io.Writer) error {
	_, err := io.WriteString(w, t.Render())
	return err
}

func (t *Table) columns() int {
	n := len(t.headers)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

func (t *Table) widths() []int {
	widths := make([]int, t.columns())
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, r := range t.rows {
		measure(r)
	}

	limit := t.maxWidth
	if limit == 0 {
		limit = terminalWidth()
	}
	// shrink the widest column until the table fits
	for total(widths) > limit {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
	}
	return widths
}

// total is the rendered width including borders and one space of padding
func total(widths []int) int {
	n := 1
	for _, w := range widths {
		n += w + 3
	}
	return n
}

func (t *Table) separator(widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Cross)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Cross)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) line(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		cell = fit(cell, w)
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header && t.colors != nil {
			cell = t.colors.Colorize(cell, ColorBold)
		}
		b.WriteString(" ")
		if t.align[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

// fit truncates s to width runes, marking the cut with "..."
func fit(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	return width
}
