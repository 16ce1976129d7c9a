package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTOML  = "toml"
)

func formats() []string {
	return []string{formatTable, formatJSON, formatYAML, formatTOML}
}

func validFormat(f string) bool {
	return slices.Contains(formats(), f)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// printer renders command results either as a table or as a structured
// document.
type printer struct {
	w      io.Writer
	format string
	styled bool
}

func newPrinter(w io.Writer, format string) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &printer{w: w, format: format, styled: styled}
}

func (p *printer) structured() bool {
	return p.format != formatTable
}

// emit writes v in the structured formats, or headers and rows as a table.
func (p *printer) emit(v any, headers []string, rows [][]string) error {
	if p.structured() {
		return p.encode(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, "(none)")
		return err
	}
	_, err := fmt.Fprintln(p.w, p.table(headers, rows))
	return err
}

// message writes a one-line confirmation in table mode and v otherwise.
func (p *printer) message(v any, format string, args ...any) error {
	if p.structured() {
		return p.encode(v)
	}
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}

// title writes a heading in table mode only.
func (p *printer) title(text string) {
	if p.structured() {
		return
	}
	if p.styled {
		text = titleStyle.Render(text)
	}
	fmt.Fprintln(p.w, text)
}

func (p *printer) table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	if p.styled {
		t = t.StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	} else {
		t = t.StyleFunc(func(int, int) lipgloss.Style { return cellStyle })
	}
	return t.String()
}

func (p *printer) encode(v any) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		doc, err := normalize(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case formatTOML:
		doc, err := normalize(v)
		if err != nil {
			return err
		}
		// TOML documents must be tables.
		if _, ok := doc.(map[string]any); !ok {
			doc = map[string]any{"items": doc}
		}
		return toml.NewEncoder(p.w).Encode(doc)
	default:
		return fmt.Errorf("unsupported output format %q", p.format)
	}
}

// normalize re-decodes v through its JSON form so that every format shares
// the same field names, drops nulls and keeps integral numbers integral.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return clean(out), nil
}

func clean(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			if item == nil {
				delete(t, k)
				continue
			}
			t[k] = clean(item)
		}
		return t
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item != nil {
				out = append(out, clean(item))
			}
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return t.String()
	default:
		return t
	}
}
