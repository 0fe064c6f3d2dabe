package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Format selects how a report table is rendered.
type Format string

// Supported formats.
const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// FormatFor picks a format from a file extension; unknown extensions get text.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".md", ".markdown":
		return FormatMarkdown
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatText
	}
}

// Write renders the full report to path in the format implied by its
// extension.
func (r *Report) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := r.Render(f, FormatFor(path)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}

// Render writes every entry as one table row, followed by the
// per-destination totals and the discovery counts in the same format.
func (r *Report) Render(w io.Writer, format Format) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "URL", "Provenance", "Destination", "Outcome", "Attempts", "Detail"})
	for _, e := range r.Entries() {
		t.AppendRow(table.Row{e.Seq + 1, e.URL, e.Provenance, e.Destination, string(e.Outcome), e.Attempts, e.Detail})
	}
	if format == FormatText {
		t.SetStyle(table.StyleLight)
		t.AppendFooter(table.Row{"", "Total", "", "", "", len(r.Entries()), ""})
	}
	if err := writeTable(w, t, format); err != nil {
		return err
	}

	summary := r.summaryTable()
	discovery := table.NewWriter()
	discovery.AppendHeader(table.Row{"Discovery", "Count"})
	discovery.AppendRow(table.Row{"invalid URLs", r.Invalid()})
	discovery.AppendRow(table.Row{"anomalies", len(r.Anomalies())})
	for _, next := range []table.Writer{summary, discovery} {
		if format == FormatText {
			next.SetStyle(table.StyleLight)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		if err := writeTable(w, next, format); err != nil {
			return err
		}
	}
	return nil
}

// RenderSummary writes per-destination totals, one column per outcome.
func (r *Report) RenderSummary(w io.Writer, color bool) error {
	t := r.summaryTable()
	style := table.StyleRounded
	if !color {
		style.Color = table.ColorOptions{}
		style.Format.Header = text.FormatDefault
	} else {
		style.Color.Header = text.Colors{text.Bold}
	}
	t.SetStyle(style)
	if err := writeTable(w, t, FormatText); err != nil {
		return err
	}
	if n := r.Invalid(); n > 0 {
		if _, err := fmt.Fprintf(w, "%d invalid URLs dropped\n", n); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if anomalies := r.Anomalies(); len(anomalies) > 0 {
		if _, err := fmt.Fprintf(w, "%d discovery anomalies:\n", len(anomalies)); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		for _, a := range anomalies {
			if _, err := fmt.Fprintf(w, "  %s\n", a); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
	}
	return nil
}

func (r *Report) summaryTable() table.Writer {
	t := table.NewWriter()
	header := table.Row{"Destination"}
	for _, o := range Outcomes {
		header = append(header, string(o))
	}
	header = append(header, "Total")
	t.AppendHeader(header)
	for _, s := range r.Summaries() {
		row := table.Row{s.Destination}
		for _, o := range Outcomes {
			row = append(row, s.Counts[o])
		}
		row = append(row, s.Total)
		t.AppendRow(row)
	}
	return t
}

func writeTable(w io.Writer, t table.Writer, format Format) error {
	var out string
	switch format {
	case FormatCSV:
		out = t.RenderCSV()
	case FormatMarkdown:
		out = t.RenderMarkdown()
	case FormatHTML:
		out = t.RenderHTML()
	default:
		out = t.Render()
	}
	if _, err := io.WriteString(w, out+"\n"); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
