package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/timeline-go/internal/api"
)

// maxTerminalText is the width publication and comment text is cut to when
// printing to a terminal. Piped output is never truncated.
const maxTerminalText = 60

// statusf prints a status message to w unless quiet mode is set.
func statusf(w io.Writer, format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(w, format, args...)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// Layouts accepted for record timestamps. The backend omits the zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// formatTimestamp renders a record timestamp for display, or returns it
// unchanged when it cannot be parsed.
func formatTimestamp(s string) string {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return formatTime(t)
		}
	}

	return s
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// truncate cuts s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n-3]) + "..."
}

// author returns the username nested under a record's "user" field.
func author(r api.Record) string {
	switch u := r["user"].(type) {
	case api.Record:
		return u.String("username")
	case map[string]any:
		return api.Record(u).String("username")
	default:
		return ""
	}
}

// recordID returns a record's identity, or "-" for records without one.
func recordID(r api.Record) string {
	if id, ok := r.Identity(); ok {
		return id
	}

	return "-"
}

// printPublications writes publications or comments as a table.
func printPublications(w io.Writer, items []api.Record) {
	cut := isTerminal(w)

	rows := make([][]string, 0, len(items))
	for _, r := range items {
		text := r.String("text")
		if cut {
			text = truncate(text, maxTerminalText)
		}

		rows = append(rows, []string{recordID(r), author(r), formatTimestamp(r.String("createDate")), text})
	}

	printTable(w, []string{"ID", "AUTHOR", "DATE", "TEXT"}, rows)
}

// printUsers writes user records as a table.
func printUsers(w io.Writer, items []api.Record) {
	rows := make([][]string, 0, len(items))
	for _, r := range items {
		rows = append(rows, []string{recordID(r), r.String("username"), r.String("description")})
	}

	printTable(w, []string{"ID", "USERNAME", "DESCRIPTION"}, rows)
}

// printPageFooter reports the position within a paginated collection.
func printPageFooter(w io.Writer, page, totalPages int) {
	if totalPages > 1 {
		statusf(w, "\npage %d of %d\n", page+1, totalPages)
	}
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	// Compute column widths.
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last cell is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
