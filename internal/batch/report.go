package batch

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// maxReportedErrors bounds the itemized error list in Render.
const maxReportedErrors = 5

// Render writes a human-readable summary: a totals table followed by the
// itemized lists.
func (s *Summary) Render(w io.Writer, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	if title != "" {
		tbl.SetTitle(title)
	}
	tbl.AppendHeader(table.Row{"Crawled", "Added", "Updated", "Skipped", "Errors"})
	tbl.AppendRow(table.Row{s.Crawled, s.Added, s.Updated, s.Skipped, s.Errors})

	var b strings.Builder
	b.WriteString(tbl.Render())
	b.WriteString("\n")
	writeList(&b, "Added", s.Details.Added)
	writeList(&b, "Updated", s.Details.Updated)
	writeList(&b, "Skipped", s.Details.Skipped)
	if len(s.Details.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", len(s.Details.Errors))
		for i, e := range s.Details.Errors {
			if i == maxReportedErrors {
				fmt.Fprintf(&b, "  ... and %d more\n", len(s.Details.Errors)-maxReportedErrors)
				break
			}
			fmt.Fprintf(&b, "  - %s: %s\n", e.Name, e.Error)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func writeList(b *strings.Builder, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d):\n", label, len(names))
	for _, n := range names {
		fmt.Fprintf(b, "  - %s\n", n)
	}
}
