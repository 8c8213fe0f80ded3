// Package report holds the read models produced by the migrator's Status
// and Validate operations, with text rendering for humans and JSON tags
// for machines. It carries no state of its own.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aspenas/candlefish-website-sub012/internal/ledger"
)

// Pending identifies a source migration not yet recorded in the ledger.
type Pending struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
}

// Status is the applied-versus-pending view over the ledger and source.
type Status struct {
	Applied []ledger.Entry `json:"applied"`
	Pending []Pending      `json:"pending"`
	Gaps    []int64        `json:"gaps,omitempty"`
}

// Drift records an applied migration whose source checksum no longer
// matches the one recorded at apply time.
type Drift struct {
	Version  int64  `json:"version"`
	Name     string `json:"name"`
	Recorded string `json:"recorded_checksum"`
	Current  string `json:"current_checksum"`
}

// Validation is the result of an integrity check over the ledger.
type Validation struct {
	Drift         []Drift `json:"drift,omitempty"`
	MissingSource []int64 `json:"missing_source,omitempty"`
	Gaps          []int64 `json:"gaps,omitempty"`
}

// Clean reports whether validation found no errors. Gaps are warnings
// and do not affect cleanliness.
func (v *Validation) Clean() bool {
	return len(v.Drift) == 0 && len(v.MissingSource) == 0
}

// RenderText writes a human-readable status listing.
func (s *Status) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Applied: %d migration(s)\n", len(s.Applied))

	for _, e := range s.Applied {
		fmt.Fprintf(w, "  %03d_%s  applied %s  (%dms)\n",
			e.Version, e.Name, e.AppliedAt.Format(time.RFC3339), e.ExecutionTimeMs)
	}

	fmt.Fprintf(w, "Pending: %d migration(s)\n", len(s.Pending))

	for _, p := range s.Pending {
		fmt.Fprintf(w, "  %03d_%s\n", p.Version, p.Name)
	}

	renderGaps(w, s.Gaps)
}

// RenderText writes a human-readable validation summary.
func (v *Validation) RenderText(w io.Writer) {
	if v.Clean() && len(v.Gaps) == 0 {
		fmt.Fprintln(w, "Validation passed: ledger matches source.")
		return
	}

	for _, d := range v.Drift {
		fmt.Fprintf(w, "DRIFT: %03d_%s changed since it was applied\n", d.Version, d.Name)
		fmt.Fprintf(w, "  recorded: %s\n  current:  %s\n", d.Recorded, d.Current)
	}

	for _, version := range v.MissingSource {
		fmt.Fprintf(w, "MISSING: migration %03d is applied but its source file is gone\n", version)
	}

	renderGaps(w, v.Gaps)
}

func renderGaps(w io.Writer, gaps []int64) {
	if len(gaps) == 0 {
		return
	}

	fmt.Fprintf(w, "Warning: missing version(s) in sequence:")

	for _, g := range gaps {
		fmt.Fprintf(w, " %d", g)
	}

	fmt.Fprintln(w)
}

// RenderJSON writes the status as indented JSON.
func (s *Status) RenderJSON(w io.Writer) error {
	return renderJSON(w, s)
}

// RenderJSON writes the validation result as indented JSON.
func (v *Validation) RenderJSON(w io.Writer) error {
	return renderJSON(w, v)
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return nil
}
