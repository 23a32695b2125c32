// Package cli formats Shiori results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer with its sources. verbose adds the passages.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat, verbose bool) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	fmt.Fprintf(w, "\n%s\n", answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range answer.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	if verbose {
		fmt.Fprintln(w)
		for _, p := range answer.Passages {
			writePassage(w, p)
		}
	}
	fmt.Fprintf(w, "\n(%dms)\n", answer.QueryTime)
	return nil
}

// WriteSearchResults writes retrieved passages in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d passages in %dms\n\n", response.Total, response.QueryTime)
	for _, p := range response.Passages {
		writePassage(w, p)
	}
	return nil
}

func writePassage(w io.Writer, p *models.Passage) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s [%d:%d]\n", p.Rank, p.Score, p.SourcePath, p.Start, p.End)
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(utils.OneLine(p.Text), 200))
}

// WriteReport summarizes a build or update.
func WriteReport(w io.Writer, report *indexer.BuildReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "%s finished in %s\n", report.Kind, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  documents indexed:  %d\n", report.Indexed)
	if report.Unchanged > 0 {
		fmt.Fprintf(w, "  unchanged:          %d\n", report.Unchanged)
	}
	if report.Removed > 0 {
		fmt.Fprintf(w, "  removed:            %d\n", report.Removed)
	}
	fmt.Fprintf(w, "  chunks added:       %d\n", report.Added)
	fmt.Fprintf(w, "  chunks deleted:     %d\n", report.Deleted)
	fmt.Fprintf(w, "  chunks embedded:    %d\n", report.Embedded)
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  skipped %s: %s\n", f.Path, f.Error)
	}
	return nil
}

// WriteStatus writes the index status. records, when non-empty, are listed
// after the summary.
func WriteStatus(w io.Writer, st indexer.Status, records []*models.Record, format OutputFormat) error {
	if format == OutputJSON {
		out := struct {
			indexer.Status
			Records []*models.Record `json:"records,omitempty"`
		}{st, records}
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "State:        %s\n", st.State)
	if st.SnapshotID != "" {
		fmt.Fprintf(w, "Snapshot:     %s\n", st.SnapshotID)
	}
	fmt.Fprintf(w, "Documents:    %d\n", st.Documents)
	fmt.Fprintf(w, "Chunks:       %d\n", st.Chunks)
	fmt.Fprintf(w, "Index:        %s, %d dims, %d live, %d tombstones", st.IndexStats.Type, st.IndexStats.Dimensions, st.IndexStats.Live, st.IndexStats.Tombstones)
	if st.IndexStats.Trained {
		fmt.Fprintf(w, ", %d lists", st.IndexStats.Lists)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Disk usage:   %s\n", FormatBytes(st.DiskBytes))
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", st.LastError)
	}
	if len(records) > 0 {
		fmt.Fprintln(w, "\nRecords:")
		for _, r := range records {
			fmt.Fprintf(w, "  %s  %s [%d:%d]  %s\n", r.ChunkID, r.SourcePath, r.Start, r.End, TruncateWords(utils.OneLine(r.Text), 12))
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
