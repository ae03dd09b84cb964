// Package presentation renders command output as JSON or styled text.
package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Format selects how a Formatter renders values.
type Format string

const (
	FormatJSON  Format = "json"
	FormatLines Format = "jsonl" // one compact JSON document per line
	FormatText  Format = "text"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatLines, FormatText:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q (want json, jsonl or text)", ErrUnknownFormat, s)
	}
}

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format Format
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, format Format) *Formatter {
	if format == "" {
		format = FormatJSON
	}
	return &Formatter{writer: writer, format: format}
}

// FormatResults writes resolution results.
func (f *Formatter) FormatResults(results []ResultDTO) error {
	switch f.format {
	case FormatText:
		for _, r := range results {
			f.textResult(r)
		}
		return nil
	case FormatLines:
		return encodeLines(f.writer, results)
	default:
		return f.encode(results)
	}
}

// FormatResult writes a single result. JSON formats emit it on one line so
// a stream of results stays line delimited.
func (f *Formatter) FormatResult(result ResultDTO) error {
	if f.format == FormatText {
		f.textResult(result)
		return nil
	}
	return json.NewEncoder(f.writer).Encode(result)
}

func (f *Formatter) textResult(r ResultDTO) {
	via := matchStyle(r.MatchedVia).Render(fmt.Sprintf("[%s]", r.MatchedVia))
	switch {
	case r.Error != "":
		fmt.Fprintf(f.writer, "%s %s/%s %s\n", failStyle.Render("✗"), r.Provider, r.ID, r.Error)
		return
	case r.ClassName != "":
		fmt.Fprintf(f.writer, "%s %s/%s → %s.%s %s %.2f\n",
			okStyle.Render("✓"), r.Provider, r.ID,
			moduleStyle.Render(r.ModulePath), headingStyle.Render(r.ClassName), via, r.Confidence)
	default:
		fmt.Fprintf(f.writer, "%s %s/%s %s\n", failStyle.Render("✗"), r.Provider, r.ID, via)
	}
	for _, s := range r.Suggestions {
		fmt.Fprintln(f.writer, mutedStyle.Render(fmt.Sprintf("    ? %s.%s (%.2f)", s.ModulePath, s.ClassName, s.Score)))
	}
}

// FormatCategories writes discovered categories.
func (f *Formatter) FormatCategories(categories []CategoryDTO) error {
	switch f.format {
	case FormatText:
		for _, c := range categories {
			fmt.Fprintf(f.writer, "%s %s %s\n",
				headingStyle.Render(c.Provider+"/"+c.Name),
				moduleStyle.Render(c.Module),
				mutedStyle.Render(fmt.Sprintf("(%d)", len(c.Classes))))
			for _, class := range c.Classes {
				if class.AliasOf != "" {
					fmt.Fprintf(f.writer, "    %s %s\n", class.Name, mutedStyle.Render("= "+class.AliasOf))
					continue
				}
				fmt.Fprintf(f.writer, "    %s\n", class.Name)
			}
		}
		return nil
	case FormatLines:
		return encodeLines(f.writer, categories)
	default:
		return f.encode(categories)
	}
}

// FormatCatalogReports writes catalog validation reports.
func (f *Formatter) FormatCatalogReports(reports []CatalogReportDTO) error {
	switch f.format {
	case FormatText:
		for _, r := range reports {
			switch {
			case r.Valid:
				fmt.Fprintf(f.writer, "%s %s %s\n", okStyle.Render("✓"), r.Provider,
					mutedStyle.Render(fmt.Sprintf("%s, %d entries", r.Source, r.Entries)))
			case r.Error != "":
				fmt.Fprintf(f.writer, "%s %s %s\n", failStyle.Render("✗"), r.Provider, r.Error)
			default:
				fmt.Fprintf(f.writer, "%s %s %s\n", failStyle.Render("✗"), r.Provider,
					mutedStyle.Render(fmt.Sprintf("%s, %d problem(s)", r.Source, len(r.Problems))))
				for _, p := range r.Problems {
					fmt.Fprintf(f.writer, "    %s\n", p.String())
				}
			}
		}
		return nil
	case FormatLines:
		return encodeLines(f.writer, reports)
	default:
		return f.encode(reports)
	}
}

// FormatSnapshots writes stored snapshots.
func (f *Formatter) FormatSnapshots(snapshots []SnapshotDTO) error {
	switch f.format {
	case FormatText:
		for _, s := range snapshots {
			fmt.Fprintf(f.writer, "%s %s %s %s\n",
				headingStyle.Render(s.GUID), s.Library, s.Version,
				mutedStyle.Render(s.CreatedAt.Format("2006-01-02 15:04:05")))
		}
		return nil
	case FormatLines:
		return encodeLines(f.writer, snapshots)
	default:
		return f.encode(snapshots)
	}
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func encodeLines[T any](w io.Writer, items []T) error {
	encoder := json.NewEncoder(w)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (p ProblemDTO) String() string {
	var b strings.Builder
	if p.Index >= 0 {
		fmt.Fprintf(&b, "node %d", p.Index)
		if p.NodeID != "" {
			fmt.Fprintf(&b, " (%s)", p.NodeID)
		}
		b.WriteString(": ")
	}
	if p.Field != "" {
		fmt.Fprintf(&b, "%s: ", p.Field)
	}
	b.WriteString(p.Message)
	return b.String()
}
