// package formatter renders runs, changes, and playlist blocks as plain text, Markdown, and CSV
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
)

// Format is an export format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
)

// ParseFormat accepts "text"/"txt", "markdown"/"md", and "csv".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatCSV:
		return ".csv"
	}
	return ".txt"
}

// FormatAttributes renders enrichment as "1994 · nl · soul, pop", omitting unknown parts.
func FormatAttributes(a models.Attributes) string {
	var parts []string
	if a.Year != nil {
		parts = append(parts, strconv.Itoa(*a.Year))
	}
	if a.Language != "" {
		parts = append(parts, string(a.Language))
	}
	if len(a.Genres) > 0 {
		parts = append(parts, strings.ReplaceAll(models.JoinGenres(a.Genres), ",", ", "))
	}
	return strings.Join(parts, " · ")
}

func approvalMark(t lifecycle.TrackSummary) string {
	if t.Approved {
		return "x"
	}
	return " "
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}

// RunToText renders a run summary for the terminal.
func RunToText(s *lifecycle.RunSummary) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Run #%d (%s) for %s\n", s.Sequence, s.Status, s.PlaylistKey)
	fmt.Fprintf(&buf, "ID: %s\n", s.RunID)
	fmt.Fprintf(&buf, "Created: %s\n", formatTime(s.CreatedAt))
	if s.ExecutedAt != nil {
		fmt.Fprintf(&buf, "Committed: %s\n", formatTime(*s.ExecutedAt))
	}
	if s.Degraded {
		buf.WriteString("Degraded: suggestions unavailable, candidates came from search\n")
	}
	if s.SyncFailed {
		fmt.Fprintf(&buf, "Last commit failed: %s\n", s.LastError)
	}

	fmt.Fprintf(&buf, "\nRemoving block %d (%d tracks)\n", s.RemovedBlockIndex, len(s.RemovedTracks))
	for _, t := range s.RemovedTracks {
		fmt.Fprintf(&buf, "  - %s - %s\n", t.Artist, t.Title)
	}

	fmt.Fprintf(&buf, "\nAdding block %d (%d tracks, %d pending)\n", s.AddedBlockIndex, len(s.AddedTracks), s.PendingApprovals)
	for i, t := range s.AddedTracks {
		fmt.Fprintf(&buf, "  %d. [%s] %s - %s", i+1, approvalMark(t), t.Artist, t.Title)
		if attrs := FormatAttributes(t.Attributes); attrs != "" {
			fmt.Fprintf(&buf, " (%s)", attrs)
		}
		buf.WriteString("\n")
		if t.Rationale != "" {
			fmt.Fprintf(&buf, "     %s\n", t.Rationale)
		}
	}

	if len(s.Warnings) > 0 {
		buf.WriteString("\nWarnings:\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&buf, "  ! %s\n", w.Message)
		}
	}

	return buf.Bytes(), nil
}

// RunToMarkdown renders a run summary as a Markdown review document.
func RunToMarkdown(s *lifecycle.RunSummary) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s: run #%d\n\n", s.PlaylistKey, s.Sequence)
	fmt.Fprintf(&buf, "**Status**: %s\n", s.Status)
	fmt.Fprintf(&buf, "**Created**: %s\n", formatTime(s.CreatedAt))
	if s.ExecutedAt != nil {
		fmt.Fprintf(&buf, "**Committed**: %s\n", formatTime(*s.ExecutedAt))
	}
	if s.Degraded {
		buf.WriteString("**Degraded**: yes\n")
	}
	if s.SyncFailed {
		fmt.Fprintf(&buf, "**Last error**: %s\n", s.LastError)
	}
	buf.WriteString("\n")

	fmt.Fprintf(&buf, "## Removed (block %d)\n\n", s.RemovedBlockIndex)
	for _, t := range s.RemovedTracks {
		fmt.Fprintf(&buf, "- %s - %s\n", t.Artist, t.Title)
	}

	fmt.Fprintf(&buf, "\n## Added (block %d)\n\n", s.AddedBlockIndex)
	buf.WriteString("| # | Approved | Artist | Title | Attributes | Rationale |\n")
	buf.WriteString("|---|----------|--------|-------|------------|-----------|\n")
	for i, t := range s.AddedTracks {
		fmt.Fprintf(&buf, "| %d | [%s] | %s | %s | %s | %s |\n",
			i+1, approvalMark(t), escapeCell(t.Artist), escapeCell(t.Title),
			escapeCell(FormatAttributes(t.Attributes)), escapeCell(t.Rationale))
	}

	if len(s.Warnings) > 0 {
		buf.WriteString("\n## Warnings\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&buf, "- `%s` %s\n", w.Rule, w.Message)
		}
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ChangesToCSV converts run changes to CSV with columns:
// ID, Type, TrackID, Artist, Title, Year, Language, Genres, Block, Position, AISuggested, Approved, Rationale
func ChangesToCSV(changes []models.RunChange) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{
		"ID", "Type", "TrackID", "Artist", "Title", "Year", "Language", "Genres",
		"Block", "Position", "AISuggested", "Approved", "Rationale",
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, c := range changes {
		year := ""
		if c.Attributes.Year != nil {
			year = strconv.Itoa(*c.Attributes.Year)
		}
		record := []string{
			c.ID,
			string(c.Type),
			c.TrackID,
			c.Artist,
			c.Title,
			year,
			string(c.Attributes.Language),
			models.JoinGenres(c.Attributes.Genres),
			strconv.Itoa(c.BlockIndex),
			strconv.Itoa(c.Position),
			strconv.FormatBool(c.AISuggested),
			strconv.FormatBool(c.Approved),
			c.Rationale,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// BlocksToText renders a playlist's active blocks, oldest first.
func BlocksToText(p *models.Playlist, blocks []models.Block) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s (%s)\n", p.Name, p.Key)
	if p.Vibe != "" {
		fmt.Fprintf(&buf, "Vibe: %s\n", p.Vibe)
	}
	if p.ExternalRef != "" {
		fmt.Fprintf(&buf, "External: %s\n", p.ExternalRef)
	}
	if p.Schedule != "" {
		fmt.Fprintf(&buf, "Schedule: %s (auto-commit: %t)\n", p.Schedule, p.AutoCommit)
	}
	fmt.Fprintf(&buf, "Active blocks: %d\n", len(blocks))

	for _, b := range blocks {
		fmt.Fprintf(&buf, "\nBlock %d, added %s\n", b.Index, b.CreatedAt.UTC().Format("2006-01-02"))
		for _, t := range b.Tracks {
			fmt.Fprintf(&buf, "  %d. %s - %s", t.Position+1, t.Artist, t.Title)
			if attrs := FormatAttributes(t.Attributes); attrs != "" {
				fmt.Fprintf(&buf, " (%s)", attrs)
			}
			buf.WriteString("\n")
		}
	}

	return buf.Bytes(), nil
}

// RenderRun renders a run in the given format. CSV covers changes only.
func RenderRun(f Format, s *lifecycle.RunSummary, changes []models.RunChange) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return RunToMarkdown(s)
	case FormatCSV:
		return ChangesToCSV(changes)
	case FormatText:
		return RunToText(s)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
}

// WriteRunExport renders a run and writes it to path.
//
// Defaults to run_{sequence}{ext} in the working directory.
func WriteRunExport(f Format, s *lifecycle.RunSummary, changes []models.RunChange, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("run_%d%s", s.Sequence, f.Extension())
	}

	data, err := RenderRun(f, s, changes)
	if err != nil {
		return "", fmt.Errorf("failed to render run: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
