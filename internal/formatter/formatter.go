// package formatter renders job listings as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
)

// Format names an output format accepted by [Write].
type Format string

const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or its common short form.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt", "table":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Elapsed returns how long a job ran, or has been running as of now.
func Elapsed(j models.Job, now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt).Round(time.Second)
}

// JobsToCSV renders jobs with columns: ID, Kind, Resource, State, Progress, Stage, Error, Created
func JobsToCSV(jobs []models.Job) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Kind", "Resource", "State", "Progress", "Stage", "Error", "Created"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, j := range jobs {
		record := []string{
			j.ID,
			j.Kind.String(),
			j.ResourceKey,
			j.State.String(),
			strconv.Itoa(j.Progress),
			j.Stage,
			j.Error,
			j.CreatedAt.UTC().Format(time.RFC3339),
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

// JobsToMarkdown renders jobs as a Markdown table under a heading.
func JobsToMarkdown(jobs []models.Job, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Jobs\n\n")
	if len(jobs) == 0 {
		buf.WriteString("_No jobs._\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| ID | Kind | Resource | State | Progress | Elapsed | Detail |\n")
	buf.WriteString("|----|------|----------|-------|---------:|--------:|--------|\n")
	for _, j := range jobs {
		fmt.Fprintf(&buf, "| %s | %s | %s | %s | %d%% | %s | %s |\n",
			j.ID, j.Kind, j.ResourceKey, j.State, j.Progress, Elapsed(j, now), markdownEscape(detail(j)))
	}
	return buf.Bytes(), nil
}

func markdownEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// detail is the error for failed jobs and the stage otherwise.
func detail(j models.Job) string {
	if j.Error != "" {
		return j.Error
	}
	return j.Stage
}

// JobsToText renders an aligned plain text table.
func JobsToText(jobs []models.Job, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if len(jobs) == 0 {
		buf.WriteString("No jobs.\n")
		return buf.Bytes(), nil
	}

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tRESOURCE\tSTATE\tPROGRESS\tELAPSED\tDETAIL")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\n",
			j.ID, j.Kind, j.ResourceKey, j.State, j.Progress, Elapsed(j, now), detail(j))
	}
	if err := tw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return buf.Bytes(), nil
}

// Render produces jobs in format f.
func Render(f Format, jobs []models.Job, now time.Time) ([]byte, error) {
	switch f {
	case FormatCSV:
		return JobsToCSV(jobs)
	case FormatMarkdown:
		return JobsToMarkdown(jobs, now)
	case FormatJSON:
		if jobs == nil {
			jobs = []models.Job{}
		}
		data, err := shared.MarshalJSON(jobs, true)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return JobsToText(jobs, now)
	}
}

// Write renders jobs in format f to w.
func Write(w io.Writer, f Format, jobs []models.Job, now time.Time) error {
	data, err := Render(f, jobs, now)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
