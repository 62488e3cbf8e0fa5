// package formatter renders executions, commands and cache status as terminal tables, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/desertthunder/cmdarr/internal/library"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/schedule"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const timeLayout = "2006-01-02 15:04:05"

// Format selects an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat accepts "table", "csv" and "json". Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// FormatDuration renders d rounded to the second, or "-" when zero.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
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

func detail(e *models.Execution) string {
	if e.ErrorMessage != "" {
		if e.ErrorKind != "" {
			return fmt.Sprintf("[%s] %s", e.ErrorKind, e.ErrorMessage)
		}
		return e.ErrorMessage
	}
	return e.Summary
}

// ExecutionsTable renders executions in the order given.
func ExecutionsTable(execs []*models.Execution, p *Palette) string {
	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		rows = append(rows, []string{
			strconv.FormatInt(e.Sequence, 10),
			e.CommandID,
			p.Status(e.Status),
			e.TriggeredBy,
			formatTime(e.StartedAt),
			FormatDuration(e.Duration()),
			detail(e),
		})
	}
	return renderTable([]string{"#", "Command", "Status", "Trigger", "Started", "Took", "Detail"}, rows, 1)
}

// ExecutionsCSV encodes executions with one row each.
func ExecutionsCSV(execs []*models.Execution) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"id", "sequence", "command_id", "status", "triggered_by", "error_kind", "error_message", "summary", "created_at", "started_at", "completed_at"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	rfc := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	for _, e := range execs {
		record := []string{
			e.ID,
			strconv.FormatInt(e.Sequence, 10),
			e.CommandID,
			string(e.Status),
			e.TriggeredBy,
			string(e.ErrorKind),
			e.ErrorMessage,
			e.Summary,
			e.CreatedAt.UTC().Format(time.RFC3339),
			rfc(e.StartedAt),
			rfc(e.CompletedAt),
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

// CommandView is the listing form of a command with its next due time.
type CommandView struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Enabled  bool           `json:"enabled"`
	Cron     string         `json:"cron"`
	Timezone string         `json:"timezone"`
	NextRun  *time.Time     `json:"next_run,omitempty"`
	Timeout  string         `json:"timeout,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Commands resolves the effective schedule of each definition against the
// global defaults. Invalid schedules leave NextRun empty.
func Commands(defs []*models.CommandDefinition, defaultCron, defaultTZ string, now time.Time) []CommandView {
	out := make([]CommandView, 0, len(defs))
	for _, def := range defs {
		v := CommandView{
			ID:       def.ID,
			Kind:     string(def.Kind),
			Enabled:  def.Enabled,
			Cron:     def.EffectiveCron(defaultCron),
			Timezone: def.Timezone,
		}
		if v.Timezone == "" {
			v.Timezone = defaultTZ
		}
		if def.Timeout > 0 {
			v.Timeout = def.Timeout.String()
		}
		if len(def.Config) > 0 {
			_ = json.Unmarshal(def.Config, &v.Config)
		}
		if v.Enabled {
			if next, err := schedule.NextRun(v.Cron, v.Timezone, now); err == nil {
				v.NextRun = &next
			}
		}
		out = append(out, v)
	}
	return out
}

// CommandsTable renders command views.
func CommandsTable(views []CommandView, p *Palette) string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		enabled := p.OK("yes")
		if !v.Enabled {
			enabled = p.Muted("no")
		}
		next := "-"
		if v.NextRun != nil {
			next = v.NextRun.Format(timeLayout + " MST")
		}
		rows = append(rows, []string{v.ID, v.Kind, enabled, v.Cron, v.Timezone, next})
	}
	return renderTable([]string{"ID", "Kind", "Enabled", "Cron", "Timezone", "Next run"}, rows)
}

// CacheTable renders library snapshot status.
func CacheTable(statuses []library.TargetStatus, p *Palette) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := p.OK("fresh")
		if st.Stale {
			state = p.Warn("stale")
		}
		memory := "no"
		if st.InMemory {
			memory = "yes"
		}
		built := st.BuiltAt
		rows = append(rows, []string{
			st.TargetID,
			formatTime(&built),
			strconv.Itoa(st.TrackCount),
			FormatBytes(st.SizeBytes),
			state,
			memory,
		})
	}
	return renderTable([]string{"Target", "Built", "Tracks", "Size", "State", "In memory"}, rows, 3, 4)
}

// NextRunsTable renders upcoming due times of one cron expression.
func NextRunsTable(expr string, times []time.Time) string {
	rows := make([][]string, 0, len(times))
	for i, t := range times {
		rows = append(rows, []string{strconv.Itoa(i + 1), t.Format(time.RFC1123)})
	}
	return renderTable([]string{"#", expr}, rows, 1)
}
