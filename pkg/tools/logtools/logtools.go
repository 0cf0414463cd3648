// Package logtools provides the log inspection tools: structured search
// over the log-search service, a recent-entries tail, and the raw Home
// Assistant error log.
package logtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/germanamz/hearth/pkg/hass"
	"github.com/germanamz/hearth/pkg/logsearch"
	"github.com/germanamz/hearth/pkg/tools/toolbox"
)

// Tools provides the log tools backed by the log-search client and the
// Home Assistant client. A nil ha disables logs_error_log; a nil logs
// disables logs_search and logs_tail.
type Tools struct {
	logs *logsearch.Client
	ha   *hass.Client
}

// New creates the log tools.
func New(logs *logsearch.Client, ha *hass.Client) *Tools {
	return &Tools{logs: logs, ha: ha}
}

// Tools returns a ToolBox containing the log tools available with the
// configured clients.
func (t *Tools) Tools() *toolbox.ToolBox {
	tb := toolbox.New()

	if t.logs != nil {
		tb.Register(t.searchTool(), t.tailTool())
	}
	if t.ha != nil {
		tb.Register(t.errorLogTool())
	}

	return tb
}

func (t *Tools) searchTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "logs_search",
		Description: "Search the home's aggregated service logs. Filters combine with AND; omitted filters match everything. Timestamps are RFC 3339.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string","description":"Substring to match in the message"},"level":{"type":"string","description":"Minimum level: debug, info, warning, error"},"since":{"type":"string","description":"Only entries at or after this RFC 3339 timestamp"},"until":{"type":"string","description":"Only entries before this RFC 3339 timestamp"},"limit":{"type":"integer","description":"Maximum entries to return"}}}`),
		Handler:     t.handleSearch,
	}
}

func (t *Tools) tailTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "logs_tail",
		Description: "Return the most recent log entries across all sources.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","description":"Maximum entries to return (default 50)"}}}`),
		Handler:     t.handleTail,
	}
}

func (t *Tools) errorLogTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "logs_error_log",
		Description: "Return the raw Home Assistant error log as plain text.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     t.handleErrorLog,
	}
}

type searchInput struct {
	Text  string `json:"text"`
	Level string `json:"level"`
	Since string `json:"since"`
	Until string `json:"until"`
	Limit int    `json:"limit"`
}

func (t *Tools) handleSearch(ctx context.Context, input json.RawMessage) (string, error) {
	var in searchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("logs_search: invalid input: %w", err)
	}

	q := logsearch.Query{Text: in.Text, Level: in.Level, Limit: in.Limit}

	var err error
	if q.Since, err = parseTime("since", in.Since); err != nil {
		return "", fmt.Errorf("logs_search: %w", err)
	}
	if q.Until, err = parseTime("until", in.Until); err != nil {
		return "", fmt.Errorf("logs_search: %w", err)
	}

	entries, err := t.logs.Search(ctx, q)
	if err != nil {
		return "", fmt.Errorf("logs_search: %w", err)
	}

	return formatEntries(entries), nil
}

type tailInput struct {
	Limit int `json:"limit"`
}

func (t *Tools) handleTail(ctx context.Context, input json.RawMessage) (string, error) {
	var in tailInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("logs_tail: invalid input: %w", err)
	}

	entries, err := t.logs.Tail(ctx, in.Limit)
	if err != nil {
		return "", fmt.Errorf("logs_tail: %w", err)
	}

	return formatEntries(entries), nil
}

func (t *Tools) handleErrorLog(ctx context.Context, _ json.RawMessage) (string, error) {
	log, err := t.ha.ErrorLog(ctx)
	if err != nil {
		return "", fmt.Errorf("logs_error_log: %w", err)
	}

	if strings.TrimSpace(log) == "" {
		return "The error log is empty.", nil
	}

	return "```\n" + strings.TrimRight(log, "\n") + "\n```", nil
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339: %w", field, err)
	}

	return ts, nil
}

// formatEntries renders entries as a markdown table, preserving the order
// the service returned.
func formatEntries(entries []logsearch.Entry) string {
	if len(entries) == 0 {
		return "No log entries matched."
	}

	var b strings.Builder
	b.WriteString("| Timestamp | Level | Source | Message |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, e := range entries {
		msg := strings.ReplaceAll(e.Message, "|", "\\|")
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			e.Timestamp.Format(time.RFC3339), e.Level, e.Source, msg)
	}

	return b.String()
}
