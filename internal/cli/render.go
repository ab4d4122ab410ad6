package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ahrav/go-contracts/internal/domain"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	satisfiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderReport writes report as a styled table, or as JSON.
func renderReport(w io.Writer, format string, report *domain.RunReport) error {
	if format == "json" {
		return writeJSON(w, report)
	}
	_, err := io.WriteString(w, reportText(report))
	return err
}

func reportText(r *domain.RunReport) string {
	var b strings.Builder

	title := "Run " + r.RunID
	if r.ContractSet != "" {
		title += " (" + r.ContractSet + ")"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CONTRACT", "STATUS", "DETAIL")
	for _, id := range r.Satisfied {
		t.Row(id, satisfiedStyle.Render(string(domain.StatusSatisfied)), "")
	}
	for _, f := range r.ContractsFailed {
		t.Row(f.ID, failedStyle.Render(string(domain.StatusFailed)), fmt.Sprintf("%s: %s", f.Kind, f.Reason))
	}
	for _, s := range r.ContractsSkipped {
		t.Row(s.ID, skippedStyle.Render(string(domain.StatusSkipped)), "blocked by "+s.BlockedBy)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	b.WriteString(mutedStyle.Render(fmt.Sprintf(
		"%d/%d satisfied  cache hit rate %.0f%%  external calls %d  %dms",
		r.ContractsSatisfied, r.ContractsTotal, r.CacheHitRate*100, r.ExternalCallsMade, r.DurationMS)))
	b.WriteString("\n")
	return b.String()
}

func renderHealth(w io.Writer, format string, h domain.HealthStatus) error {
	if format == "json" {
		return writeJSON(w, h)
	}
	style := satisfiedStyle
	if !h.Available {
		style = failedStyle
	}
	line := fmt.Sprintf("%s  %s  available=%t  latency=%dms", titleStyle.Render(h.Service),
		style.Render(string(h.State)), h.Available, h.LatencyMS)
	if h.Strategy != "" {
		line += "  strategy=" + h.Strategy
	}
	if h.Error != "" {
		line += "  " + mutedStyle.Render(h.Error)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
