package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jaxxstorm/dnsaudit/internal/blocking"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	lineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func RenderPretty(bundle model.ResultBundle) string {
	lines := []string{titleStyle.Render("dnsaudit"), ""}
	run := fmt.Sprintf("run %s", bundle.Run.ID)
	if bundle.Run.Environment != "" {
		run += " env=" + bundle.Run.Environment
	}
	run += fmt.Sprintf(" probes=%d duration=%s", bundle.Run.Summary.Probes, bundle.Run.FinishedAt.Sub(bundle.Run.StartedAt).Round(time.Millisecond))
	lines = append(lines, mutedStyle.Render(run), "")

	for _, s := range bundle.Scores {
		if s.Skipped() {
			lines = append(lines, fmt.Sprintf("%s %s skipped: %s", mutedStyle.Render("SKIP"), s.Category, s.SkipReason))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s=%.1f", tierLabel(s.Tier), s.Category, s.Metric, s.Value))
	}

	if len(bundle.Blocking) > 0 {
		lines = append(lines, "", headStyle.Render("Blocking"))
		for _, a := range bundle.Blocking {
			line := fmt.Sprintf("%s %d/%d blocked (%s)", a.SubCategory, a.Blocked, a.Tested, a.Aggregation)
			if a.SubCategory != blocking.Overall && len(a.Leaked) > 0 {
				line += " leaked=" + strings.Join(a.Leaked, ",")
			}
			lines = append(lines, lineStyle.Render(line))
		}
	}

	divergent := []string{}
	for _, f := range bundle.Consistency {
		if f.Divergent {
			divergent = append(divergent, fmt.Sprintf("%s %s across %s", f.QueryName, f.RecordType, strings.Join(f.Resolvers, ",")))
		}
	}
	if len(divergent) > 0 {
		lines = append(lines, "", headStyle.Render("Divergent answers"))
		for _, d := range divergent {
			lines = append(lines, lineStyle.Render(d))
		}
	}

	mismatches := []string{}
	for _, f := range bundle.Interception {
		if f.IssuerMismatch {
			mismatches = append(mismatches, fmt.Sprintf("%s issuer=%q confidence=%s", f.Host, f.ObservedIssuer, f.Confidence))
		}
	}
	if len(mismatches) > 0 {
		lines = append(lines, "", headStyle.Render("Certificate mismatches"))
		for _, m := range mismatches {
			lines = append(lines, lineStyle.Render(m))
		}
	}

	if len(bundle.Recommendations) > 0 {
		lines = append(lines, "", "Recommendations:")
		for _, r := range bundle.Recommendations {
			lines = append(lines, "- "+r.Message)
		}
	}

	lines = append(lines, "")
	summary := fmt.Sprintf("%s passed=%d warnings=%d failed=%d skipped=%d",
		strings.ToUpper(string(bundle.Run.Status)),
		bundle.Run.Summary.Passed, bundle.Run.Summary.Warnings, bundle.Run.Summary.Failed, bundle.Run.Summary.Skipped)
	if bundle.Partial {
		summary += fmt.Sprintf(" partial outstanding=%d", bundle.Run.Summary.OutstandingProbes)
	}
	switch bundle.Run.Status {
	case model.RunHealthy:
		lines = append(lines, successStyle.Render(summary))
	case model.RunDegraded:
		lines = append(lines, warningStyle.Render(summary))
	default:
		lines = append(lines, failureStyle.Render(summary))
	}
	return strings.Join(lines, "\n")
}

func tierLabel(t model.Tier) string {
	switch t {
	case model.TierExcellent, model.TierGood:
		return successStyle.Render(strings.ToUpper(string(t)))
	case model.TierWarning:
		return warningStyle.Render("WARNING")
	default:
		return failureStyle.Render("CRITICAL")
	}
}
