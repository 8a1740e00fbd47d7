package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/interception"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

// Scalars flattens a bundle into key/value pairs for CI pipelines.
func Scalars(bundle model.ResultBundle) map[string]string {
	s := bundle.Run.Summary
	out := map[string]string{
		"run_id":                bundle.Run.ID,
		"status":                string(bundle.Run.Status),
		"partial":               strconv.FormatBool(bundle.Partial),
		"probes":                strconv.Itoa(s.Probes),
		"outstanding_probes":    strconv.Itoa(s.OutstandingProbes),
		"categories_passed":     strconv.Itoa(s.Passed),
		"categories_warning":    strconv.Itoa(s.Warnings),
		"categories_failed":     strconv.Itoa(s.Failed),
		"categories_skipped":    strconv.Itoa(s.Skipped),
		"interception_detected": strconv.FormatBool(interception.Detected(bundle.Interception)),
	}
	for _, score := range bundle.Scores {
		name := string(score.Category)
		if score.Skipped() {
			out[name+"_tier"] = "skipped"
			continue
		}
		out[name+"_tier"] = string(score.Tier)
		out[name+"_"+score.Metric] = strconv.FormatFloat(score.Value, 'f', 2, 64)
	}
	return out
}

// RenderEnv renders Scalars as sorted KEY=value lines.
func RenderEnv(bundle model.ResultBundle) string {
	scalars := Scalars(bundle)
	lines := make([]string, 0, len(scalars))
	for k, v := range scalars {
		if strings.ContainsAny(v, " \t\"'$") {
			v = strconv.Quote(v)
		}
		lines = append(lines, fmt.Sprintf("DNSAUDIT_%s=%s", strings.ToUpper(k), v))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
