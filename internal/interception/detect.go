// Package interception flags TLS certificates whose issuer does not match
// what is expected for a host.
//
// Detection is a heuristic over issuer names. Confidence is reported with
// every finding and no finding should be read as proof of interception.
package interception

import (
	"net"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

const heuristicNote = "issuer name heuristic"

type Options struct {
	// ExpectedIssuers maps a host to the issuer names allowed for it.
	ExpectedIssuers map[string][]string
	// WellKnownCAs is used for hosts without a specific allowlist.
	WellKnownCAs []string
	// VendorMarkers are proxy/firewall vendor strings that raise confidence.
	VendorMarkers []string
}

type Detector struct {
	opts Options
}

func NewDetector(opts Options) *Detector {
	expected := map[string][]string{}
	for host, issuers := range opts.ExpectedIssuers {
		expected[strings.ToLower(host)] = issuers
	}
	opts.ExpectedIssuers = expected
	return &Detector{opts: opts}
}

// Detect returns one finding per host with a completed handshake.
func (d *Detector) Detect(results []model.ProbeResult) []model.InterceptionFinding {
	findings := []model.InterceptionFinding{}
	for _, r := range results {
		if r.Spec.Kind != model.ProbeTLS || !r.Succeeded() || r.Certificate == nil {
			continue
		}
		findings = append(findings, d.inspect(r.Spec.QueryName, r.Certificate))
	}
	return findings
}

func (d *Detector) inspect(target string, cert *model.Certificate) model.InterceptionFinding {
	host := hostOnly(target)
	expected, ok := d.opts.ExpectedIssuers[host]
	if !ok {
		expected = d.opts.WellKnownCAs
	}
	observed := cert.Issuer
	if cert.IssuerOrg != "" && cert.IssuerOrg != cert.Issuer {
		observed = cert.Issuer + " (" + cert.IssuerOrg + ")"
	}

	finding := model.InterceptionFinding{
		Host:            host,
		ObservedIssuer:  observed,
		ExpectedIssuers: expected,
		Confidence:      model.ConfidenceNone,
	}

	names := []string{cert.Issuer, cert.IssuerOrg}
	if !containsAny(names, expected) {
		finding.IssuerMismatch = true
		finding.Confidence = model.ConfidenceLow
		finding.Note = heuristicNote + ": issuer not in expected set"
		if marker, ok := firstMatch(names, d.opts.VendorMarkers); ok {
			finding.Confidence = model.ConfidenceHigh
			finding.Note = heuristicNote + ": issuer matches interception vendor " + marker
		}
		return finding
	}
	if !cert.Verified && cert.VerifyError != "" {
		finding.IssuerMismatch = true
		finding.Confidence = model.ConfidenceLow
		finding.Note = heuristicNote + ": expected issuer name but chain does not verify: " + cert.VerifyError
		if marker, ok := firstMatch(names, d.opts.VendorMarkers); ok {
			finding.Confidence = model.ConfidenceHigh
			finding.Note = heuristicNote + ": unverifiable chain with interception vendor " + marker
		}
	}
	return finding
}

// Detected reports whether any finding shows an issuer mismatch.
func Detected(findings []model.InterceptionFinding) bool {
	for _, f := range findings {
		if f.IssuerMismatch {
			return true
		}
	}
	return false
}

func hostOnly(target string) string {
	if host, _, err := net.SplitHostPort(target); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(target)
}

func containsAny(values, needles []string) bool {
	_, ok := firstMatch(values, needles)
	return ok
}

func firstMatch(values, needles []string) (string, bool) {
	for _, needle := range needles {
		n := strings.ToLower(strings.TrimSpace(needle))
		if n == "" {
			continue
		}
		for _, v := range values {
			if v != "" && strings.Contains(strings.ToLower(v), n) {
				return needle, true
			}
		}
	}
	return "", false
}
