package model

import "time"

type CategoryName string

const (
	CategoryBaseline          CategoryName = "baseline"
	CategoryMaliciousBlocking CategoryName = "malicious_blocking"
	CategoryDNSPoisoning      CategoryName = "dns_poisoning"
	CategoryHTTPSInterception CategoryName = "https_interception"
	CategoryCaptivePortal     CategoryName = "captive_portal"
	CategorySecureDNS         CategoryName = "secure_dns"
	CategoryPerformance       CategoryName = "performance"
)

type Transport string

const (
	TransportUDP  Transport = "udp"
	TransportTCP  Transport = "tcp"
	TransportAuto Transport = "auto"
	TransportDoT  Transport = "dot"
	TransportDoH  Transport = "doh"
)

// Encrypted reports whether the transport is DoT or DoH.
func (t Transport) Encrypted() bool {
	return t == TransportDoT || t == TransportDoH
}

type ProbeKind string

const (
	ProbeDNS          ProbeKind = "dns"
	ProbeTLS          ProbeKind = "tls"
	ProbeReachability ProbeKind = "reachability"
)

type ProbeStatus string

const (
	StatusSuccess ProbeStatus = "success"
	StatusTimeout ProbeStatus = "timeout"
	StatusError   ProbeStatus = "error"
)

type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorTimeout             ErrorKind = "timeout"
	ErrorNetworkUnreachable  ErrorKind = "network_unreachable"
	ErrorMalformedResponse   ErrorKind = "malformed_response"
	ErrorProtocolUnsupported ErrorKind = "protocol_unsupported"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Transient() bool {
	return k == ErrorTimeout || k == ErrorNetworkUnreachable
}

type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierWarning   Tier = "warning"
	TierCritical  Tier = "critical"
)

// Rank orders tiers from critical (0) to excellent (3).
func (t Tier) Rank() int {
	switch t {
	case TierExcellent:
		return 3
	case TierGood:
		return 2
	case TierWarning:
		return 1
	default:
		return 0
	}
}

type RunStatus string

const (
	RunHealthy  RunStatus = "healthy"
	RunDegraded RunStatus = "degraded"
	RunCritical RunStatus = "critical"
)

type ScoreStatus string

const (
	ScoreScored  ScoreStatus = "scored"
	ScoreSkipped ScoreStatus = "skipped"
)

type ResolverTarget struct {
	Address   string    `json:"address" toml:"address"`
	Transport Transport `json:"transport" toml:"transport"`
	Label     string    `json:"label,omitempty" toml:"label"`
	Primary   bool      `json:"primary,omitempty" toml:"primary"`
}

// Name identifies the resolver in findings and per-resolver metrics: the
// label when set, otherwise transport://address so the same address over
// two transports stays two resolvers. DoH addresses are already URLs.
func (r ResolverTarget) Name() string {
	switch {
	case r.Label != "":
		return r.Label
	case r.Transport == "" || r.Transport == TransportDoH:
		return r.Address
	default:
		return string(r.Transport) + "://" + r.Address
	}
}

type ProbeSpec struct {
	ID          int            `json:"id"`
	Category    CategoryName   `json:"category"`
	Kind        ProbeKind      `json:"kind"`
	Resolver    ResolverTarget `json:"resolver,omitempty"`
	QueryName   string         `json:"query_name"`
	RecordType  string         `json:"record_type,omitempty"`
	Group       string         `json:"group,omitempty"`
	Expectation string         `json:"expectation,omitempty"`
	Sequence    int            `json:"sequence,omitempty"`
}

type Certificate struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	IssuerOrg    string    `json:"issuer_org,omitempty"`
	DNSNames     []string  `json:"dns_names,omitempty"`
	NotAfter     time.Time `json:"not_after"`
	ChainIssuers []string  `json:"chain_issuers,omitempty"`
	Verified     bool      `json:"verified"`
	VerifyError  string    `json:"verify_error,omitempty"`
}

type HTTPAnswer struct {
	StatusCode int    `json:"status_code"`
	Location   string `json:"location,omitempty"`
	Body       string `json:"body,omitempty"`
}

type ProbeResult struct {
	Spec        ProbeSpec    `json:"spec"`
	Status      ProbeStatus  `json:"status"`
	ErrorKind   ErrorKind    `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	Rcode       string       `json:"rcode,omitempty"`
	Answers     []string     `json:"answers,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty"`
	HTTP        *HTTPAnswer  `json:"http,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	Latency     Duration     `json:"latency"`
	Attempts    int          `json:"attempts"`
	Outstanding bool         `json:"outstanding,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Succeeded reports whether the probe produced a response at all.
func (r ProbeResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

type ResolverAnswer struct {
	Resolver string   `json:"resolver"`
	Answers  []string `json:"answers"`
}

type ConsistencyFinding struct {
	QueryName        string           `json:"query_name"`
	RecordType       string           `json:"record_type"`
	Divergent        bool             `json:"divergent"`
	ExpectedVariance bool             `json:"expected_variance,omitempty"`
	AnswerSets       []ResolverAnswer `json:"answer_sets"`
	Resolvers        []string         `json:"resolvers"`
	Excluded         []string         `json:"excluded,omitempty"`
	Categories       []CategoryName   `json:"categories"`
}

type ResolverBlocking struct {
	Resolver string `json:"resolver"`
	Tested   int    `json:"tested"`
	Blocked  int    `json:"blocked"`
}

type BlockingAssessment struct {
	SubCategory   string             `json:"sub_category"`
	Aggregation   string             `json:"aggregation"`
	Tested        int                `json:"tested"`
	Blocked       int                `json:"blocked"`
	Effectiveness float64            `json:"effectiveness"`
	Leaked        []string           `json:"leaked"`
	Divergent     []string           `json:"blocked_and_divergent,omitempty"`
	PerResolver   []ResolverBlocking `json:"per_resolver,omitempty"`
}

type Confidence string

const (
	ConfidenceNone Confidence = "none"
	ConfidenceLow  Confidence = "low"
	ConfidenceHigh Confidence = "high"
)

type InterceptionFinding struct {
	Host            string     `json:"host"`
	IssuerMismatch  bool       `json:"issuer_mismatch"`
	ObservedIssuer  string     `json:"observed_issuer"`
	ExpectedIssuers []string   `json:"expected_issuers"`
	Confidence      Confidence `json:"confidence"`
	Note            string     `json:"note,omitempty"`
}

type CategoryScore struct {
	Category   CategoryName       `json:"category"`
	Status     ScoreStatus        `json:"status"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Metric     string             `json:"metric,omitempty"`
	Value      float64            `json:"value"`
	Tier       Tier               `json:"tier,omitempty"`
	Raw        map[string]float64 `json:"raw,omitempty"`
}

// Skipped reports whether the category could not execute.
func (s CategoryScore) Skipped() bool {
	return s.Status == ScoreSkipped
}

type Recommendation struct {
	Category CategoryName `json:"category"`
	Severity string       `json:"severity"`
	Message  string       `json:"message"`
}

type RunSummary struct {
	Categories        int `json:"categories"`
	Passed            int `json:"passed"`
	Warnings          int `json:"warnings"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
	Probes            int `json:"probes"`
	CompletedProbes   int `json:"completed_probes"`
	OutstandingProbes int `json:"outstanding_probes"`
}

type TestRun struct {
	ID          string         `json:"id"`
	Environment string         `json:"environment,omitempty"`
	Categories  []CategoryName `json:"categories"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Status      RunStatus      `json:"status"`
	Summary     RunSummary     `json:"summary"`
}

type ResultBundle struct {
	Run             TestRun               `json:"run"`
	Partial         bool                  `json:"partial"`
	Scores          []CategoryScore       `json:"scores"`
	Consistency     []ConsistencyFinding  `json:"consistency"`
	Blocking        []BlockingAssessment  `json:"blocking"`
	Interception    []InterceptionFinding `json:"interception"`
	Recommendations []Recommendation      `json:"recommendations,omitempty"`
	Results         []ProbeResult         `json:"results"`
}

// Score returns the score recorded for a category.
func (b ResultBundle) Score(name CategoryName) (CategoryScore, bool) {
	for _, s := range b.Scores {
		if s.Category == name {
			return s, true
		}
	}
	return CategoryScore{}, false
}

// Categories lists every category in catalog order.
var Categories = []CategoryName{
	CategoryBaseline,
	CategoryMaliciousBlocking,
	CategoryDNSPoisoning,
	CategoryHTTPSInterception,
	CategoryCaptivePortal,
	CategorySecureDNS,
	CategoryPerformance,
}

// KnownCategory reports whether name is a catalog category.
func KnownCategory(name CategoryName) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}
