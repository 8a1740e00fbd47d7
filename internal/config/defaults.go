package config

import (
	"time"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

var DefaultBaselineDomains = []string{
	"example.com",
	"google.com",
	"cloudflare.com",
	"wikipedia.org",
	"github.com",
}

var DefaultPoisoningDomains = []string{
	"example.com",
	"example.net",
	"example.org",
	"iana.org",
}

var DefaultThreatDomains = map[string][]string{
	"malware":  {"malware.testcategory.com", "examplemalwaredomain.com"},
	"phishing": {"phishing.testcategory.com", "internetbadguys.com"},
	"ads":      {"doubleclick.net", "googleadservices.com"},
	"tracking": {"google-analytics.com", "scorecardresearch.com"},
}

var DefaultSinkholes = []string{
	"0.0.0.0",
	"127.0.0.0/8",
	"::",
	"::1",
	"146.112.61.104/29",
}

var DefaultGeoVariance = []string{
	"google.com",
	"cloudflare.com",
	"wikipedia.org",
	"github.com",
	"akamaized.net",
	"cloudfront.net",
	"fastly.net",
}

var DefaultInterceptionHosts = []string{
	"www.google.com",
	"github.com",
	"www.cloudflare.com",
	"www.wikipedia.org",
}

var DefaultWellKnownCAs = []string{
	"DigiCert",
	"Let's Encrypt",
	"ISRG",
	"GlobalSign",
	"Sectigo",
	"COMODO",
	"USERTrust",
	"Google Trust Services",
	"Amazon",
	"Microsoft",
	"Entrust",
	"GoDaddy",
	"IdenTrust",
	"Baltimore",
	"Cloudflare",
}

var DefaultVendorMarkers = []string{
	"Fortinet",
	"FortiGate",
	"Palo Alto",
	"Zscaler",
	"Blue Coat",
	"Symantec Web",
	"Sophos",
	"Cisco Umbrella",
	"Barracuda",
	"Check Point",
	"WatchGuard",
	"Netskope",
	"Forcepoint",
	"Kaspersky",
	"Avast",
	"ESET",
	"Bitdefender",
	"mitmproxy",
	"Charles Proxy",
	"Fiddler",
}

var DefaultCaptivePortal = []CaptiveEndpoint{
	{URL: "http://connectivitycheck.gstatic.com/generate_204", ExpectStatus: 204},
	{URL: "http://captive.apple.com/hotspot-detect.html", ExpectStatus: 200, ExpectBody: "Success"},
	{URL: "http://www.msftconnecttest.com/connecttest.txt", ExpectStatus: 200, ExpectBody: "Microsoft Connect Test"},
}

var DefaultSecureDNS = []model.ResolverTarget{
	{Address: "https://cloudflare-dns.com/dns-query", Transport: model.TransportDoH, Label: "cloudflare-doh"},
	{Address: "https://dns.google/dns-query{?dns}", Transport: model.TransportDoH, Label: "google-doh"},
	{Address: "one.one.one.one:853", Transport: model.TransportDoT, Label: "cloudflare-dot"},
	{Address: "dns.google:853", Transport: model.TransportDoT, Label: "google-dot"},
}

// DefaultThresholds holds one table per category. Percentages are 0-100.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		string(model.CategoryBaseline):          {Metric: "success_rate", Direction: DirectionHigher, Excellent: 95, Good: 90, Warning: 80},
		string(model.CategoryMaliciousBlocking): {Metric: "effectiveness", Direction: DirectionHigher, Excellent: 95, Good: 85, Warning: 70},
		string(model.CategoryDNSPoisoning):      {Metric: "consistency_rate", Direction: DirectionHigher, Excellent: 100, Good: 95, Warning: 90},
		string(model.CategoryHTTPSInterception): {Metric: "clean_rate", Direction: DirectionHigher, Excellent: 100, Good: 95, Warning: 90},
		string(model.CategoryCaptivePortal):     {Metric: "reachability_rate", Direction: DirectionHigher, Excellent: 100, Good: 75, Warning: 50},
		string(model.CategorySecureDNS):         {Metric: "success_rate", Direction: DirectionHigher, Excellent: 100, Good: 80, Warning: 50},
		string(model.CategoryPerformance):       {Metric: "avg_latency_ms", Direction: DirectionLower, Excellent: 50, Good: 100, Warning: 250},
	}
}

// Default returns a configuration with every category enabled and no
// resolvers; callers supply resolvers from a file or the system.
func Default() *Config {
	categories := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		categories = append(categories, string(c))
	}
	threats := map[string][]string{}
	for k, v := range DefaultThreatDomains {
		threats[k] = append([]string{}, v...)
	}
	return &Config{
		Run: RunOptions{
			Categories:             categories,
			PerResolverConcurrency: 4,
			ProbeTimeout:           Duration{3 * time.Second},
			Deadline:               Duration{2 * time.Minute},
			FailOnCritical:         true,
			Retries:                map[string]int{},
		},
		Domains: Domains{
			Baseline:           append([]string{}, DefaultBaselineDomains...),
			Poisoning:          append([]string{}, DefaultPoisoningDomains...),
			Threats:            threats,
			Neutral:            "example.com",
			PerformanceSamples: 5,
		},
		Blocking: Blocking{
			Sinkholes:   append([]string{}, DefaultSinkholes...),
			Aggregation: AggregationPrimary,
		},
		Consistency: Consistency{
			GeoVariance: append([]string{}, DefaultGeoVariance...),
		},
		Interception: Interception{
			Hosts:           append([]string{}, DefaultInterceptionHosts...),
			ExpectedIssuers: map[string][]string{},
			WellKnownCAs:    append([]string{}, DefaultWellKnownCAs...),
			VendorMarkers:   append([]string{}, DefaultVendorMarkers...),
		},
		CaptivePortal: append([]CaptiveEndpoint{}, DefaultCaptivePortal...),
		SecureDNS:     append([]model.ResolverTarget{}, DefaultSecureDNS...),
		Thresholds:    DefaultThresholds(),
	}
}
