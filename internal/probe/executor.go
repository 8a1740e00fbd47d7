package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jaxxstorm/dnsaudit/internal/dnsclient"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const maxBody = 4096

type Options struct {
	DNS        *dnsclient.Client
	HTTPClient *http.Client
	// Roots verifies observed chains; nil uses the system pool.
	Roots  *x509.CertPool
	Logger *zap.Logger
}

// Executor runs a single probe. It holds no per-probe state and is safe for
// concurrent use.
type Executor struct {
	dns    *dnsclient.Client
	http   *http.Client
	roots  *x509.CertPool
	logger *zap.Logger
}

func NewExecutor(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DNS == nil {
		opts.DNS = dnsclient.New(dnsclient.Options{Logger: opts.Logger})
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	// Redirects are what a captive portal looks like; never follow them.
	client := *opts.HTTPClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Executor{
		dns:    opts.DNS,
		http:   &client,
		roots:  opts.Roots,
		logger: opts.Logger,
	}
}

// Execute runs spec and always returns a well-formed result. It returns no
// later than timeout after being called, or earlier if ctx is done.
func (e *Executor) Execute(ctx context.Context, spec model.ProbeSpec, timeout time.Duration) model.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan model.ProbeResult, 1)
	go func() {
		done <- e.run(ctx, spec)
	}()

	var result model.ProbeResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = model.ProbeResult{
			Spec:      spec,
			Status:    model.StatusTimeout,
			ErrorKind: model.ErrorTimeout,
			Error:     ctx.Err().Error(),
		}
	}
	result.Attempts = 1
	result.Latency = model.Duration(time.Since(start))
	result.Timestamp = start

	e.logger.Debug("probe finished",
		zap.String("category", string(spec.Category)),
		zap.String("resolver", spec.Resolver.Name()),
		zap.String("query", spec.QueryName),
		zap.String("status", string(result.Status)),
		zap.Duration("latency", result.Latency.D()),
	)
	return result
}

func (e *Executor) run(ctx context.Context, spec model.ProbeSpec) model.ProbeResult {
	switch spec.Kind {
	case model.ProbeDNS:
		return e.runDNS(ctx, spec)
	case model.ProbeTLS:
		return e.runTLS(ctx, spec)
	case model.ProbeReachability:
		return e.runReachability(ctx, spec)
	default:
		return failure(spec, fmt.Errorf("probe kind %q: %w", spec.Kind, dnsclient.ErrProtocolUnsupported))
	}
}

func (e *Executor) runDNS(ctx context.Context, spec model.ProbeSpec) model.ProbeResult {
	rrtype := spec.RecordType
	if rrtype == "" {
		rrtype = "A"
	}
	qtype, ok := dns.StringToType[strings.ToUpper(rrtype)]
	if !ok {
		return failure(spec, fmt.Errorf("unsupported rrtype %q: %w", rrtype, dnsclient.ErrProtocolUnsupported))
	}

	resp, _, transport, err := e.dns.Exchange(ctx, spec.Resolver, e.dns.BuildQuery(spec.QueryName, qtype))
	if err != nil {
		result := failure(spec, err)
		result.Transport = transport
		return result
	}
	if resp == nil || !resp.Response {
		result := failure(spec, fmt.Errorf("%w: empty or non-response message", errMalformed))
		result.Transport = transport
		return result
	}
	return model.ProbeResult{
		Spec:      spec,
		Status:    model.StatusSuccess,
		Rcode:     dns.RcodeToString[resp.Rcode],
		Answers:   answerValues(resp, qtype),
		Transport: transport,
	}
}

// answerValues extracts the record data of the queried type, falling back
// to CNAME targets when the answer holds only aliases.
func answerValues(resp *dns.Msg, qtype uint16) []string {
	out := []string{}
	cnames := []string{}
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				out = append(out, v.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				out = append(out, v.AAAA.String())
			}
		case *dns.CNAME:
			if qtype == dns.TypeCNAME {
				out = append(out, strings.ToLower(v.Target))
			} else {
				cnames = append(cnames, strings.ToLower(v.Target))
			}
		default:
			if rr.Header().Rrtype == qtype {
				out = append(out, strings.TrimPrefix(rr.String(), rr.Header().String()))
			}
		}
	}
	if len(out) == 0 {
		return cnames
	}
	return out
}

func (e *Executor) runTLS(ctx context.Context, spec model.ProbeSpec) model.ProbeResult {
	addr := spec.QueryName
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		addr = net.JoinHostPort(addr, "443")
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName: host,
			// The chain is verified below so that substituted certificates
			// can still be inspected.
			InsecureSkipVerify: true, //nolint:gosec
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failure(spec, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return failure(spec, fmt.Errorf("%w: no peer certificates", errMalformed))
	}
	return model.ProbeResult{
		Spec:        spec,
		Status:      model.StatusSuccess,
		Certificate: describeChain(host, state.PeerCertificates, e.roots),
		Transport:   "tls",
	}
}

func describeChain(host string, chain []*x509.Certificate, roots *x509.CertPool) *model.Certificate {
	leaf := chain[0]
	cert := &model.Certificate{
		Subject:  leaf.Subject.CommonName,
		Issuer:   issuerName(leaf),
		DNSNames: leaf.DNSNames,
		NotAfter: leaf.NotAfter,
	}
	if len(leaf.Issuer.Organization) > 0 {
		cert.IssuerOrg = leaf.Issuer.Organization[0]
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
		cert.ChainIssuers = append(cert.ChainIssuers, issuerName(c))
	}
	verifyHost := host
	if ip := net.ParseIP(host); ip != nil {
		verifyHost = ip.String()
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       verifyHost,
		Roots:         roots,
		Intermediates: intermediates,
	})
	cert.Verified = err == nil
	if err != nil {
		cert.VerifyError = err.Error()
	}
	return cert
}

func issuerName(c *x509.Certificate) string {
	if c.Issuer.CommonName != "" {
		return c.Issuer.CommonName
	}
	if len(c.Issuer.Organization) > 0 {
		return c.Issuer.Organization[0]
	}
	return c.Issuer.String()
}

func (e *Executor) runReachability(ctx context.Context, spec model.ProbeSpec) model.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.QueryName, nil)
	if err != nil {
		return failure(spec, fmt.Errorf("%w: %v", errMalformed, err))
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := e.http.Do(req)
	if err != nil {
		return failure(spec, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return failure(spec, err)
	}
	return model.ProbeResult{
		Spec:   spec,
		Status: model.StatusSuccess,
		HTTP: &model.HTTPAnswer{
			StatusCode: resp.StatusCode,
			Location:   resp.Header.Get("Location"),
			Body:       string(body),
		},
		Transport: req.URL.Scheme,
	}
}

func failure(spec model.ProbeSpec, err error) model.ProbeResult {
	kind := Classify(err)
	status := model.StatusError
	if kind == model.ErrorTimeout {
		status = model.StatusTimeout
	}
	return model.ProbeResult{
		Spec:      spec,
		Status:    status,
		ErrorKind: kind,
		Error:     err.Error(),
	}
}
