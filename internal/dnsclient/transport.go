package dnsclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

type Transport interface {
	Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error)
}

type udpTransport struct {
	timeout time.Duration
}

func (t *udpTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	client := &dns.Client{Net: "udp", Timeout: t.timeout}
	return client.ExchangeContext(ctx, msg, server)
}

type tcpTransport struct {
	timeout time.Duration
}

func (t *tcpTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	client := &dns.Client{Net: "tcp", Timeout: t.timeout}
	return client.ExchangeContext(ctx, msg, server)
}

type dotTransport struct {
	timeout   time.Duration
	tlsConfig *tls.Config
}

func (t *dotTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	host, _, err := net.SplitHostPort(server)
	if err != nil {
		return nil, 0, fmt.Errorf("dot endpoint %q: %w", server, err)
	}
	var cfg *tls.Config
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" && net.ParseIP(host) == nil {
		cfg.ServerName = host
	}
	client := &dns.Client{Net: "tcp-tls", Timeout: t.timeout, TLSConfig: cfg}
	resp, rtt, err := client.ExchangeContext(ctx, msg, server)
	if err != nil && errors.Is(err, syscall.ECONNREFUSED) {
		return nil, rtt, fmt.Errorf("dot on %s: %v: %w", server, err, ErrProtocolUnsupported)
	}
	return resp, rtt, err
}

// DoH endpoints containing a "dns" template variable are queried with GET,
// all others with POST.
type dohTransport struct {
	client *http.Client
}

func newDoHTransport(timeout time.Duration) *dohTransport {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DisableCompression:    true,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       30 * time.Second,
	}
	// A custom TLS config disables HTTP/2 unless configured explicitly.
	_ = http2.ConfigureTransport(tr)
	return &dohTransport{client: &http.Client{Transport: tr}}
}

// NewDoHTransport returns a DoH transport using the given HTTP client.
func NewDoHTransport(client *http.Client) Transport {
	return &dohTransport{client: client}
}

func (t *dohTransport) Exchange(ctx context.Context, endpoint string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	template, err := uritemplates.Parse(endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("doh endpoint %q: %w", endpoint, err)
	}
	// DoH requires a zero message ID for cache friendliness.
	msg.Id = 0
	b, err := msg.Pack()
	if err != nil {
		return nil, 0, err
	}

	var req *http.Request
	if strings.Contains(endpoint, "dns}") {
		u, err := template.Expand(map[string]interface{}{"dns": base64.RawURLEncoding.EncodeToString(b)})
		if err != nil {
			return nil, 0, err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, 0, err
		}
	} else {
		u, err := template.Expand(map[string]interface{}{})
		if err != nil {
			return nil, 0, err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("content-type", "application/dns-message")
	}
	req.Header.Set("accept", "application/dns-message")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, time.Since(start), err
	}
	defer resp.Body.Close()
	rtt := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusNotImplemented:
		return nil, rtt, fmt.Errorf("doh status %d: %w", resp.StatusCode, ErrProtocolUnsupported)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, rtt, fmt.Errorf("doh status %d: %w", resp.StatusCode, ErrBadResponse)
	}
	if ct := resp.Header.Get("content-type"); ct != "" && !strings.HasPrefix(ct, "application/dns-message") {
		return nil, rtt, fmt.Errorf("doh content type %q: %w", ct, ErrProtocolUnsupported)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, rtt, err
	}
	answer := new(dns.Msg)
	if err := answer.Unpack(body); err != nil {
		return nil, rtt, fmt.Errorf("unpack doh response: %w", err)
	}
	return answer, rtt, nil
}
