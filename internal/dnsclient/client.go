package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// ErrProtocolUnsupported is returned when a resolver does not offer the
// requested transport.
var ErrProtocolUnsupported = errors.New("protocol unsupported")

// ErrBadResponse is returned when a resolver answers with something that is
// not a usable DNS response, such as a DoH server error status.
var ErrBadResponse = errors.New("bad response")

type Options struct {
	DNSSEC    bool
	Timeout   time.Duration
	Retries   int
	EDNS0Size uint16
	Logger    *zap.Logger
}

// Transports holds one Transport per resolver transport kind.
type Transports struct {
	UDP Transport
	TCP Transport
	DoT Transport
	DoH Transport
}

type Client struct {
	opts       Options
	transports Transports
}

func New(opts Options) *Client {
	return NewWithTransports(opts, Transports{
		UDP: &udpTransport{timeout: opts.Timeout},
		TCP: &tcpTransport{timeout: opts.Timeout},
		DoT: &dotTransport{timeout: opts.Timeout},
		DoH: newDoHTransport(opts.Timeout),
	})
}

func NewWithTransports(opts Options, transports Transports) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Retries == 0 {
		opts.Retries = 1
	}
	if opts.EDNS0Size == 0 {
		opts.EDNS0Size = 1232
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		opts:       opts,
		transports: transports,
	}
}

// BuildQuery returns a recursive query for name.
func (c *Client) BuildQuery(name string, qtype uint16) *dns.Msg {
	msg := &dns.Msg{}
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(c.opts.EDNS0Size, c.opts.DNSSEC)
	return msg
}

// Exchange sends msg to the resolver over its configured transport and
// returns the response, the round trip time and the transport actually used.
func (c *Client) Exchange(ctx context.Context, target model.ResolverTarget, msg *dns.Msg) (*dns.Msg, time.Duration, string, error) {
	switch target.Transport {
	case model.TransportTCP:
		resp, rtt, err := c.exchangeWithRetries(ctx, c.transports.TCP, NormalizeServer(target.Address), msg, "tcp")
		return resp, rtt, "tcp", err
	case model.TransportUDP:
		resp, rtt, err := c.exchangeWithRetries(ctx, c.transports.UDP, NormalizeServer(target.Address), msg, "udp")
		return resp, rtt, "udp", err
	case model.TransportAuto, "":
		server := NormalizeServer(target.Address)
		resp, rtt, err := c.exchangeWithRetries(ctx, c.transports.UDP, server, msg, "udp")
		if err == nil && resp != nil && resp.Truncated {
			c.opts.Logger.Debug("udp truncated, retrying with tcp", zap.String("server", server))
			resp, rtt, err = c.exchangeWithRetries(ctx, c.transports.TCP, server, msg, "tcp")
			return resp, rtt, "tcp", err
		}
		return resp, rtt, "udp", err
	case model.TransportDoT:
		resp, rtt, err := c.exchangeWithRetries(ctx, c.transports.DoT, NormalizeTLSServer(target.Address), msg, "dot")
		return resp, rtt, "dot", err
	case model.TransportDoH:
		resp, rtt, err := c.exchangeWithRetries(ctx, c.transports.DoH, target.Address, msg, "doh")
		return resp, rtt, "doh", err
	default:
		return nil, 0, "", fmt.Errorf("transport %q: %w", target.Transport, ErrProtocolUnsupported)
	}
}

func (c *Client) exchangeWithRetries(ctx context.Context, transport Transport, server string, msg *dns.Msg, mode string) (*dns.Msg, time.Duration, error) {
	if transport == nil {
		return nil, 0, fmt.Errorf("%s transport not available: %w", mode, ErrProtocolUnsupported)
	}
	var lastErr error
	for i := 0; i < c.opts.Retries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		resp, rtt, err := transport.Exchange(ctx, server, msg.Copy())
		if err == nil {
			c.logRaw(mode, server, msg, resp)
			return resp, rtt, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("dns exchange failed")
	}
	return nil, 0, lastErr
}

func (c *Client) logRaw(mode, server string, req, resp *dns.Msg) {
	if c.opts.Logger.Core().Enabled(zap.DebugLevel) {
		c.opts.Logger.Debug("dns request",
			zap.String("transport", mode),
			zap.String("server", server),
			zap.String("message", req.String()),
		)
		if resp != nil {
			c.opts.Logger.Debug("dns response",
				zap.String("transport", mode),
				zap.String("server", server),
				zap.String("message", resp.String()),
			)
		}
	}
}

func NormalizeServer(server string) string {
	return normalizeWithPort(server, "53")
}

// NormalizeTLSServer is NormalizeServer with the DoT default port.
func NormalizeTLSServer(server string) string {
	return normalizeWithPort(server, "853")
}

func normalizeWithPort(server, port string) string {
	if server == "" {
		return server
	}
	if strings.HasPrefix(server, "[") {
		if strings.Contains(server, "]:") {
			return server
		}
		return server + ":" + port
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	if strings.Contains(server, ":") {
		return "[" + server + "]:" + port
	}
	return server + ":" + port
}
