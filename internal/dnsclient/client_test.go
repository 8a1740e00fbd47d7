package dnsclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/miekg/dns"
)

func TestAutoFallbackToTCPOnTruncation(t *testing.T) {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if w.RemoteAddr().Network() == "udp" {
			m.Truncated = true
			_ = w.WriteMsg(m)
			return
		}
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("192.0.2.10"),
		})
		_ = w.WriteMsg(m)
	})

	udpConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}
	defer udpConn.Close()

	addr := udpConn.LocalAddr().String()
	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	defer tcpLn.Close()

	udpSrv := &dns.Server{PacketConn: udpConn, Handler: mux}
	tcpSrv := &dns.Server{Listener: tcpLn, Handler: mux}

	go func() { _ = udpSrv.ActivateAndServe() }()
	go func() { _ = tcpSrv.ActivateAndServe() }()
	defer udpSrv.Shutdown()
	defer tcpSrv.Shutdown()

	client := New(Options{Timeout: 500 * time.Millisecond})
	msg := client.BuildQuery("example.com.", dns.TypeA)
	resp, _, transport, err := client.Exchange(context.Background(), model.ResolverTarget{Address: addr, Transport: model.TransportAuto}, msg)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if transport != "tcp" {
		t.Fatalf("expected tcp transport, got %s", transport)
	}
	if resp == nil || len(resp.Answer) == 0 {
		t.Fatalf("expected answer after tcp fallback")
	}
}

func TestExchangeNormalizesPlainServer(t *testing.T) {
	transport := &MockTransport{Responder: func(server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
		resp := new(dns.Msg)
		resp.SetReply(msg)
		return resp, time.Millisecond, nil
	}}
	client := NewWithTransports(Options{}, Transports{UDP: transport, TCP: transport})
	_, _, _, err := client.Exchange(context.Background(), model.ResolverTarget{Address: "10.0.0.1", Transport: model.TransportUDP}, client.BuildQuery("example.com", dns.TypeA))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	servers := transport.Servers()
	if len(servers) != 1 || servers[0] != "10.0.0.1:53" {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestMissingTransportIsProtocolUnsupported(t *testing.T) {
	client := NewWithTransports(Options{}, Transports{})
	_, _, _, err := client.Exchange(context.Background(), model.ResolverTarget{Address: "dns.example:853", Transport: model.TransportDoT}, client.BuildQuery("example.com", dns.TypeA))
	if !errors.Is(err, ErrProtocolUnsupported) {
		t.Fatalf("expected ErrProtocolUnsupported, got %v", err)
	}
}

func TestDoHPost(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		q := new(dns.Msg)
		if err := q.Unpack(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := new(dns.Msg)
		resp.SetReply(q)
		resp.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: net.ParseIP("203.0.113.7")}}
		out, _ := resp.Pack()
		w.Header().Set("content-type", "application/dns-message")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	client := NewWithTransports(Options{}, Transports{DoH: NewDoHTransport(srv.Client())})
	resp, _, transport, err := client.Exchange(context.Background(), model.ResolverTarget{Address: srv.URL + "/dns-query", Transport: model.TransportDoH}, client.BuildQuery("example.com", dns.TypeA))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if transport != "doh" {
		t.Fatalf("expected doh transport, got %s", transport)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("expected one answer, got %d", len(resp.Answer))
	}
}

func TestDoHGetTemplate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Query().Get("dns") == "" {
			t.Errorf("expected GET with dns parameter, got %s %s", r.Method, r.URL)
		}
		resp := new(dns.Msg)
		resp.SetQuestion("example.com.", dns.TypeA)
		resp.Response = true
		out, _ := resp.Pack()
		w.Header().Set("content-type", "application/dns-message")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	client := NewWithTransports(Options{}, Transports{DoH: NewDoHTransport(srv.Client())})
	_, _, _, err := client.Exchange(context.Background(), model.ResolverTarget{Address: srv.URL + "/dns-query{?dns}", Transport: model.TransportDoH}, client.BuildQuery("example.com", dns.TypeA))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
}

func TestDoHNotFoundIsProtocolUnsupported(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewWithTransports(Options{}, Transports{DoH: NewDoHTransport(srv.Client())})
	_, _, _, err := client.Exchange(context.Background(), model.ResolverTarget{Address: srv.URL + "/dns-query", Transport: model.TransportDoH}, client.BuildQuery("example.com", dns.TypeA))
	if !errors.Is(err, ErrProtocolUnsupported) {
		t.Fatalf("expected ErrProtocolUnsupported, got %v", err)
	}
}

func TestDoHServerErrorIsBadResponse(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewWithTransports(Options{}, Transports{DoH: NewDoHTransport(srv.Client())})
	_, _, _, err := client.Exchange(context.Background(), model.ResolverTarget{Address: srv.URL + "/dns-query", Transport: model.TransportDoH}, client.BuildQuery("example.com", dns.TypeA))
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
	if errors.Is(err, ErrProtocolUnsupported) {
		t.Fatalf("server error should not read as protocol unsupported: %v", err)
	}
}

func TestNormalizeTLSServer(t *testing.T) {
	cases := map[string]string{
		"dns.google":      "dns.google:853",
		"1.1.1.1:853":     "1.1.1.1:853",
		"2606:4700::1111": "[2606:4700::1111]:853",
	}
	for in, want := range cases {
		if got := NormalizeTLSServer(in); got != want {
			t.Fatalf("NormalizeTLSServer(%q) = %q, want %q", in, got, want)
		}
	}
}
