package model

import "testing"

func TestResolverName(t *testing.T) {
	cases := []struct {
		target ResolverTarget
		want   string
	}{
		{ResolverTarget{Address: "1.1.1.1", Transport: TransportUDP, Label: "cloudflare"}, "cloudflare"},
		{ResolverTarget{Address: "1.1.1.1", Transport: TransportUDP}, "udp://1.1.1.1"},
		{ResolverTarget{Address: "1.1.1.1", Transport: TransportDoT}, "dot://1.1.1.1"},
		{ResolverTarget{Address: "https://dns.example/dns-query", Transport: TransportDoH}, "https://dns.example/dns-query"},
		{ResolverTarget{Address: "10.0.0.1"}, "10.0.0.1"},
	}
	for _, c := range cases {
		if got := c.target.Name(); got != c.want {
			t.Fatalf("%+v: expected %q, got %q", c.target, c.want, got)
		}
	}
}
