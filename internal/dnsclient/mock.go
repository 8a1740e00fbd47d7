package dnsclient

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// MockTransport answers queries with Responder and records the servers it
// was asked. Safe for concurrent use.
type MockTransport struct {
	Responder func(server string, msg *dns.Msg) (*dns.Msg, time.Duration, error)

	mu      sync.Mutex
	servers []string
}

func (m *MockTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	m.mu.Lock()
	m.servers = append(m.servers, server)
	m.mu.Unlock()
	if m.Responder == nil {
		return nil, 0, nil
	}
	return m.Responder(server, msg)
}

// Servers returns the servers queried so far.
func (m *MockTransport) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.servers...)
}
