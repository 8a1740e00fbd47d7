package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jaxxstorm/dnsaudit/internal/dnsclient"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

var errMalformed = errors.New("malformed response")

// Classify maps a probe error onto the failure taxonomy.
func Classify(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorNone
	}
	if errors.Is(err, dnsclient.ErrProtocolUnsupported) {
		return model.ErrorProtocolUnsupported
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrorTimeout
	}
	if errors.Is(err, errMalformed) || errors.Is(err, dnsclient.ErrBadResponse) {
		return model.ErrorMalformedResponse
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return model.ErrorProtocolUnsupported
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ECONNRESET) {
		return model.ErrorNetworkUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.ErrorNetworkUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.ErrorNetworkUnreachable
	}
	msg := err.Error()
	if strings.Contains(msg, "unpack") || strings.Contains(msg, "overflow") || strings.Contains(msg, "bad rdata") {
		return model.ErrorMalformedResponse
	}
	return model.ErrorNetworkUnreachable
}
