package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer makes one direct TCP connection attempt per Dial.
type TCPDialer struct {
	Timeout   time.Duration // zero means no limit beyond ctx
	KeepAlive time.Duration // zero uses the net package default
}

// Dial connects to address.  No retries are made.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
