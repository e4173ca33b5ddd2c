// Package transport opens the outbound leg of a tunnelled connection.
// A Dialer decides how the remote endpoint is reached (directly over
// TCP or through an SSH jump host) and knows nothing about what the
// connection carries.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections.
type Dialer interface {
	// Dial connects to address ("ip:port") over network.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources such as an SSH session.
	// Stateless dialers return nil.
	Close() error
}

// RemoteResolver is implemented by dialers whose far end resolves host
// names itself.  Callers pass such dialers the configured host name
// instead of a locally resolved address.
type RemoteResolver interface {
	ResolvesRemotely() bool
}
