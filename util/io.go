package util

import (
	"errors"
	"io"
	"net"
	"os"
)

// IsHarmless returns true for errors that are expected while a relay
// leg is being torn down: end of stream, a socket we closed ourselves
// or an expired deadline used to interrupt a blocked call.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
