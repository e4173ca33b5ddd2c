package util

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// FormatAddr returns "host:port", bracketing IPv6 literals.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type closeWriter interface {
	CloseWrite() error
}

// CloseWrite half-closes the write side of conn so the peer reads EOF
// while our read side stays open.  TCP connections and SSH forwarded
// channels support it; anything else returns [errors.ErrUnsupported].
func CloseWrite(conn net.Conn) error {
	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

// CloseWithLinger closes conn, letting unsent data drain for up to
// linger (rounded up to whole seconds) on TCP sockets.
func CloseWithLinger(conn net.Conn, linger time.Duration) error {
	if tc, ok := conn.(*net.TCPConn); ok && linger > 0 {
		secs := int((linger + time.Second - 1) / time.Second)
		tc.SetLinger(secs) //nolint:errcheck // Close reports the real failure
	}
	return conn.Close()
}

// CloseGracefully half-closes conn, discards whatever the peer still
// sends for up to linger, then closes it with [CloseWithLinger].
// Closing a TCP socket that has unread input resets the connection,
// and the peer can lose bytes it has not read yet.  Connections that
// cannot half-close are closed at once.
func CloseGracefully(conn net.Conn, linger time.Duration) error {
	if linger <= 0 || CloseWrite(conn) != nil {
		return CloseWithLinger(conn, linger)
	}
	if err := conn.SetReadDeadline(time.Now().Add(linger)); err == nil {
		io.Copy(io.Discard, conn) //nolint:errcheck // ends at EOF or the deadline
	}
	return CloseWithLinger(conn, linger)
}

// InterruptRead unblocks a pending Read on conn by moving its read
// deadline to now.  Connections without deadline support are closed.
func InterruptRead(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		conn.Close()
	}
}

// InterruptWrite is the write-side counterpart of [InterruptRead].
func InterruptWrite(conn net.Conn) {
	if err := conn.SetWriteDeadline(time.Now()); err != nil {
		conn.Close()
	}
}
