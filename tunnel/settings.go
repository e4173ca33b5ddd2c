// Package tunnel accepts inbound TCP connections, dials the paired
// remote endpoint for each one and relays bytes between them, with a
// streaming codec compressing one direction and decompressing the
// other.
//
// Two tunnel ends with complementary roles make a compressed link: the
// client end compresses what its local peers send and decompresses
// what comes back, and the server end does the inverse.
package tunnel

import (
	"time"

	"tcptunnel/config"
	"tcptunnel/internal/codec"
)

// Settings is the immutable configuration of one tunnel end.
type Settings struct {
	ListenAddress string // empty binds every interface
	ListenPort    int
	RemoteHost    string
	RemotePort    int

	// ClientMode compresses inbound→outbound and decompresses
	// outbound→inbound.  Server mode is the inverse.
	ClientMode bool

	Codec      string // registered codec name
	BlockSize  int    // largest single socket read
	BufferSize int    // staging buffer capacity per direction

	Linger      time.Duration // SO_LINGER applied when closing sockets
	DialTimeout time.Duration

	// HalfClose lets a direction that reached end of input shut down
	// the write side of its destination while the other direction
	// keeps relaying.  Off, the first direction to finish ends the
	// whole connection.
	HalfClose bool

	StatsInterval time.Duration // periodic metrics log; zero disables
}

// Role names the compression role for log lines.
func (s Settings) Role() string {
	if s.ClientMode {
		return "client"
	}
	return "server"
}

func (s Settings) withDefaults() Settings {
	if s.Codec == "" {
		s.Codec = codec.Default
	}
	if s.BlockSize <= 0 {
		s.BlockSize = config.DefaultBlockSize
	}
	if s.BufferSize <= 0 {
		s.BufferSize = config.DefaultBufferSize
	}
	if s.Linger <= 0 {
		s.Linger = config.DefaultLinger
	}
	return s
}
