package config

import (
	"time"

	"tcptunnel/internal/codec"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, the config file, and environment variable loading.

const (
	// DefaultBlockSize is the largest single read from a socket.
	DefaultBlockSize = 40960

	// DefaultBufferSize is the staging buffer capacity per direction.
	// It must hold the largest frame any codec emits.
	DefaultBufferSize = 256 * 1024

	// DefaultLinger is the SO_LINGER timeout applied when a relayed
	// socket is closed.
	DefaultLinger = time.Second

	// DefaultDialTimeout bounds the single connection attempt made to
	// the remote endpoint for each accepted socket.
	DefaultDialTimeout = 10 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the SSH jump host connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultVerbosity logs errors and lifecycle events but not
	// per-chunk detail.
	DefaultVerbosity = 1

	// EnvPrefix starts the name of every supported environment variable.
	EnvPrefix = "TCPTUNNEL_"
)

// The listen backlog has no setting: Go's listener API does not
// expose it, so the kernel default (somaxconn) applies.

// Defaults returns a Config holding every default value.
func Defaults() *Config {
	return &Config{
		Codec:       codec.Default,
		BlockSize:   DefaultBlockSize,
		BufferSize:  DefaultBufferSize,
		Linger:      DefaultLinger,
		DialTimeout: DefaultDialTimeout,
		JumpPort:    DefaultSSHPort,
		Verbose:     DefaultVerbosity,
	}
}
