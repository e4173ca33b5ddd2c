// Package config defines the runtime configuration for one tcptunnel
// end and provides helpers for loading it from a YAML file and the
// environment, parsing jump host specifications and validating the
// result.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tcptunnel/internal/codec"
	ncerr "tcptunnel/internal/errors"
)

// Config holds every tuneable for a single tunnel end.
type Config struct {
	// ── Relay ────────────────────────────────────────────────────────
	ListenAddress string `yaml:"listen_address"` // empty binds every interface
	ListenPort    int    `yaml:"listen_port"`
	RemoteHost    string `yaml:"remote_host"`
	RemotePort    int    `yaml:"remote_port"`
	ClientMode    bool   `yaml:"client"`
	NoDNS         bool   `yaml:"no_dns"`

	// ── Codec and buffering ──────────────────────────────────────────
	Codec      string `yaml:"codec"`
	BlockSize  int    `yaml:"block_size"`
	BufferSize int    `yaml:"buffer_size"`

	// ── Connection lifecycle ─────────────────────────────────────────
	Linger        time.Duration `yaml:"linger"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	HalfClose     bool          `yaml:"half_close"`
	StatsInterval time.Duration `yaml:"stats_interval"`

	// ── SSH jump host ────────────────────────────────────────────────
	JumpSpec       string `yaml:"jump"` // raw [user@]host[:port] from -T
	JumpEnabled    bool   `yaml:"-"`
	JumpUser       string `yaml:"-"`
	JumpHost       string `yaml:"-"`
	JumpPort       int    `yaml:"-"`
	SSHKeyPath     string `yaml:"ssh_key"`
	SSHPassword    bool   `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool   `yaml:"ssh_agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int    `yaml:"verbose"`
	ConfigFile string `yaml:"-"`
}

// ── Jump-spec parser ─────────────────────────────────────────────────

// jumpRe matches [user@]host[:port].
var jumpRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseJumpSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseJumpSpec(spec string) (user, host string, port int, err error) {
	m := jumpRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid jump host %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid jump host port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ResolveJump parses JumpSpec into the Jump* fields.  An empty spec
// disables the jump host.
func (c *Config) ResolveJump() error {
	if c.JumpSpec == "" {
		c.JumpEnabled = false
		return nil
	}
	user, host, port, err := ParseJumpSpec(c.JumpSpec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "jump",
			Value:   c.JumpSpec,
			Message: err.Error(),
			Hint:    "use -T user@bastion.example.com:22",
		}
	}
	c.JumpEnabled = true
	c.JumpUser = user
	c.JumpHost = host
	c.JumpPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if c.ListenPort == 0 {
		return &ncerr.ConfigError{
			Field:   "port",
			Message: "a listen port is required",
			Hint:    "use -p <port>, e.g. -p 2000",
		}
	}
	if err := checkPort("port", c.ListenPort); err != nil {
		return err
	}
	if c.RemoteHost == "" {
		return &ncerr.ConfigError{
			Field:   "remote-host",
			Message: "remote host is required",
			Hint:    "usage: tcptunnel [options] <remote-host> <remote-port>",
		}
	}
	if c.RemotePort == 0 {
		return &ncerr.ConfigError{
			Field:   "remote-port",
			Message: "remote port is required",
			Hint:    "usage: tcptunnel [options] <remote-host> <remote-port>",
		}
	}
	if err := checkPort("remote-port", c.RemotePort); err != nil {
		return err
	}

	spec, err := codec.Lookup(c.Codec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "codec",
			Value:   c.Codec,
			Message: "unknown codec",
			Hint:    fmt.Sprintf("choose one of %v", codec.Names()),
		}
	}
	if c.BlockSize <= 0 {
		return &ncerr.ConfigError{
			Field:   "block-size",
			Value:   c.BlockSize,
			Message: "block size must be positive",
		}
	}
	if c.BufferSize < spec.MaxFrame {
		return &ncerr.ConfigError{
			Field:   "buffer-size",
			Value:   c.BufferSize,
			Message: fmt.Sprintf("smaller than the largest %s frame", spec.Name),
			Hint:    fmt.Sprintf("use at least --buffer-size %d", spec.MaxFrame),
		}
	}
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"linger", c.Linger},
		{"dial-timeout", c.DialTimeout},
		{"stats-interval", c.StatsInterval},
	} {
		if d.value < 0 {
			return &ncerr.ConfigError{
				Field:   d.field,
				Value:   d.value,
				Message: "duration must not be negative",
			}
		}
	}

	if c.JumpEnabled && c.JumpHost == "" {
		return &ncerr.ConfigError{
			Field:   "jump",
			Value:   c.JumpSpec,
			Message: "jump host is required",
		}
	}
	if !c.JumpEnabled && (c.SSHKeyPath != "" || c.SSHPassword || c.UseSSHAgent) {
		return &ncerr.ConfigError{
			Field:   "jump",
			Message: "SSH authentication options need a jump host",
			Hint:    "add -T [user@]host[:port]",
		}
	}
	return nil
}

func checkPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ncerr.ConfigError{
			Field:   field,
			Value:   port,
			Message: "port out of range 1-65535",
		}
	}
	return nil
}

// ParsePort accepts a numeric port in 1-65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// Role names the compression role.
func (c *Config) Role() string {
	if c.ClientMode {
		return "client"
	}
	return "server"
}

// String renders the effective configuration for --dry-run.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "listen:         %s\n", listenDisplay(c))
	fmt.Fprintf(&b, "remote:         %s:%d\n", c.RemoteHost, c.RemotePort)
	fmt.Fprintf(&b, "mode:           %s\n", c.Role())
	fmt.Fprintf(&b, "codec:          %s\n", c.Codec)
	fmt.Fprintf(&b, "block size:     %d\n", c.BlockSize)
	fmt.Fprintf(&b, "buffer size:    %d\n", c.BufferSize)
	fmt.Fprintf(&b, "linger:         %v\n", c.Linger)
	fmt.Fprintf(&b, "dial timeout:   %v\n", c.DialTimeout)
	fmt.Fprintf(&b, "half close:     %v\n", c.HalfClose)
	if c.StatsInterval > 0 {
		fmt.Fprintf(&b, "stats interval: %v\n", c.StatsInterval)
	}
	if c.JumpEnabled {
		fmt.Fprintf(&b, "jump host:      %s@%s:%d\n", c.JumpUser, c.JumpHost, c.JumpPort)
	}
	if c.ConfigFile != "" {
		fmt.Fprintf(&b, "config file:    %s\n", c.ConfigFile)
	}
	return b.String()
}

func listenDisplay(c *Config) string {
	host := c.ListenAddress
	if host == "" {
		host = "*"
	}
	return fmt.Sprintf("%s:%d", host, c.ListenPort)
}
