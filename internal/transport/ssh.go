package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "tcptunnel/internal/errors"
	"tcptunnel/util"
)

// JumpConfig describes the SSH host that outbound connections are
// routed through.
type JumpConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// After MaxFailures consecutive failed session attempts the jump
	// host is marked down and Dial fails at once for Cooldown.
	MaxFailures int
	Cooldown    time.Duration
}

// SSHDialer opens outbound connections as direct-tcpip channels of one
// shared SSH session.  The session is established on first use and
// re-established on a later Dial if the server dropped it.
type SSHDialer struct {
	config JumpConfig
	logger *util.Logger

	mu      sync.Mutex
	auth    []ssh.AuthMethod // built once so a password is asked for once
	client  *ssh.Client
	breaker *breaker
}

// NewSSHDialer returns a dialer for cfg.  Nothing is dialled until
// Connect or the first Dial.
func NewSSHDialer(cfg JumpConfig, logger *util.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	d := &SSHDialer{config: cfg, logger: logger}
	d.breaker = newBreaker(cfg.MaxFailures, cfg.Cooldown)
	d.breaker.onChange = func(from, to breakerState) {
		switch to {
		case breakerOpen:
			logger.Error("ssh: jump host %s marked down for %v", cfg.Host, cfg.Cooldown)
		case breakerHalfOpen:
			logger.Info("ssh: probing jump host %s", cfg.Host)
		case breakerClosed:
			if from != breakerClosed {
				logger.Info("ssh: jump host %s is back", cfg.Host)
			}
		}
	}
	return d
}

// Connect establishes the SSH session now.  Calling it at startup
// surfaces authentication problems before any connection is accepted.
func (d *SSHDialer) Connect(ctx context.Context) error {
	_, err := d.session(ctx)
	return err
}

// Dial opens a channel to address through the jump host.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.session(ctx)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ssh: opening channel to %s via %s", address, d.config.Host)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, ncerr.WrapSSH("channel", d.config.Host, d.config.Port, fmt.Errorf("%s: %w", address, err))
	}
	return conn, nil
}

// ResolvesRemotely reports true: the jump host looks up the target
// name, which may only exist on its side of the network.
func (d *SSHDialer) ResolvesRemotely() bool { return true }

// Close tears down the SSH session.  Channels opened through it are
// closed with it.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// session returns the live client, connecting first if needed.
func (d *SSHDialer) session(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	if wait, ok := d.breaker.allow(); !ok {
		return nil, ncerr.WrapSSH("connect", d.config.Host, d.config.Port,
			fmt.Errorf("%w after %d failures, next attempt in %v",
				ncerr.ErrJumpHostDown, d.breaker.consecutiveFailures(), wait.Round(time.Second)))
	}

	client, err := d.connect(ctx)
	if ctx.Err() == nil {
		d.breaker.record(err)
	}
	if err != nil {
		return nil, err
	}
	d.client = client
	go d.monitor(client)
	return client, nil
}

// connect builds a new SSH session.  d.mu must be held.
func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	if d.auth == nil {
		methods, err := BuildAuthMethods(&d.config)
		if err != nil {
			return nil, ncerr.WrapSSH("auth", d.config.Host, d.config.Port, err)
		}
		d.auth = methods
	}

	hkCallback, err := hostKeyCallback(&d.config)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", d.config.Host, d.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            d.auth,
		HostKeyCallback: hkCallback,
		Timeout:         d.config.ConnTimeout,
	}

	addr := util.FormatAddr(d.config.Host, d.config.Port)
	d.logger.Info("ssh: connecting to jump host %s as %q", addr, d.config.User)

	dialer := net.Dialer{Timeout: d.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, ncerr.WrapSSH("handshake", d.config.Host, d.config.Port, err)
	}

	d.logger.Debug("ssh: session to %s established", addr)
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// monitor forgets client once the server side goes away so the next
// Dial reconnects.
func (d *SSHDialer) monitor(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Debug("ssh: session closed: %v", err)
	} else {
		d.logger.Debug("ssh: session closed")
	}
}
