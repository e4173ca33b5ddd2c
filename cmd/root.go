// Package cmd wires up the CLI flags and starts the tunnel listener.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"tcptunnel/config"
	"tcptunnel/internal/codec"
	"tcptunnel/internal/metrics"
	"tcptunnel/internal/resolver"
	"tcptunnel/internal/transport"
	"tcptunnel/tunnel"
	"tcptunnel/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X tcptunnel/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs one tunnel end until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Defaults()

	// ── config file and environment ──────────────────────────────
	// Flags override both, so the file is located and loaded before
	// the real flag set is built on top of the loaded values.
	if path := configPath(args); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("tcptunnel", flag.ContinueOnError)

	// ── relay ────────────────────────────────────────────────────
	fs.IntVarP(&cfg.ListenPort, "port", "p", cfg.ListenPort, "Local port to listen on (required)")
	fs.StringVarP(&cfg.ListenAddress, "bind", "b", cfg.ListenAddress, "Local address to bind (default all interfaces)")
	fs.BoolVarP(&cfg.ClientMode, "client", "c", cfg.ClientMode, "Client mode: compress upstream, decompress downstream")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Numeric-only, no DNS resolution")

	// ── codec and buffering ──────────────────────────────────────
	fs.StringVarP(&cfg.Codec, "codec", "z", cfg.Codec,
		fmt.Sprintf("Stream codec (%s)", strings.Join(codec.Names(), ", ")))
	fs.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "Largest single socket read in bytes")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Staging buffer bytes per direction")

	// ── connection lifecycle ─────────────────────────────────────
	fs.DurationVar(&cfg.Linger, "linger", cfg.Linger, "SO_LINGER timeout when closing sockets")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Timeout for the remote connection attempt")
	fs.BoolVar(&cfg.HalfClose, "half-close", cfg.HalfClose, "Keep relaying the other direction after one side ends")
	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Log traffic statistics at this interval (0 = off)")

	// ── SSH jump host ────────────────────────────────────────────
	fs.StringVarP(&cfg.JumpSpec, "jump", "T", cfg.JumpSpec, "Dial the remote through SSH host [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	var verbosity int
	fs.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (repeatable)")

	var configFile string
	var showVersion, showHelp, dryRun bool
	fs.StringVarP(&configFile, "config", "f", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration, print it and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || (len(args) == 0 && cfg.RemoteHost == "") {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("tcptunnel %s\n", version)
		return nil
	}
	if configFile != cfg.ConfigFile {
		// Only reachable when -f was folded into a group of short
		// flags that the probe could not split.
		return fmt.Errorf("config file %q was not loaded: pass -f on its own", configFile)
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	cfg.Codec = strings.ToLower(cfg.Codec)
	cfg.Verbose += verbosity

	// ── jump host and validation ─────────────────────────────────
	if err := cfg.ResolveJump(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if dryRun {
		fmt.Print(cfg.String())
		return nil
	}
	return run(ctx, cfg)
}

// run builds the components for cfg and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	logger := util.NewLogger(cfg.Verbose)
	m := metrics.New()
	res := resolver.New(logger.Named("resolver"), resolver.WithNoDNS(cfg.NoDNS))

	var dialer transport.Dialer = &transport.TCPDialer{Timeout: cfg.DialTimeout}
	if cfg.JumpEnabled {
		jump := transport.NewSSHDialer(transport.JumpConfig{
			User:          cfg.JumpUser,
			Host:          cfg.JumpHost,
			Port:          cfg.JumpPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
		}, logger)
		if err := jump.Connect(ctx); err != nil {
			return err
		}
		dialer = jump
	}
	defer dialer.Close()

	l, err := tunnel.NewListener(settings(cfg),
		tunnel.WithLogger(logger),
		tunnel.WithMetrics(m),
		tunnel.WithResolver(res),
		tunnel.WithDialer(dialer),
	)
	if err != nil {
		return err
	}
	return l.Start(ctx)
}

// settings maps the validated configuration onto the listener's.
func settings(cfg *config.Config) tunnel.Settings {
	return tunnel.Settings{
		ListenAddress: cfg.ListenAddress,
		ListenPort:    cfg.ListenPort,
		RemoteHost:    cfg.RemoteHost,
		RemotePort:    cfg.RemotePort,
		ClientMode:    cfg.ClientMode,
		Codec:         cfg.Codec,
		BlockSize:     cfg.BlockSize,
		BufferSize:    cfg.BufferSize,
		Linger:        cfg.Linger,
		DialTimeout:   cfg.DialTimeout,
		HalfClose:     cfg.HalfClose,
		StatsInterval: cfg.StatsInterval,
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds -f/--config ahead of the full parse.  Any other
// flag, known or not, is ignored here and checked by the real parse.
func configPath(args []string) string {
	probe := flag.NewFlagSet("probe", flag.ContinueOnError)
	probe.ParseErrorsWhitelist.UnknownFlags = true
	probe.SetOutput(io.Discard)
	probe.Usage = func() {}

	var path string
	probe.StringVarP(&path, "config", "f", "", "")
	_ = probe.Parse(args)

	if path == "" {
		path = config.EnvConfigFile()
	}
	return path
}

func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		// Both may come from the config file or the environment.
		return nil
	case 2:
		cfg.RemoteHost = remaining[0]
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("remote port: %w", err)
		}
		cfg.RemotePort = port
		return nil
	case 1:
		return fmt.Errorf("remote port required (use --help for usage)")
	default:
		return fmt.Errorf("too many arguments: expected <remote-host> <remote-port>")
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tcptunnel - compressing TCP relay v%s

Accepts TCP connections on a local port and relays each one to a remote
endpoint, compressing one direction and decompressing the other.

Usage:
  tcptunnel -p <port> [options] <remote-host> <remote-port>

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  tcptunnel -c -p 2000 relay.example.com 2001      Client end: compress to the relay
  tcptunnel -p 2001 db.internal 5432               Server end: decompress to the service
  tcptunnel -c -p 2000 -T ops@bastion relay 2001   Dial the relay through an SSH jump host
  tcptunnel -f /etc/tcptunnel.yaml                 Everything from a config file
`)
}
