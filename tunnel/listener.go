package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tcptunnel/internal/codec"
	ncerr "tcptunnel/internal/errors"
	"tcptunnel/internal/metrics"
	"tcptunnel/internal/resolver"
	"tcptunnel/internal/transport"
	"tcptunnel/util"
)

// Resolver turns a host name into one IP address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (net.IP, error)
}

// Listener accepts inbound connections on the configured address and
// relays each one to the remote endpoint.
type Listener struct {
	settings Settings
	spec     codec.Spec
	resolver Resolver
	dialer   transport.Dialer
	logger   *util.Logger
	metrics  *metrics.Collector
	registry *Registry

	wg      sync.WaitGroup // accepted sockets still being handled
	started atomic.Bool
	ready   chan struct{}
	mu      sync.Mutex
	addr    net.Addr
}

// Option configures a Listener.
type Option func(*Listener)

// WithResolver replaces the default system resolver.
func WithResolver(r Resolver) Option {
	return func(l *Listener) { l.resolver = r }
}

// WithDialer replaces the default direct TCP dialer.
func WithDialer(d transport.Dialer) Option {
	return func(l *Listener) { l.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(logger *util.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Listener) { l.metrics = m }
}

// NewListener validates s and returns a Listener ready to Start.
func NewListener(s Settings, opts ...Option) (*Listener, error) {
	s = s.withDefaults()
	spec, err := codec.Lookup(s.Codec)
	if err != nil {
		return nil, err
	}
	if s.BufferSize < spec.MaxFrame {
		return nil, fmt.Errorf("buffer size %d is smaller than the largest %s frame (%d)",
			s.BufferSize, spec.Name, spec.MaxFrame)
	}

	l := &Listener{
		settings: s,
		spec:     spec,
		registry: NewRegistry(),
		ready:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = util.NewLogger(0)
	}
	if l.metrics == nil {
		l.metrics = metrics.New()
	}
	if l.resolver == nil {
		l.resolver = resolver.New(l.logger)
	}
	if l.dialer == nil {
		l.dialer = &transport.TCPDialer{}
	}
	return l, nil
}

// Addr returns the bound address, or nil before the Listener is ready.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Ready is closed once the listening socket is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Registry returns the live connection registry.
func (l *Listener) Registry() *Registry { return l.registry }

// Start binds the listening socket and serves until ctx is cancelled.
// A failure to resolve or bind the listen address is returned at once.
// On cancellation every live connection is stopped and Start returns
// nil once all of them have closed.  Start may be called only once;
// later calls return ErrAlreadyStarted.
func (l *Listener) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ncerr.ErrAlreadyStarted
	}
	bindHost := ""
	if l.settings.ListenAddress != "" {
		ip, err := l.resolver.Resolve(ctx, l.settings.ListenAddress)
		if err != nil {
			return err
		}
		bindHost = ip.String()
	}
	bindAddr := util.FormatAddr(bindHost, l.settings.ListenPort)

	// The accept backlog is the kernel default; net.ListenConfig does
	// not expose it.
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", bindAddr)
	if err != nil {
		return ncerr.Wrap("listen", bindAddr, err)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	l.mu.Lock()
	l.addr = ln.Addr()
	l.mu.Unlock()
	close(l.ready)

	l.logger.Info("listening on %s, relaying to %s (%s mode, codec %s)",
		ln.Addr(), util.FormatAddr(l.settings.RemoteHost, l.settings.RemotePort),
		l.settings.Role(), l.spec.Name)

	if l.settings.StatsInterval > 0 {
		go l.statsLoop(ctx)
	}

	err = l.acceptLoop(ctx, ln)
	l.shutdown()
	return err
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ncerr.IsTemporary(err) {
				l.logger.Error("accept: %v", err)
				l.metrics.RecordError(fmt.Sprintf("accept: %v", err))
				sleepCtx(ctx, 50*time.Millisecond)
				continue
			}
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

// handle dials the remote end for one accepted socket and relays until
// either side is done.  A failed dial closes the accepted socket.
func (l *Listener) handle(ctx context.Context, inbound net.Conn) {
	defer l.wg.Done()

	peer := inbound.RemoteAddr().String()
	l.logger.Debug("accepted %s", peer)

	outbound, err := l.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error("%s: %v; dropping connection", peer, err)
			l.metrics.DialFailed()
			l.metrics.RecordError(err.Error())
		}
		inbound.Close()
		return
	}

	conn := NewConnection(inbound, outbound, l.settings, l.spec, l.logger, l.metrics)
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.registry.Add(conn.ID(), peer, cancel)
	defer l.registry.Remove(conn.ID())
	l.metrics.ConnectionOpened()
	defer l.metrics.ConnectionClosed()

	start := time.Now()
	l.logger.Info("%s ⇄ %s opened [%s]", peer, outbound.RemoteAddr(), conn.ID())
	if err := conn.Start(cctx); err != nil {
		l.logger.Debug("[%s] ended with: %v", conn.ID(), err)
	}
	l.logger.Info("%s closed after %v (in=%d out=%d) [%s]",
		peer, time.Since(start).Truncate(time.Millisecond), conn.BytesIn(), conn.BytesOut(), conn.ID())
}

// dial resolves the remote host and makes one connection attempt.
func (l *Listener) dial(ctx context.Context) (net.Conn, error) {
	host := l.settings.RemoteHost
	if rr, ok := l.dialer.(transport.RemoteResolver); !ok || !rr.ResolvesRemotely() {
		ip, err := l.resolver.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		host = ip.String()
	}
	addr := util.FormatAddr(host, l.settings.RemotePort)

	if l.settings.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.settings.DialTimeout)
		defer cancel()
	}
	conn, err := l.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}
	return conn, nil
}

// shutdown stops every live connection and waits for them to close.
func (l *Listener) shutdown() {
	if n := l.registry.Len(); n > 0 {
		l.logger.Info("closing %d active connection(s)", n)
	}
	l.registry.CancelAll()
	l.wg.Wait()

	s := l.metrics.Snapshot()
	l.logger.Info("listener stopped: %d connection(s), %d dial failure(s), %d bytes in, %d bytes out",
		s.ConnectionsTotal, s.DialFailures, s.BytesIn, s.BytesOut)
	l.logger.Debug("metrics: %s", l.metrics.JSON())
}

func (l *Listener) statsLoop(ctx context.Context) {
	tick := time.NewTicker(l.settings.StatsInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s := l.metrics.Snapshot()
			l.logger.Info("stats: %d active, %d total, %d bytes in, %d bytes out, %d errors",
				s.ConnectionsActive, s.ConnectionsTotal, s.BytesIn, s.BytesOut, s.ErrorsTotal)
		}
	}
}

// sleepCtx sleeps for at most d, returning early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
