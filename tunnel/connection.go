package tunnel

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"tcptunnel/internal/codec"
	ncerr "tcptunnel/internal/errors"
	"tcptunnel/internal/metrics"
	"tcptunnel/internal/pipeline"
	"tcptunnel/util"
)

// Connection relays one accepted socket and its dialled counterpart.
// It owns both sockets and closes them when Start returns.
type Connection struct {
	id       uuid.UUID
	inbound  net.Conn
	outbound net.Conn
	settings Settings
	logger   *util.Logger

	upstream   *pipeline.Pipeline // inbound → outbound
	downstream *pipeline.Pipeline // outbound → inbound
}

// NewConnection pairs inbound with outbound.  Each direction gets its
// own fresh codec instance from spec.
func NewConnection(inbound, outbound net.Conn, s Settings, spec codec.Spec, logger *util.Logger, m *metrics.Collector) *Connection {
	s = s.withDefaults()
	if logger == nil {
		logger = util.NewLogger(0)
	}
	id := uuid.New()
	logger = logger.Named("[" + id.String()[:8] + "]")

	cfg := pipeline.Config{BlockSize: s.BlockSize, BufferSize: s.BufferSize}
	return &Connection{
		id:         id,
		inbound:    inbound,
		outbound:   outbound,
		settings:   s,
		logger:     logger,
		upstream:   pipeline.New("upstream", inbound, outbound, spec.New(s.ClientMode), cfg, logger, m),
		downstream: pipeline.New("downstream", outbound, inbound, spec.New(!s.ClientMode), cfg, logger, m),
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// BytesIn returns bytes read from the inbound socket.
func (c *Connection) BytesIn() int64 { return c.upstream.BytesIn() }

// BytesOut returns bytes written to the inbound socket.
func (c *Connection) BytesOut() int64 { return c.downstream.BytesOut() }

// Start relays in both directions and blocks until both pipelines have
// stopped, then closes both sockets.  Cancelling ctx stops both
// directions.  The returned error joins the pipeline faults; clean
// ends and cancellation return nil.
func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.close()

	c.logger.Debug("relaying %s ⇄ %s (%s, %s)",
		c.inbound.RemoteAddr(), c.outbound.RemoteAddr(), c.settings.Role(), c.settings.Codec)

	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	for i, p := range []*pipeline.Pipeline{c.upstream, c.downstream} {
		wg.Add(1)
		go func(i int, p *pipeline.Pipeline) {
			defer wg.Done()
			errs[i] = p.Run(ctx)
			if errs[i] == nil && ctx.Err() == nil && c.settings.HalfClose && c.halfClose(p) {
				return
			}
			cancel()
		}(i, p)
	}
	wg.Wait()

	return ncerr.Join(errs[0], errs[1])
}

// halfClose shuts the write side of p's destination so the peer sees
// end of input while the opposite direction keeps running.  It reports
// whether the sibling may continue.
func (c *Connection) halfClose(p *pipeline.Pipeline) bool {
	if err := util.CloseWrite(p.Destination()); err != nil {
		c.logger.Debug("%s: half-close %s: %v", p.Name(), p.Destination().RemoteAddr(), err)
		return false
	}
	c.logger.Debug("%s: finished, write side closed", p.Name())
	return true
}

// close shuts both sockets at once; each may wait up to the linger
// time for its peer to finish.
func (c *Connection) close() {
	var wg sync.WaitGroup
	for _, conn := range []net.Conn{c.inbound, c.outbound} {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			if err := util.CloseGracefully(conn, c.settings.Linger); err != nil && !util.IsHarmless(err) {
				c.logger.Error("close %s: %v", conn.RemoteAddr(), err)
			}
		}(conn)
	}
	wg.Wait()
}
