// Package pipeline moves one direction of a tunnelled connection: bytes
// read from a source socket pass through a staging buffer and a codec
// and are written to a destination socket.
//
// Each Pipeline runs two goroutines.  The filler reads from the source
// into the staging buffer; the drainer hands buffered bytes to the
// codec and writes whatever it produces.  The staging buffer is the only
// link between them, so a slow destination eventually stops the filler
// from reading and TCP flow control pushes back on the sender.
package pipeline

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"tcptunnel/internal/codec"
	ncerr "tcptunnel/internal/errors"
	"tcptunnel/internal/metrics"
	"tcptunnel/internal/staging"
	"tcptunnel/util"
)

// State is the lifecycle phase of a Pipeline.
type State int32

const (
	Running  State = iota // relaying
	Draining              // end of input seen, flushing the codec
	Faulted               // codec or write failure
	Closed                // Run has returned
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Faulted:
		return "faulted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config sizes a Pipeline.
type Config struct {
	BlockSize  int // largest single socket read
	BufferSize int // staging buffer capacity
}

// Pipeline relays one direction of a connection through one codec.
type Pipeline struct {
	name      string
	src, dst  net.Conn
	codec     codec.Codec
	buf       *staging.Buffer
	blockSize int

	logger  *util.Logger
	metrics *metrics.Collector

	state    atomic.Int32
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// New builds a Pipeline that reads src, transforms through c and
// writes dst.  The codec instance must not be shared with any other
// Pipeline.  A nil logger discards everything but errors to stderr;
// a nil collector disables metrics.
func New(name string, src, dst net.Conn, c codec.Codec, cfg Config, logger *util.Logger, m *metrics.Collector) *Pipeline {
	if cfg.BlockSize < 1 {
		cfg.BlockSize = util.DefaultBufSize
	}
	if cfg.BufferSize < cfg.BlockSize {
		cfg.BufferSize = cfg.BlockSize
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Pipeline{
		name:      name,
		src:       src,
		dst:       dst,
		codec:     c,
		buf:       staging.New(cfg.BufferSize),
		blockSize: cfg.BlockSize,
		logger:    logger,
		metrics:   m,
	}
}

// Name returns the label used in log lines.
func (p *Pipeline) Name() string { return p.name }

// Destination returns the socket this Pipeline writes to.
func (p *Pipeline) Destination() net.Conn { return p.dst }

// State returns the current lifecycle phase.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// BytesIn returns the number of bytes read from the source.
func (p *Pipeline) BytesIn() int64 { return p.bytesIn.Load() }

// BytesOut returns the number of bytes written to the destination.
func (p *Pipeline) BytesOut() int64 { return p.bytesOut.Load() }

// Run relays until the source reaches end of input and the codec has
// been finalized and flushed, the Pipeline faults, or ctx is
// cancelled.  Cancellation is a normal exit and returns nil; a codec
// or write failure is returned.  Run neither closes nor half-closes
// either socket.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Blocked socket calls do not watch ctx; expire their deadlines.
	stopRead := context.AfterFunc(ctx, func() { util.InterruptRead(p.src) })
	defer stopRead()
	stopWrite := context.AfterFunc(ctx, func() { util.InterruptWrite(p.dst) })
	defer stopWrite()

	filled := make(chan struct{})
	go func() {
		defer close(filled)
		p.fill(ctx)
	}()

	err := p.drain(ctx)
	if err != nil {
		cancel()
	}
	<-filled

	p.state.Store(int32(Closed))
	p.logger.Debug("%s: closed (in=%d out=%d)", p.name, p.BytesIn(), p.BytesOut())
	return err
}

// fill reads the source into the staging buffer until end of input.
// Read errors other than a clean EOF are logged and then treated as
// end of input so the drainer still finalizes the codec.
func (p *Pipeline) fill(ctx context.Context) {
	defer p.buf.Complete()

	for {
		region, err := p.buf.Reserve(ctx, p.blockSize)
		if err != nil {
			return
		}
		n, err := p.src.Read(region)
		p.buf.Commit(n)
		if n > 0 {
			p.bytesIn.Add(int64(n))
			p.metrics.BytesReceived(int64(n))
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case util.IsHarmless(err):
				p.logger.Debug("%s: end of input", p.name)
			default:
				p.logger.Error("%s: read %s: %v", p.name, p.src.RemoteAddr(), err)
				p.metrics.RecordError(fmt.Sprintf("%s: read: %v", p.name, err))
			}
			return
		}
	}
}

// drain feeds buffered bytes to the codec and writes its output.
func (p *Pipeline) drain(ctx context.Context) error {
	outp := util.GetBuf()
	defer util.PutBuf(outp)
	out := *outp

	need := 1
	for {
		in, done, err := p.buf.Peek(ctx, need)
		if err != nil {
			return nil // cancelled
		}
		if ctx.Err() != nil {
			p.buf.Release(0)
			return nil
		}
		if done {
			return p.finish(ctx, in, out)
		}

		consumed, produced, err := p.transform(in, out)
		p.buf.Release(consumed)
		if err != nil {
			return p.fail(ctx, err)
		}

		switch {
		case consumed > 0 || produced > 0:
			need = 1
		case len(in) >= p.buf.Cap():
			return p.fail(ctx, ncerr.ErrStalled)
		default:
			// Nothing usable yet; wait for more than was offered.
			need = len(in) + 1
		}
	}
}

// transform runs the codec over in and writes its output.  A call that
// fills out may leave output held back inside the codec, so the codec
// is called again on the rest of in until its output stops filling out.
// Nothing stays buffered once the input already offered is used up.
func (p *Pipeline) transform(in, out []byte) (consumed, produced int, err error) {
	for {
		c, n, err := p.codec.Transform(in[consumed:], out, false)
		consumed += c
		produced += n
		if err != nil {
			return consumed, produced, err
		}
		if n > 0 {
			if err := p.write(out[:n]); err != nil {
				return consumed, produced, err
			}
		}
		if n < len(out) {
			return consumed, produced, nil
		}
	}
}

// finish finalizes the codec with the remaining input and keeps
// calling it until a call neither consumes nor produces.
func (p *Pipeline) finish(ctx context.Context, rest, out []byte) error {
	p.state.Store(int32(Draining))
	p.logger.Debug("%s: draining %d buffered bytes", p.name, len(rest))

	total := 0
	defer func() { p.buf.Release(total) }()

	for {
		consumed, produced, err := p.codec.Transform(rest[total:], out, true)
		total += consumed
		if err != nil {
			return p.fail(ctx, err)
		}
		if produced > 0 {
			if err := p.write(out[:produced]); err != nil {
				return p.fail(ctx, err)
			}
		}
		if consumed == 0 && produced == 0 {
			return nil
		}
	}
}

func (p *Pipeline) write(b []byte) error {
	n, err := p.dst.Write(b)
	if n > 0 {
		p.bytesOut.Add(int64(n))
		p.metrics.BytesSent(int64(n))
	}
	if err != nil {
		return ncerr.Wrap("write", p.dst.RemoteAddr().String(), err)
	}
	return nil
}

// fail marks the Pipeline faulted unless the failure is a side effect
// of cancellation, in which case the exit is clean.
func (p *Pipeline) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	p.state.Store(int32(Faulted))
	p.logger.Error("%s: %v", p.name, err)
	p.metrics.RecordError(fmt.Sprintf("%s: %v", p.name, err))
	return fmt.Errorf("%s: %w", p.name, err)
}
