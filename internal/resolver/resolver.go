// Package resolver turns the host names in tunnel settings into
// concrete IP addresses.
package resolver

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	ncerr "tcptunnel/internal/errors"
	"tcptunnel/util"
)

// LookupFunc matches [net.Resolver.LookupIP].
type LookupFunc func(ctx context.Context, network, host string) ([]net.IP, error)

// Resolver picks one address per lookup, uniformly at random among the
// addresses returned, so repeated dials spread over a multi-homed
// remote.  It is safe for concurrent use.
type Resolver struct {
	lookup LookupFunc
	noDNS  bool
	logger *util.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the system resolver.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithSeed makes the address choice deterministic.
func WithSeed(seed int64) Option {
	return func(r *Resolver) { r.rng = rand.New(rand.NewSource(seed)) } //nolint:gosec // address spreading, not security
}

// WithNoDNS accepts numeric addresses only.
func WithNoDNS(on bool) Option {
	return func(r *Resolver) { r.noDNS = on }
}

// New returns a Resolver backed by [net.DefaultResolver].
func New(logger *util.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	r := &Resolver{
		lookup: net.DefaultResolver.LookupIP,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns an address for host.  An IP literal is returned as
// is without a lookup.  Lookup failures and empty answers are reported
// as *errors.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if r.noDNS {
		return nil, &ncerr.ResolutionError{Host: host, Err: ncerr.ErrNumericOnly}
	}

	ips, err := r.lookup(ctx, "ip", host)
	if err != nil {
		return nil, &ncerr.ResolutionError{Host: host, Err: err}
	}
	if len(ips) == 0 {
		return nil, &ncerr.ResolutionError{Host: host, Err: ncerr.ErrNoAddresses}
	}

	ip := ips[r.pick(len(ips))]
	r.logger.Debug("resolved %s to %s (%d candidates)", host, ip, len(ips))
	return ip, nil
}

func (r *Resolver) pick(n int) int {
	if n == 1 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}
