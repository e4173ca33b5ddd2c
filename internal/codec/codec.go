// Package codec defines the streaming codec contract used by relay
// pipelines and provides the snappy, s2 and identity implementations.
//
// A Codec is push-driven: the caller offers a range of input bytes and
// an output buffer, and the codec reports exactly how much input it
// took and how much output it wrote.  Input that was not consumed must
// be offered again on the next call; the codec never keeps a reference
// to it.  Codecs carry state across calls and are not safe for
// concurrent use; each pipeline owns its own instance.
package codec

import (
	"fmt"
	"sort"

	ncerr "tcptunnel/internal/errors"
)

// Codec is one direction of a streaming compression format.
type Codec interface {
	// Transform consumes a prefix of src and writes up to len(dst)
	// bytes of output.  With final set the caller promises no input
	// beyond src will follow; the underlying stream is finalized once,
	// and further final calls only drain output still held back.  A
	// final call that consumes and produces nothing means the codec is
	// done.  Output is only held back when dst comes back full, so a
	// caller that gets a full dst must call again, with an empty src if
	// need be, before waiting for more input.
	Transform(src, dst []byte, final bool) (consumed, produced int, err error)
}

// Spec describes a registered codec.
type Spec struct {
	Name string

	// MaxFrame is the largest input unit a decompressor must see in
	// one piece before it can make progress.  Staging buffers feeding
	// a decompressor need at least this much capacity.
	MaxFrame int

	NewCompressor   func() Codec
	NewDecompressor func() Codec
}

// New returns a fresh compressor when compress is true, otherwise a
// fresh decompressor.  Instances are never shared.
func (s Spec) New(compress bool) Codec {
	if compress {
		return s.NewCompressor()
	}
	return s.NewDecompressor()
}

// Default is the codec used when none is configured.
const Default = "snappy"

var registry = map[string]Spec{}

func register(s Spec) { registry[s.Name] = s }

// Lookup returns the codec registered under name.
func Lookup(name string) (Spec, error) {
	s, ok := registry[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w %q (available: %v)", ncerr.ErrUnknownCodec, name, Names())
	}
	return s, nil
}

// Names lists the registered codecs in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
