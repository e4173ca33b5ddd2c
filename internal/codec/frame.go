package codec

// frame.go - the chunked stream format shared by snappy and s2.
//
// Both libraries frame their block encodings the same way: a 4-byte
// header (1 byte chunk type, 3 bytes little-endian length) followed by
// the body.  Compressed and uncompressed data chunks start with a
// masked CRC-32C of the uncompressed bytes.  The libraries only expose
// pull-style readers, which cannot report how many input bytes a call
// used, so decompression parses the frames here and hands each block
// to the library's block decoder.

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	ncerr "tcptunnel/internal/errors"
)

const (
	chunkTypeCompressed       = 0x00
	chunkTypeUncompressed     = 0x01
	chunkTypePadding          = 0xfe
	chunkTypeStreamIdentifier = 0xff

	chunkHeaderLen = 4
	checksumLen    = 4
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the checksum the framing format stores per data chunk.
func maskedCRC(b []byte) uint32 {
	c := crc32.Update(0, crcTable, b)
	return c>>15 | c<<17 + 0xa282ead8
}

// frameFormat parameterises the parser for one library.
type frameFormat struct {
	name       string
	magic      string // stream identifier body
	maxBlock   int    // largest uncompressed block
	maxEncoded int    // largest encoded block
	decodedLen func(src []byte) (int, error)
	decode     func(dst, src []byte) ([]byte, error)
}

func (f *frameFormat) maxBody() int {
	if f.maxEncoded > f.maxBlock {
		return checksumLen + f.maxEncoded
	}
	return checksumLen + f.maxBlock
}

// maxFrame is the longest chunk, header included.
func (f *frameFormat) maxFrame() int { return chunkHeaderLen + f.maxBody() }

// ── compressor ───────────────────────────────────────────────────────

// frameWriter is the subset of snappy.Writer and s2.Writer we drive.
type frameWriter interface {
	io.Writer
	Flush() error
	Close() error
}

// frameCompressor feeds input through a library stream writer that
// emits into an in-memory queue, flushing after every call so each
// call's input leaves as complete chunks.
type frameCompressor struct {
	name   string
	w      frameWriter
	queue  *bytes.Buffer // encoded bytes not yet handed out
	maxIn  int
	closed bool
}

func newFrameCompressor(name string, maxIn int, open func(io.Writer) frameWriter) *frameCompressor {
	q := &bytes.Buffer{}
	return &frameCompressor{name: name, w: open(q), queue: q, maxIn: maxIn}
}

func (c *frameCompressor) Transform(src, dst []byte, final bool) (consumed, produced int, err error) {
	produced, _ = c.queue.Read(dst)
	if c.queue.Len() > 0 {
		return 0, produced, nil
	}

	if len(src) > 0 {
		if c.closed {
			return 0, produced, ncerr.WrapCodec(c.name, "compress", errFinalized)
		}
		chunk := src[:min(len(src), c.maxIn)]
		if _, err := c.w.Write(chunk); err != nil {
			return 0, produced, ncerr.WrapCodec(c.name, "compress", err)
		}
		if err := c.w.Flush(); err != nil {
			return 0, produced, ncerr.WrapCodec(c.name, "compress", err)
		}
		consumed = len(chunk)
	}

	if final && !c.closed && consumed == len(src) {
		c.closed = true
		if err := c.w.Close(); err != nil {
			return consumed, produced, ncerr.WrapCodec(c.name, "compress", err)
		}
	}

	n, _ := c.queue.Read(dst[produced:])
	return consumed, produced + n, nil
}

var errFinalized = ncerr.New("input after finalization")

// ── decompressor ─────────────────────────────────────────────────────

// frameDecompressor consumes whole chunks only.  A chunk that is not
// yet complete in src is left unconsumed for the caller to re-offer
// with more bytes behind it.
type frameDecompressor struct {
	f       *frameFormat
	block   []byte // decode scratch, reused across chunks
	pending []byte // decoded bytes not yet written to dst
	started bool   // stream identifier seen
}

func newFrameDecompressor(f *frameFormat) *frameDecompressor {
	return &frameDecompressor{f: f}
}

func (d *frameDecompressor) Transform(src, dst []byte, final bool) (consumed, produced int, err error) {
	for {
		n := copy(dst[produced:], d.pending)
		d.pending = d.pending[n:]
		produced += n
		if len(d.pending) > 0 || produced == len(dst) {
			return consumed, produced, nil
		}

		k, err := d.next(src[consumed:])
		if err != nil {
			return consumed, produced, ncerr.WrapCodec(d.f.name, "decompress", err)
		}
		if k == 0 {
			break
		}
		consumed += k
	}

	if final && consumed < len(src) {
		return consumed, produced, ncerr.WrapCodec(d.f.name, "decompress", ncerr.ErrTruncatedStream)
	}
	return consumed, produced, nil
}

// next parses one chunk from the front of src.  It returns 0 when src
// does not yet hold a complete chunk.
func (d *frameDecompressor) next(src []byte) (int, error) {
	if len(src) < chunkHeaderLen {
		return 0, nil
	}
	typ := src[0]
	n := int(src[1]) | int(src[2])<<8 | int(src[3])<<16
	if n > d.f.maxBody() {
		return 0, ncerr.ErrCorruptStream
	}
	if len(src) < chunkHeaderLen+n {
		return 0, nil
	}
	body := src[chunkHeaderLen : chunkHeaderLen+n]

	switch {
	case typ == chunkTypeStreamIdentifier:
		if string(body) != d.f.magic {
			return 0, ncerr.ErrCorruptStream
		}
		d.started = true

	case !d.started:
		return 0, ncerr.ErrCorruptStream

	case typ == chunkTypeCompressed:
		if n < checksumLen {
			return 0, ncerr.ErrCorruptStream
		}
		want := binary.LittleEndian.Uint32(body)
		encoded := body[checksumLen:]
		dLen, err := d.f.decodedLen(encoded)
		if err != nil || dLen > d.f.maxBlock {
			return 0, ncerr.ErrCorruptStream
		}
		out, err := d.f.decode(d.scratch(), encoded)
		if err != nil {
			return 0, ncerr.ErrCorruptStream
		}
		if maskedCRC(out) != want {
			return 0, ncerr.ErrCorruptStream
		}
		d.pending = out

	case typ == chunkTypeUncompressed:
		if n < checksumLen || n-checksumLen > d.f.maxBlock {
			return 0, ncerr.ErrCorruptStream
		}
		want := binary.LittleEndian.Uint32(body)
		raw := body[checksumLen:]
		if maskedCRC(raw) != want {
			return 0, ncerr.ErrCorruptStream
		}
		// src belongs to the caller; keep our own copy.
		k := copy(d.scratch(), raw)
		d.pending = d.block[:k]

	case typ >= 0x80 && typ <= chunkTypePadding:
		// Skippable.

	default:
		// 0x02-0x7f are reserved and unskippable.
		return 0, ncerr.ErrCorruptStream
	}
	return chunkHeaderLen + n, nil
}

func (d *frameDecompressor) scratch() []byte {
	if d.block == nil {
		d.block = make([]byte, d.f.maxBlock)
	}
	return d.block
}
