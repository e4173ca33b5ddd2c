package codec

import (
	"io"

	"github.com/klauspost/compress/s2"
)

// s2Block caps s2 blocks at the snappy size so both codecs fit the
// same staging buffers.  s2 itself allows up to 4 MiB.
const s2Block = 64 << 10

var s2Format = &frameFormat{
	name:       "s2",
	magic:      "S2sTwO",
	maxBlock:   s2Block,
	maxEncoded: s2.MaxEncodedLen(s2Block),
	decodedLen: s2.DecodedLen,
	decode:     s2.Decode,
}

func init() {
	register(Spec{
		Name:     "s2",
		MaxFrame: s2Format.maxFrame(),
		NewCompressor: func() Codec {
			return newFrameCompressor("s2", s2Block, func(w io.Writer) frameWriter {
				// A single-goroutine writer encodes synchronously
				// inside Write/Flush.
				return s2.NewWriter(w, s2.WriterConcurrency(1), s2.WriterBlockSize(s2Block))
			})
		},
		NewDecompressor: func() Codec { return newFrameDecompressor(s2Format) },
	})
}
