package codec

import (
	"io"

	"github.com/golang/snappy"
)

// snappyBlock is the largest uncompressed block in a snappy stream.
const snappyBlock = 64 << 10

var snappyFormat = &frameFormat{
	name:       "snappy",
	magic:      "sNaPpY",
	maxBlock:   snappyBlock,
	maxEncoded: snappy.MaxEncodedLen(snappyBlock),
	decodedLen: snappy.DecodedLen,
	decode:     snappy.Decode,
}

func init() {
	register(Spec{
		Name:     "snappy",
		MaxFrame: snappyFormat.maxFrame(),
		NewCompressor: func() Codec {
			return newFrameCompressor("snappy", snappyBlock, func(w io.Writer) frameWriter {
				return snappy.NewBufferedWriter(w)
			})
		},
		NewDecompressor: func() Codec { return newFrameDecompressor(snappyFormat) },
	})
}
