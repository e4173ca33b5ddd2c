package codec

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"

	ncerr "tcptunnel/internal/errors"
)

// pump drives c the way a pipeline drainer does: input "arrives"
// window bytes at a time, unconsumed bytes are re-offered, and the
// stream is finalized once everything has arrived.
func pump(t *testing.T, c Codec, input []byte, window, outSize int) ([]byte, error) {
	t.Helper()

	var out bytes.Buffer
	dst := make([]byte, outSize)
	pos, avail := 0, 0

	for {
		if avail < len(input) {
			avail = min(len(input), avail+window)
		}
		offered := avail - pos
		consumed, produced, err := c.Transform(input[pos:avail], dst, false)
		if err != nil {
			return out.Bytes(), err
		}
		if consumed < 0 || consumed > offered {
			t.Fatalf("consumed %d of %d offered", consumed, offered)
		}
		if produced < 0 || produced > len(dst) {
			t.Fatalf("produced %d into %d-byte buffer", produced, len(dst))
		}
		out.Write(dst[:produced])
		pos += consumed

		if avail == len(input) && (pos == len(input) || (consumed == 0 && produced == 0)) {
			break
		}
	}

	for i := 0; ; i++ {
		if i > 1<<20 {
			t.Fatal("finalization never settled")
		}
		consumed, produced, err := c.Transform(input[pos:], dst, true)
		if err != nil {
			return out.Bytes(), err
		}
		out.Write(dst[:produced])
		pos += consumed
		if consumed == 0 && produced == 0 {
			break
		}
	}
	if pos != len(input) {
		t.Fatalf("finalization left %d bytes unconsumed", len(input)-pos)
	}
	return out.Bytes(), nil
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b) //nolint:gosec // test data
	return b
}

func compressibleBytes(n int) []byte {
	phrase := []byte("the quick brown fox jumps over the lazy dog. ")
	b := make([]byte, 0, n+len(phrase))
	for len(b) < n {
		b = append(b, phrase...)
	}
	return b[:n]
}

func TestRoundTrip(t *testing.T) {
	inputs := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x42}},
		{"small random", randomBytes(1000, 1)},
		{"compressible 1MiB", compressibleBytes(1<<20 + 17)},
		{"random 1MiB", randomBytes(1<<20+17, 2)},
	}
	shapes := []struct {
		name    string
		window  int
		outSize int
	}{
		{"large window", 1 << 20, 32 << 10},
		{"40k window", 40 << 10, 32 << 10},
		{"tiny output", 40 << 10, 7},
	}

	for _, name := range Names() {
		spec, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		for _, in := range inputs {
			for _, sh := range shapes {
				if sh.outSize < 64 && len(in.data) > 1000 {
					continue // covered by smaller inputs; too slow otherwise
				}
				t.Run(name+"/"+in.name+"/"+sh.name, func(t *testing.T) {
					compressed, err := pump(t, spec.NewCompressor(), in.data, sh.window, sh.outSize)
					if err != nil {
						t.Fatalf("compress: %v", err)
					}
					got, err := pump(t, spec.NewDecompressor(), compressed, sh.window, sh.outSize)
					if err != nil {
						t.Fatalf("decompress: %v", err)
					}
					if !bytes.Equal(got, in.data) {
						t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(in.data))
					}
				})
			}
		}
	}
}

// TestDecompress_ByteAtATime offers the compressed stream one byte at a
// time so every chunk spans many calls.
func TestDecompress_ByteAtATime(t *testing.T) {
	data := append(compressibleBytes(3000), randomBytes(3000, 3)...)
	for _, name := range []string{"snappy", "s2"} {
		t.Run(name, func(t *testing.T) {
			spec, _ := Lookup(name)
			compressed, err := pump(t, spec.NewCompressor(), data, 500, 1<<16)
			if err != nil {
				t.Fatal(err)
			}
			got, err := pump(t, spec.NewDecompressor(), compressed, 1, 5)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatal("mismatch")
			}
		})
	}
}

func TestLibraryInterop(t *testing.T) {
	data := append(randomBytes(70000, 4), compressibleBytes(150000)...)

	t.Run("snappy writer to our decompressor", func(t *testing.T) {
		var stream bytes.Buffer
		w := snappy.NewBufferedWriter(&stream)
		w.Write(data) //nolint:errcheck
		w.Close()

		spec, _ := Lookup("snappy")
		got, err := pump(t, spec.NewDecompressor(), stream.Bytes(), 8192, 4096)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("mismatch")
		}
	})

	t.Run("our compressor to snappy reader", func(t *testing.T) {
		spec, _ := Lookup("snappy")
		stream, err := pump(t, spec.NewCompressor(), data, 8192, 4096)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(snappy.NewReader(bytes.NewReader(stream)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("mismatch")
		}
	})

	t.Run("s2 writer to our decompressor", func(t *testing.T) {
		var stream bytes.Buffer
		w := s2.NewWriter(&stream, s2.WriterBlockSize(s2Block))
		w.Write(data) //nolint:errcheck
		w.Close()

		spec, _ := Lookup("s2")
		got, err := pump(t, spec.NewDecompressor(), stream.Bytes(), 8192, 4096)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("mismatch")
		}
	})

	t.Run("our compressor to s2 reader", func(t *testing.T) {
		spec, _ := Lookup("s2")
		stream, err := pump(t, spec.NewCompressor(), data, 8192, 4096)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(s2.NewReader(bytes.NewReader(stream)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("mismatch")
		}
	})
}

func compressAll(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	spec, _ := Lookup(name)
	out, err := pump(t, spec.NewCompressor(), data, len(data)+1, 1<<17)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestDecompress_Corruption(t *testing.T) {
	good := compressAll(t, "snappy", compressibleBytes(5000))
	identLen := chunkHeaderLen + len("sNaPpY")

	tests := []struct {
		name   string
		stream func() []byte
	}{
		{"bad checksum", func() []byte {
			b := bytes.Clone(good)
			b[identLen+chunkHeaderLen] ^= 0xff
			return b
		}},
		{"missing identifier", func() []byte {
			return bytes.Clone(good[identLen:])
		}},
		{"wrong identifier", func() []byte {
			return compressAll(t, "s2", compressibleBytes(100))
		}},
		{"reserved chunk type", func() []byte {
			b := bytes.Clone(good[:identLen])
			return append(b, 0x02, 0x01, 0x00, 0x00, 0x00)
		}},
		{"oversized chunk", func() []byte {
			b := bytes.Clone(good[:identLen])
			return append(b, chunkTypeCompressed, 0xff, 0xff, 0x7f)
		}},
		{"short compressed chunk", func() []byte {
			b := bytes.Clone(good[:identLen])
			return append(b, chunkTypeCompressed, 0x02, 0x00, 0x00, 0x00, 0x00)
		}},
	}

	spec, _ := Lookup("snappy")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pump(t, spec.NewDecompressor(), tt.stream(), 1<<16, 1<<16)
			if !ncerr.Is(err, ncerr.ErrCorruptStream) {
				t.Fatalf("err = %v, want ErrCorruptStream", err)
			}
			var ce *ncerr.CodecError
			if !ncerr.As(err, &ce) || ce.Op != "decompress" || ce.Codec != "snappy" {
				t.Errorf("err = %#v, want CodecError{snappy, decompress}", err)
			}
		})
	}
}

func TestDecompress_Truncated(t *testing.T) {
	for _, name := range []string{"snappy", "s2"} {
		t.Run(name, func(t *testing.T) {
			stream := compressAll(t, name, randomBytes(20000, 5))
			spec, _ := Lookup(name)
			_, err := pump(t, spec.NewDecompressor(), stream[:len(stream)-3], 1<<16, 1<<16)
			if !ncerr.Is(err, ncerr.ErrTruncatedStream) {
				t.Fatalf("err = %v, want ErrTruncatedStream", err)
			}
		})
	}
}

func TestDecompress_SkippableChunks(t *testing.T) {
	data := compressibleBytes(2000)
	stream := compressAll(t, "snappy", data)
	identLen := chunkHeaderLen + len("sNaPpY")

	var b bytes.Buffer
	b.Write(stream[:identLen])
	b.Write([]byte{chunkTypePadding, 0x03, 0x00, 0x00, 0, 0, 0})
	b.Write([]byte{0x80, 0x02, 0x00, 0x00, 'h', 'i'})
	b.Write(stream[identLen:])

	spec, _ := Lookup("snappy")
	got, err := pump(t, spec.NewDecompressor(), b.Bytes(), 3, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("mismatch")
	}
}

func TestCompress_FinalizeOnce(t *testing.T) {
	spec, _ := Lookup("snappy")
	c := spec.NewCompressor()
	dst := make([]byte, 1<<17)

	consumed, produced, err := c.Transform([]byte("hello"), dst, true)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 5 || produced == 0 {
		t.Fatalf("consumed=%d produced=%d", consumed, produced)
	}

	consumed, produced, err = c.Transform(nil, dst, true)
	if err != nil || consumed != 0 || produced != 0 {
		t.Fatalf("second final: consumed=%d produced=%d err=%v", consumed, produced, err)
	}

	if _, _, err := c.Transform([]byte("late"), dst, false); err == nil {
		t.Fatal("expected error for input after finalization")
	}
}

func TestCompress_HoldsBackOutputUntilDrained(t *testing.T) {
	spec, _ := Lookup("snappy")
	c := spec.NewCompressor()
	src := randomBytes(10000, 6)
	dst := make([]byte, 100)

	consumed, produced, err := c.Transform(src, dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(src) || produced != len(dst) {
		t.Fatalf("consumed=%d produced=%d", consumed, produced)
	}

	// While encoded output is queued, no further input is taken.
	consumed, produced, err = c.Transform(src, dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 0 || produced != len(dst) {
		t.Fatalf("consumed=%d produced=%d, want 0/%d", consumed, produced, len(dst))
	}
}

// transformAll offers src without finalizing and keeps calling while
// dst comes back full, the way a drainer does between reads.
func transformAll(t *testing.T, c Codec, src []byte, outSize int) []byte {
	t.Helper()
	var out bytes.Buffer
	dst := make([]byte, outSize)
	for {
		consumed, produced, err := c.Transform(src, dst, false)
		if err != nil {
			t.Fatal(err)
		}
		out.Write(dst[:produced])
		src = src[consumed:]
		if produced < len(dst) && (len(src) == 0 || consumed == 0) {
			break
		}
	}
	if len(src) != 0 {
		t.Fatalf("%d bytes left unconsumed", len(src))
	}
	return out.Bytes()
}

// TestMessagesPassWithoutFinalizing sends each message through a
// compressor and decompressor and expects it back in full before the
// next one is offered.
func TestMessagesPassWithoutFinalizing(t *testing.T) {
	for _, name := range []string{"snappy", "s2"} {
		t.Run(name, func(t *testing.T) {
			spec, _ := Lookup(name)
			comp, decomp := spec.NewCompressor(), spec.NewDecompressor()
			for i := 1; i <= 40; i++ {
				msg := randomBytes(i*1000, int64(i))
				if i%2 == 1 {
					msg = compressibleBytes(i * 1000)
				}
				got := transformAll(t, decomp, transformAll(t, comp, msg, 32*1024), 32*1024)
				if !bytes.Equal(got, msg) {
					t.Fatalf("message %d: got %d bytes back, want %d", i, len(got), len(msg))
				}
			}
		})
	}
}

func TestMaxFrameCoversChunks(t *testing.T) {
	for _, name := range []string{"snappy", "s2"} {
		t.Run(name, func(t *testing.T) {
			spec, _ := Lookup(name)
			stream := compressAll(t, name, randomBytes(1<<20, 7))
			for len(stream) > 0 {
				n := chunkHeaderLen + (int(stream[1]) | int(stream[2])<<8 | int(stream[3])<<16)
				if n > spec.MaxFrame {
					t.Fatalf("chunk of %d bytes exceeds MaxFrame %d", n, spec.MaxFrame)
				}
				stream = stream[n:]
			}
		})
	}
}

func TestLookup(t *testing.T) {
	names := Names()
	want := []string{"none", "s2", "snappy"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	if _, err := Lookup(Default); err != nil {
		t.Errorf("default codec: %v", err)
	}

	_, err := Lookup("lzma")
	if !ncerr.Is(err, ncerr.ErrUnknownCodec) {
		t.Errorf("err = %v, want ErrUnknownCodec", err)
	}
}

func TestSpec_FreshInstances(t *testing.T) {
	spec, _ := Lookup("snappy")
	a, b := spec.New(true), spec.New(true)
	if a == b {
		t.Fatal("compressors must not be shared")
	}
	if _, ok := spec.New(false).(*frameDecompressor); !ok {
		t.Fatal("New(false) should build a decompressor")
	}
}

func TestIdentity_PartialConsumption(t *testing.T) {
	spec, _ := Lookup("none")
	c := spec.NewCompressor()
	dst := make([]byte, 4)

	consumed, produced, err := c.Transform([]byte("abcdefgh"), dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 4 || produced != 4 || string(dst) != "abcd" {
		t.Fatalf("consumed=%d produced=%d dst=%q", consumed, produced, dst)
	}
}

func BenchmarkSnappyCompress(b *testing.B) {
	spec, _ := Lookup("snappy")
	src := compressibleBytes(40 << 10)
	dst := make([]byte, 1<<17)
	c := spec.NewCompressor()

	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Transform(src, dst, false) //nolint:errcheck
	}
}
