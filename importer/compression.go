package importer

import (
	"bufio"
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Compression identifies the container a model file is wrapped in.
type Compression uint8

const (
	// CompressionNone indicates a plain model file.
	CompressionNone Compression = iota
	// CompressionGzip indicates a gzip stream (.gz).
	CompressionGzip
	// CompressionZSTD indicates a zstd frame (.zst, .zstd).
	CompressionZSTD
	// CompressionLZ4 indicates an LZ4 frame (.lz4).
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZSTD:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// CompressionFromPath maps a file extension to a Compression.
func CompressionFromPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZSTD
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// sniff detects the compression from the leading magic bytes.
func sniff(br *bufio.Reader) Compression {
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZSTD
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionLZ4
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

type decompressReader struct {
	io.Reader
	closers []func() error
}

func (d *decompressReader) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Decompress wraps r in a decompressor if its content starts with a gzip,
// zstd or LZ4 frame header, and returns it unchanged otherwise. Closing the
// result releases decompressor state but does not close r.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	out := &decompressReader{Reader: br}
	switch sniff(br) {
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, filerrors.Wrap(err, "open gzip stream")
		}
		out.Reader = zr
		out.closers = append(out.closers, zr.Close)
	case CompressionZSTD:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, filerrors.Wrap(err, "open zstd stream")
		}
		out.Reader = zr
		out.closers = append(out.closers, func() error { zr.Close(); return nil })
	case CompressionLZ4:
		out.Reader = lz4.NewReader(br)
	}
	return out, nil
}

// Compress wraps w so that writes are encoded with c. The returned writer
// must be closed to flush the final frame; it does not close w.
func Compress(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZSTD:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, filerrors.Wrap(err, "open zstd writer")
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, filerrors.NewConfigError("compression", c, "unknown compression")
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
