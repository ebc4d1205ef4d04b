package batchqueue

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses spilled batches
type Codec interface {
	Name() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// CodecByName returns the Codec registered under name
func CodecByName(name string) (Codec, error) {
	switch name {
	case "lz4":
		return LZ4Codec{}, nil
	case "zstd":
		return ZstdCodec{}, nil
	}
	return nil, fmt.Errorf("Unknown spill codec %q", name)
}

// LZ4Codec compresses with the lz4 frame format
type LZ4Codec struct{}

// Name returns "lz4"
func (LZ4Codec) Name() string { return "lz4" }

// NewWriter wraps w in an lz4 compressor
func (LZ4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

// NewReader wraps r in an lz4 decompressor
func (LZ4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// ZstdCodec compresses with zstd at its fastest level
type ZstdCodec struct{}

// Name returns "zstd"
func (ZstdCodec) Name() string { return "zstd" }

// NewWriter wraps w in a zstd encoder
func (ZstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
}

// NewReader wraps r in a zstd decoder
func (ZstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	// a single batch per file does not benefit from concurrent decoding
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}
