// Package compress provides the compress/decompress half of the
// transport's pluggable pipeline hook, backed by zstd.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressFunc shrinks a byte slice; DecompressFunc reverses it. Both
// are the shape transport.Pipeline expects for its compress hook.
type CompressFunc func([]byte) ([]byte, error)
type DecompressFunc func([]byte) ([]byte, error)

// ZstdCompress returns a CompressFunc using a shared zstd encoder at the
// given level (zstd.SpeedDefault if level is zero).
func ZstdCompress(level zstd.EncoderLevel) (CompressFunc, error) {
	opts := []zstd.EOption{}
	if level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(level))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("compress: new zstd encoder: %w", err)
	}
	return func(src []byte) ([]byte, error) {
		return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
	}, nil
}

// ZstdDecompress returns the DecompressFunc counterpart to ZstdCompress.
func ZstdDecompress() (DecompressFunc, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: new zstd decoder: %w", err)
	}
	return func(src []byte) ([]byte, error) {
		out, err := dec.DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: decode: %w", err)
		}
		return out, nil
	}, nil
}
