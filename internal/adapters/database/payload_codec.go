package database

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce    sync.Once
	codecEncoder *zstd.Encoder
	codecDecoder *zstd.Decoder
	codecErr     error
)

func initCodec() {
	codecOnce.Do(func() {
		codecEncoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			codecErr = fmt.Errorf("failed to create zstd encoder: %w", codecErr)
			return
		}
		codecDecoder, codecErr = zstd.NewReader(nil)
		if codecErr != nil {
			codecErr = fmt.Errorf("failed to create zstd decoder: %w", codecErr)
		}
	})
}

// compressPayload zstd-encodes an inline attachment body.
func compressPayload(data []byte) ([]byte, error) {
	initCodec()
	if codecErr != nil {
		return nil, codecErr
	}
	return codecEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// decompressPayload reverses compressPayload.
func decompressPayload(data []byte) ([]byte, error) {
	initCodec()
	if codecErr != nil {
		return nil, codecErr
	}
	out, err := codecDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress attachment payload: %w", err)
	}
	return out, nil
}
