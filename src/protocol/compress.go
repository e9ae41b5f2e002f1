package protocol

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
)

// EncodeAll/DecodeAll are safe for concurrent use, so one pair serves every
// connection.
func codecs() (*zstd.Encoder, *zstd.Decoder) {
	codecOnce.Do(func() {
		var err error
		encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("zstd encoder: %v", err))
		}
		decoder, err = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(64<<20))
		if err != nil {
			panic(fmt.Sprintf("zstd decoder: %v", err))
		}
	})
	return encoder, decoder
}

// Compress returns the zstd encoding of payload.
func Compress(payload []byte) []byte {
	enc, _ := codecs()
	return enc.EncodeAll(payload, make([]byte, 0, len(payload)/2+16))
}

// Decompress reverses Compress.
func Decompress(payload []byte) ([]byte, error) {
	_, dec := codecs()
	out, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
