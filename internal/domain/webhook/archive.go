package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Payload bodies are archived compressed: a busy storefront delivers the
// same large product JSON thousands of times a day, and zstd gets an order
// of magnitude on that shape of data.

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

// CompressPayload compresses a raw webhook body for storage.
func CompressPayload(payload []byte) ([]byte, error) {
	if err := codec(); err != nil {
		return nil, fmt.Errorf("init payload codec: %w", err)
	}
	return encoder.EncodeAll(payload, nil), nil
}

// DecompressPayload restores a stored body.
func DecompressPayload(compressed []byte) ([]byte, error) {
	if err := codec(); err != nil {
		return nil, fmt.Errorf("init payload codec: %w", err)
	}
	out, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}

// HashPayload computes the deduplication key for a raw body.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
