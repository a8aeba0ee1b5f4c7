package index

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// codec compresses index values above a size threshold. Compressed values
// are recognised by the zstd frame magic, so small values stay plain JSON.
type codec struct {
	minSize int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

func newCodec(minSize int) (*codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &codec{minSize: minSize, enc: enc, dec: dec}, nil
}

func (c *codec) encode(value []byte) []byte {
	if c.minSize <= 0 || len(value) < c.minSize {
		return value
	}
	return c.enc.EncodeAll(value, make([]byte, 0, len(value)/2))
}

func (c *codec) decode(value []byte) ([]byte, error) {
	if len(value) > len(zstdMagic) && bytes.Equal(value[:len(zstdMagic)], zstdMagic) {
		out, err := c.dec.DecodeAll(value, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing value: %w", err)
		}
		return out, nil
	}
	return value, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
