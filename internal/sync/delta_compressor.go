package sync

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DeltaCompressor кодирует/декодирует пакет изменений в компактный вид.
type DeltaCompressor interface {
	Compress(changes []RegionChange) ([]byte, error)
	Decompress(payload []byte) ([]RegionChange, error)
}

type passthroughCompressor struct{}

// NewPassthroughCompressor кодирует пакет как JSON без сжатия
func NewPassthroughCompressor() DeltaCompressor { return &passthroughCompressor{} }

func (p *passthroughCompressor) Compress(changes []RegionChange) ([]byte, error) {
	return json.Marshal(changes)
}

func (p *passthroughCompressor) Decompress(payload []byte) ([]RegionChange, error) {
	var res []RegionChange
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return res, nil
}

// zstdCompressor сжимает JSON пакета через zstd
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor создаёт компрессор; кодер и декодер безопасны для параллельных вызовов
func NewZstdCompressor() (DeltaCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Compress(changes []RegionChange) ([]byte, error) {
	raw, err := json.Marshal(changes)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, nil), nil
}

func (z *zstdCompressor) Decompress(payload []byte) ([]RegionChange, error) {
	raw, err := z.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	var res []RegionChange
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return res, nil
}
