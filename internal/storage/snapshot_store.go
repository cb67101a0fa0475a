package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/navgraph/internal/navgraph"
)

// ErrSnapshotNotFound возвращается, если снимка с таким именем нет
var ErrSnapshotNotFound = errors.New("storage: snapshot not found")

// SnapshotInfo - метаданные сохранённого снимка
type SnapshotInfo struct {
	Name       string    `json:"name"`
	Width      int       `json:"width"`
	Depth      int       `json:"depth"`
	Neighbours int       `json:"neighbours"`
	Bytes      int       `json:"bytes"`
	Compressed int       `json:"compressed"`
	SavedAt    time.Time `json:"saved_at"`
}

// SnapshotStore сохраняет снимки графа между перезапусками сервиса
type SnapshotStore interface {
	Save(ctx context.Context, name string, snap *navgraph.Snapshot) (SnapshotInfo, error)
	Load(ctx context.Context, name string) (*navgraph.Snapshot, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]SnapshotInfo, error)
	Close() error
}

// snapshotCodec сжимает protobuf-представление снимка zstd.
// EncodeAll/DecodeAll безопасны для параллельного использования.
type snapshotCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newSnapshotCodec() (*snapshotCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &snapshotCodec{enc: enc, dec: dec}, nil
}

func (c *snapshotCodec) encode(name string, snap *navgraph.Snapshot) ([]byte, SnapshotInfo) {
	raw := snap.Marshal()
	data := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	return data, SnapshotInfo{
		Name:       name,
		Width:      snap.Layout.Width,
		Depth:      snap.Layout.Depth,
		Neighbours: int(snap.Neighbours),
		Bytes:      len(raw),
		Compressed: len(data),
		SavedAt:    time.Now().UTC(),
	}
}

func (c *snapshotCodec) decode(data []byte) (*navgraph.Snapshot, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", navgraph.ErrCorruptSnapshot, err)
	}
	return navgraph.UnmarshalSnapshot(raw)
}

func (c *snapshotCodec) close() {
	c.enc.Close()
	c.dec.Close()
}

func validName(name string) error {
	if name == "" {
		return errors.New("storage: empty snapshot name")
	}
	return nil
}
