// Package sampler содержит источники высот и препятствий для navgraph:
// ровную плоскость, рельеф на шуме Перлина и индекс полигональных препятствий.
package sampler

import (
	"context"

	"github.com/annel0/navgraph/internal/navgraph"
)

// Flat - ровная проходимая поверхность на заданной высоте
type Flat struct {
	Height  float64
	Penalty uint32
}

// Sample реализует navgraph.Sampler
func (f Flat) Sample(ctx context.Context, rect navgraph.IntRect, _ navgraph.GridTransform) ([]navgraph.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]navgraph.Sample, rect.Area())
	for i := range out {
		out[i] = navgraph.Sample{Height: f.Height, Walkable: true, Penalty: f.Penalty}
	}
	return out, nil
}
