package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/annel0/navgraph/internal/logging"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/vec"
)

var (
	ErrUnsupportedShape = errors.New("sampler: obstacle shape must be a polygon or multipolygon")
	ErrUnknownObstacle  = errors.New("sampler: unknown obstacle")
)

// Obstacle - полигон в мировой плоскости X/Z (orb.Point{X, Z}).
// Нулевой Penalty делает покрытые клетки непроходимыми, иначе добавляет штраф.
type Obstacle struct {
	ID      string       `json:"id"`
	Shape   orb.Geometry `json:"-"`
	Penalty uint32       `json:"penalty"`
	Bound   orb.Bound    `json:"bound"`

	rect rtreego.Rect
}

// Bounds реализует rtreego.Spatial
func (o *Obstacle) Bounds() rtreego.Rect {
	return o.rect
}

// covers проверяет, лежит ли точка внутри фигуры или ближе padding к её границе
func (o *Obstacle) covers(p orb.Point, padding float64) bool {
	if !o.Bound.Pad(padding).Contains(p) {
		return false
	}
	switch s := o.Shape.(type) {
	case orb.Polygon:
		if planar.PolygonContains(s, p) {
			return true
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(s, p) {
			return true
		}
	}
	return padding > 0 && planar.DistanceFrom(o.Shape, p) <= padding
}

// Obstacles накладывает полигональные препятствия на базовый семплер.
// Препятствия хранятся в R-дереве и могут добавляться и удаляться на лету;
// после изменения вызывающий ставит в очередь пересчёт затронутой области графа.
type Obstacles struct {
	base    navgraph.Sampler
	padding float64
	logger  *logging.Logger

	mu   sync.RWMutex
	tree *rtreego.Rtree
	byID map[string]*Obstacle
}

// NewObstacles создаёт индекс препятствий поверх base.
// padding - радиус агента в мировых единицах.
func NewObstacles(base navgraph.Sampler, padding float64, logger *logging.Logger) *Obstacles {
	if logger == nil {
		logger = logging.GetComponentLogger(logging.ComponentSampler)
	}
	return &Obstacles{
		base:    base,
		padding: math.Max(padding, 0),
		logger:  logger,
		tree:    rtreego.NewTree(2, 25, 50),
		byID:    make(map[string]*Obstacle),
	}
}

func boundRect(b orb.Bound) (rtreego.Rect, error) {
	const eps = 1e-9
	return rtreego.NewRect(
		rtreego.Point{b.Min[0], b.Min[1]},
		[]float64{math.Max(b.Max[0]-b.Min[0], eps), math.Max(b.Max[1]-b.Min[1], eps)},
	)
}

// Add добавляет или заменяет препятствие и возвращает мировую область,
// которую нужно пересчитать (объединение старой и новой границ с учётом радиуса агента).
func (o *Obstacles) Add(id string, shape orb.Geometry, penalty uint32) (orb.Bound, error) {
	switch shape.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return orb.Bound{}, fmt.Errorf("%w: %T", ErrUnsupportedShape, shape)
	}
	if id == "" {
		id = uuid.NewString()
	}

	ob := &Obstacle{ID: id, Shape: shape, Penalty: penalty, Bound: shape.Bound()}
	rect, err := boundRect(ob.Bound)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("obstacle %s: %w", id, err)
	}
	ob.rect = rect

	o.mu.Lock()
	defer o.mu.Unlock()
	dirty := ob.Bound
	if old, ok := o.byID[id]; ok {
		o.tree.Delete(old)
		dirty = dirty.Union(old.Bound)
	}
	o.byID[id] = ob
	o.tree.Insert(ob)
	o.logger.Debug("Препятствие %s добавлено (%d всего)", id, len(o.byID))
	return dirty.Pad(o.padding), nil
}

// Remove удаляет препятствие и возвращает область для пересчёта
func (o *Obstacles) Remove(id string) (orb.Bound, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ob, ok := o.byID[id]
	if !ok {
		return orb.Bound{}, fmt.Errorf("%w: %s", ErrUnknownObstacle, id)
	}
	o.tree.Delete(ob)
	delete(o.byID, id)
	o.logger.Debug("Препятствие %s удалено (%d осталось)", id, len(o.byID))
	return ob.Bound.Pad(o.padding), nil
}

// Len возвращает число препятствий
func (o *Obstacles) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.byID)
}

// List возвращает копии препятствий, отсортированные по ID
func (o *Obstacles) List() []Obstacle {
	o.mu.RLock()
	out := make([]Obstacle, 0, len(o.byID))
	for _, ob := range o.byID {
		out = append(out, *ob)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadGeoJSON добавляет полигоны из FeatureCollection.
// ID берётся из feature.id или свойства "id", штраф - из свойства "penalty".
// Возвращает области для пересчёта по каждому добавленному препятствию.
func (o *Obstacles) LoadGeoJSON(data []byte) ([]orb.Bound, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var dirty []orb.Bound
	for _, f := range fc.Features {
		id := f.Properties.MustString("id", "")
		if f.ID != nil {
			id = fmt.Sprint(f.ID)
		}
		penalty := f.Properties.MustFloat64("penalty", 0)
		b, err := o.Add(id, f.Geometry, uint32(math.Max(penalty, 0)))
		if err != nil {
			o.logger.Warn("⚠️ Пропущен объект GeoJSON %q: %v", id, err)
			continue
		}
		dirty = append(dirty, b)
	}
	o.logger.Info("Загружено %d препятствий из %d объектов GeoJSON", len(dirty), len(fc.Features))
	return dirty, nil
}

// WorldBox переводит плоскую границу в мировой параллелепипед для navgraph.WorldRectToGraph
func WorldBox(b orb.Bound) (lo, hi vec.Vec3Float) {
	return vec.Vec3Float{X: b.Min[0], Z: b.Min[1]}, vec.Vec3Float{X: b.Max[0], Z: b.Max[1]}
}

// candidates возвращает препятствия, чьи границы пересекают мировую область rect
func (o *Obstacles) candidates(rect navgraph.IntRect, tr navgraph.GridTransform) []*Obstacle {
	var area orb.Bound
	for i, p := range [4]vec.Vec3Float{
		{X: float64(rect.XMin), Z: float64(rect.ZMin)},
		{X: float64(rect.XMax + 1), Z: float64(rect.ZMin)},
		{X: float64(rect.XMin), Z: float64(rect.ZMax + 1)},
		{X: float64(rect.XMax + 1), Z: float64(rect.ZMax + 1)},
	} {
		w := tr.Transform(p)
		if i == 0 {
			area = orb.Bound{Min: orb.Point{w.X, w.Z}, Max: orb.Point{w.X, w.Z}}
			continue
		}
		area = area.Extend(orb.Point{w.X, w.Z})
	}
	query, err := boundRect(area.Pad(o.padding))
	if err != nil {
		return nil
	}
	found := o.tree.SearchIntersect(query)
	out := make([]*Obstacle, 0, len(found))
	for _, s := range found {
		out = append(out, s.(*Obstacle))
	}
	return out
}

// Sample реализует navgraph.Sampler: опрашивает базовый семплер и применяет препятствия
func (o *Obstacles) Sample(ctx context.Context, rect navgraph.IntRect, tr navgraph.GridTransform) ([]navgraph.Sample, error) {
	samples, err := o.base.Sample(ctx, rect, tr)
	if err != nil {
		return nil, err
	}
	if len(samples) != rect.Area() {
		// Несоответствие размера отклонит конвейер графа
		return samples, nil
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	cands := o.candidates(rect, tr)
	if len(cands) == 0 {
		return samples, nil
	}

	i := 0
	for z := rect.ZMin; z <= rect.ZMax; z++ {
		for x := rect.XMin; x <= rect.XMax; x++ {
			c := tr.NodeCenter(x, z, samples[i].Height)
			p := orb.Point{c.X, c.Z}
			for _, ob := range cands {
				if !ob.covers(p, o.padding) {
					continue
				}
				if ob.Penalty == 0 {
					samples[i].Walkable = false
				} else {
					samples[i].Penalty += ob.Penalty
				}
			}
			i++
		}
	}
	return samples, nil
}
