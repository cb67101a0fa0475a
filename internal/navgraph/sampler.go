package navgraph

import (
	"context"

	"github.com/annel0/navgraph/internal/vec"
)

// Sample - ответ семплера для одной клетки
type Sample struct {
	// Height - высота поверхности в пространстве графа
	Height float64
	// Normal - нормаль поверхности в мировых координатах (нулевая = "верх" сетки)
	Normal   vec.Vec3Float
	Walkable bool
	// Penalty добавляется к начальному штрафу клетки
	Penalty uint32
}

// Sampler опрашивает мир о высотах и препятствиях.
// Sample возвращает ровно rect.Area() значений в порядке строк (z, затем x).
// Вызовы могут быть долгими и выполняются вне критической секции графа,
// в том числе параллельно для непересекающихся прямоугольников.
type Sampler interface {
	Sample(ctx context.Context, rect IntRect, tr GridTransform) ([]Sample, error)
}

// SamplerFunc позволяет использовать функцию как Sampler
type SamplerFunc func(ctx context.Context, rect IntRect, tr GridTransform) ([]Sample, error)

// Sample реализует Sampler
func (f SamplerFunc) Sample(ctx context.Context, rect IntRect, tr GridTransform) ([]Sample, error) {
	return f(ctx, rect, tr)
}

// CellModifier изменяет клетки прямоугольника обновления после семплирования,
// до расчёта связности (аналог объекта обновления графа).
type CellModifier interface {
	ModifyCell(n *Node)
	// AffectsWalkability - меняет ли модификатор проходимость (тогда нужна связность)
	AffectsWalkability() bool
}

// PenaltyModifier прибавляет (или вычитает) штраф, не опускаясь ниже нуля
type PenaltyModifier struct {
	Delta int64
}

func (m PenaltyModifier) ModifyCell(n *Node) {
	p := int64(n.Penalty) + m.Delta
	if p < 0 {
		p = 0
	}
	if p > int64(^uint32(0)) {
		p = int64(^uint32(0))
	}
	n.Penalty = uint32(p)
}

func (m PenaltyModifier) AffectsWalkability() bool { return false }

// TagModifier выставляет тег
type TagModifier struct {
	Tag uint8
}

func (m TagModifier) ModifyCell(n *Node) { n.Tag = m.Tag & MaxTag }

func (m TagModifier) AffectsWalkability() bool { return false }

// WalkabilityModifier выставляет проходимость до эрозии
type WalkabilityModifier struct {
	Walkable bool
}

func (m WalkabilityModifier) ModifyCell(n *Node) { n.Walkable = m.Walkable }

func (m WalkabilityModifier) AffectsWalkability() bool { return true }

// Modifiers применяет несколько модификаторов по порядку
type Modifiers []CellModifier

func (ms Modifiers) ModifyCell(n *Node) {
	for _, m := range ms {
		m.ModifyCell(n)
	}
}

func (ms Modifiers) AffectsWalkability() bool {
	for _, m := range ms {
		if m.AffectsWalkability() {
			return true
		}
	}
	return false
}

// cellMaskModifier записывает проходимость из плотного массива SetWalkability
type cellMaskModifier struct {
	rect  IntRect
	cells []bool
}

func (m cellMaskModifier) ModifyCell(n *Node) {
	if !m.rect.Contains(n.X, n.Z) {
		return
	}
	n.Walkable = m.cells[(n.Z-m.rect.ZMin)*m.rect.Width()+(n.X-m.rect.XMin)]
}

func (m cellMaskModifier) AffectsWalkability() bool { return true }
