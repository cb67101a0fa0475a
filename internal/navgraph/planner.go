package navgraph

import "fmt"

// UpdateMode - насколько глубоко пересчитывается область
type UpdateMode int

const (
	// FromScratch - повторно опрашивает семплер и пересчитывает всё
	FromScratch UpdateMode = iota
	// Minimal - берёт текущие данные клеток, пересчитывает только связность и эрозию
	Minimal
	// NoRecalculation - только применяет модификатор к клеткам прямоугольника
	NoRecalculation
)

func (m UpdateMode) String() string {
	switch m {
	case FromScratch:
		return "from_scratch"
	case Minimal:
		return "minimal"
	case NoRecalculation:
		return "no_recalculation"
	default:
		return fmt.Sprintf("UpdateMode(%d)", int(m))
	}
}

// ParseUpdateMode разбирает строковое имя режима
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch s {
	case "", "from_scratch":
		return FromScratch, nil
	case "minimal":
		return Minimal, nil
	case "no_recalculation":
		return NoRecalculation, nil
	}
	return FromScratch, fmt.Errorf("unknown update mode %q", s)
}

// RegionPlan - прямоугольники одного обновления.
// Read ⊇ WriteMask ⊇ Recalc, все ограничены сеткой.
type RegionPlan struct {
	Dirty     IntRect
	Recalc    IntRect
	WriteMask IntRect
	Read      IntRect
	Mode      UpdateMode
}

// Empty - обновление ничего не меняет и пропускается целиком
func (p RegionPlan) Empty() bool {
	return !p.Recalc.IsValid()
}

// FullRebuild - область чтения совпадает с пересчитываемой: текущие данные не нужны
func (p RegionPlan) FullRebuild() bool {
	return p.Mode == FromScratch && p.Read == p.Recalc
}

// PlanRegion строит прямоугольники обновления для грязной области.
// Внутренние прямоугольники обрезаются сеткой; проверка пользовательского
// прямоугольника выполняется раньше, в публичном API.
func PlanRegion(dirty IntRect, mode UpdateMode, grid IntRect, s Settings) RegionPlan {
	plan := RegionPlan{Dirty: dirty, Mode: mode}

	if mode == NoRecalculation {
		r := Intersection(dirty, grid)
		plan.Recalc, plan.WriteMask, plan.Read = r, r, r
		return plan
	}

	recalc := dirty
	if mode == FromScratch {
		recalc = recalc.Expand(s.collisionMargin())
	}
	recalc = Intersection(recalc, grid)
	if !recalc.IsValid() {
		plan.Recalc, plan.WriteMask, plan.Read = EmptyRect, EmptyRect, EmptyRect
		return plan
	}

	margin := s.erosionMargin()
	plan.Recalc = recalc
	plan.WriteMask = Intersection(recalc.Expand(margin), grid)
	plan.Read = Intersection(plan.WriteMask.Expand(margin), grid)
	return plan
}
