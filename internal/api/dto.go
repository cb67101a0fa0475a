package api

import (
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/vec"
)

// Point3 - мировая точка в JSON
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point3) vec() vec.Vec3Float { return vec.Vec3Float{X: p.X, Y: p.Y, Z: p.Z} }

func point3(v vec.Vec3Float) Point3 { return Point3{X: v.X, Y: v.Y, Z: v.Z} }

// NodeDTO - клетка графа в ответах API
type NodeDTO struct {
	X              int     `json:"x"`
	Z              int     `json:"z"`
	Position       Point3  `json:"position"`
	Height         float64 `json:"height"`
	Normal         Point3  `json:"normal"`
	Walkable       bool    `json:"walkable"`
	WalkableEroded bool    `json:"walkable_eroded"`
	Penalty        uint32  `json:"penalty"`
	Tag            uint8   `json:"tag"`
	Connections    uint8   `json:"connections"`
}

func nodeDTO(n navgraph.Node) NodeDTO {
	return NodeDTO{
		X:              n.X,
		Z:              n.Z,
		Position:       point3(n.Position),
		Height:         n.Height,
		Normal:         point3(n.Normal),
		Walkable:       n.Walkable,
		WalkableEroded: n.WalkableEroded,
		Penalty:        n.Penalty,
		Tag:            n.Tag,
		Connections:    n.Connections,
	}
}

// LinecastRequest - трассировка между мировыми точками
type LinecastRequest struct {
	From            Point3 `json:"from"`
	To              Point3 `json:"to"`
	Trace           bool   `json:"trace"`
	ContinuePastEnd bool   `json:"continue_past_end"`
	// ExcludeTags - клетки с этими тегами считаются непроходимыми
	ExcludeTags []uint8 `json:"exclude_tags"`
}

// CellDTO - координаты клетки
type CellDTO struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// LinecastResponse - результат трассировки
type LinecastResponse struct {
	Blocked      bool       `json:"blocked"`
	HitCell      CellDTO    `json:"hit_cell"`
	HitDirection int        `json:"hit_direction"`
	HitPoint     [2]float64 `json:"hit_point"`
	HitWorld     Point3     `json:"hit_world"`
	Trace        []CellDTO  `json:"trace,omitempty"`
}

func linecastResponse(res navgraph.LinecastResult) LinecastResponse {
	out := LinecastResponse{
		Blocked:      res.Blocked,
		HitCell:      CellDTO{X: res.HitCell.X, Z: res.HitCell.Y},
		HitDirection: res.HitDirection,
		HitPoint:     [2]float64{res.HitPoint.X, res.HitPoint.Y},
		HitWorld:     point3(res.HitWorld),
	}
	for _, c := range res.Trace {
		out.Trace = append(out.Trace, CellDTO{X: c.X, Z: c.Y})
	}
	return out
}

// UpdateRequestDTO - запрос пересчёта области с необязательными модификаторами
type UpdateRequestDTO struct {
	Rect navgraph.IntRect `json:"rect"`
	// Mode - from_scratch (по умолчанию), minimal или no_recalculation
	Mode         string `json:"mode"`
	PenaltyDelta *int64 `json:"penalty_delta,omitempty"`
	Tag          *uint8 `json:"tag,omitempty"`
	Walkable     *bool  `json:"walkable,omitempty"`
}

func (r UpdateRequestDTO) modifier() navgraph.CellModifier {
	var mods navgraph.Modifiers
	if r.Walkable != nil {
		mods = append(mods, navgraph.WalkabilityModifier{Walkable: *r.Walkable})
	}
	if r.PenaltyDelta != nil {
		mods = append(mods, navgraph.PenaltyModifier{Delta: *r.PenaltyDelta})
	}
	if r.Tag != nil {
		mods = append(mods, navgraph.TagModifier{Tag: *r.Tag})
	}
	if len(mods) == 0 {
		return nil
	}
	return mods
}

// WalkabilityRequest - прямая запись проходимости клеток rect (в порядке строк)
type WalkabilityRequest struct {
	Rect  navgraph.IntRect `json:"rect"`
	Cells []bool           `json:"cells"`
}

// UpdateDTO - состояние асинхронного обновления
type UpdateDTO struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Mode      string           `json:"mode"`
	Rect      navgraph.IntRect `json:"rect"`
	Recalc    navgraph.IntRect `json:"recalc"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Submitted int64            `json:"submitted"`
}

func updateDTO(h *navgraph.UpdateHandle) UpdateDTO {
	out := UpdateDTO{
		ID:        h.ID.String(),
		Kind:      h.Request.Kind,
		Mode:      h.Request.Mode.String(),
		Rect:      h.Request.Rect,
		Recalc:    h.Plan.Recalc,
		Status:    h.Status().String(),
		Submitted: h.Submitted.Unix(),
	}
	if err := h.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}

// MoveRequest - сдвиг сетки на целое число клеток
type MoveRequest struct {
	DX int `json:"dx"`
	DZ int `json:"dz"`
}
