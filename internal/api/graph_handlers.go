package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/annel0/navgraph/internal/navgraph"
)

// maxNodesPerRequest ограничивает размер ответа /api/nodes
const maxNodesPerRequest = 64 * 1024

// handleGraphInfo возвращает раскладку, настройки и стоимости направлений
func (rs *RestServer) handleGraphInfo(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Граф",
		Data: gin.H{
			"kind":       rs.graph.Kind().String(),
			"layout":     rs.graph.Layout(),
			"settings":   rs.graph.Settings(),
			"costs":      rs.graph.DirectionCosts(),
			"generation": rs.graph.Generation(),
			"scanned":    rs.graph.Scanned(),
		},
	})
}

func (rs *RestServer) handleScan(c *gin.Context) {
	if err := rs.graph.Scan(c.Request.Context()); err != nil {
		rs.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Граф просканирован", Data: rs.graph.Stats()})
}

func (rs *RestServer) handleSetLayout(c *gin.Context) {
	var layout navgraph.GridLayout
	if err := c.ShouldBindJSON(&layout); err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := rs.graph.SetLayout(c.Request.Context(), layout); err != nil {
		rs.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Раскладка изменена", Data: rs.graph.Layout()})
}

func (rs *RestServer) handleMove(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := rs.graph.Move(c.Request.Context(), req.DX, req.DZ); err != nil {
		rs.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Сетка сдвинута", Data: rs.graph.Layout()})
}

// queryInt читает целый параметр запроса со значением по умолчанию
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadRequest, name, raw)
	}
	return v, nil
}

func queryFloat(c *gin.Context, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadRequest, name, raw)
	}
	return v, nil
}

// handleNodes возвращает клетки прямоугольника (по умолчанию всей сетки)
func (rs *RestServer) handleNodes(c *gin.Context) {
	b := rs.graph.Bounds()
	var rect navgraph.IntRect
	var err error
	for _, f := range []struct {
		name string
		dst  *int
		def  int
	}{
		{"xmin", &rect.XMin, b.XMin},
		{"zmin", &rect.ZMin, b.ZMin},
		{"xmax", &rect.XMax, b.XMax},
		{"zmax", &rect.ZMax, b.ZMax},
	} {
		if *f.dst, err = queryInt(c, f.name, f.def); err != nil {
			rs.respondError(c, err)
			return
		}
	}
	rect = navgraph.Intersection(rect, b)
	if !rect.IsValid() {
		rs.respondError(c, fmt.Errorf("%w: %s", navgraph.ErrRectOutOfBounds, rect))
		return
	}
	if rect.Area() > maxNodesPerRequest {
		rs.respondError(c, fmt.Errorf("%w: %d nodes requested, limit %d", errBadRequest, rect.Area(), maxNodesPerRequest))
		return
	}

	nodes := rs.graph.GetNodesInRegion(rect)
	out := make([]NodeDTO, len(nodes))
	for i, n := range nodes {
		out[i] = nodeDTO(n)
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Клетки",
		Data:    gin.H{"rect": rect, "nodes": out},
	})
}

func (rs *RestServer) handleNode(c *gin.Context) {
	x, errX := strconv.Atoi(c.Param("x"))
	z, errZ := strconv.Atoi(c.Param("z"))
	if errX != nil || errZ != nil {
		rs.respondError(c, fmt.Errorf("%w: bad cell coordinates", errBadRequest))
		return
	}
	n, ok := rs.graph.GetNode(x, z)
	if !ok {
		rs.respondError(c, fmt.Errorf("%w: cell (%d,%d)", errNotFound, x, z))
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Клетка", Data: nodeDTO(n)})
}

// handleNearest ищет ближайшую проходимую клетку к мировой точке
func (rs *RestServer) handleNearest(c *gin.Context) {
	var p Point3
	var err error
	if p.X, err = queryFloat(c, "x"); err == nil {
		if p.Y, err = queryFloat(c, "y"); err == nil {
			p.Z, err = queryFloat(c, "z")
		}
	}
	if err != nil {
		rs.respondError(c, err)
		return
	}
	radius, err := queryInt(c, "radius", 16)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	n, ok := rs.graph.NearestWalkable(p.vec(), radius)
	if !ok {
		rs.respondError(c, fmt.Errorf("%w: no walkable cell within %d cells", errNotFound, radius))
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Ближайшая проходимая клетка", Data: nodeDTO(n)})
}

func (rs *RestServer) handleLinecast(c *gin.Context) {
	var req LinecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	opts := navgraph.LinecastOptions{Trace: req.Trace, ContinuePastEnd: req.ContinuePastEnd}
	if len(req.ExcludeTags) > 0 {
		var excluded uint32
		for _, t := range req.ExcludeTags {
			excluded |= 1 << (t & navgraph.MaxTag)
		}
		opts.Filter = func(n *navgraph.Node) bool { return excluded&(1<<n.Tag) == 0 }
	}
	res := rs.graph.Linecast(req.From.vec(), req.To.vec(), opts)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Трассировка выполнена", Data: linecastResponse(res)})
}
