package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/annel0/navgraph/internal/eventbus"
	"github.com/annel0/navgraph/internal/navgraph"
	"github.com/annel0/navgraph/internal/sampler"
)

// maxGeoJSONBytes ограничивает тело POST /api/obstacles/geojson
const maxGeoJSONBytes = 8 << 20

// ObstacleRequest - полигон препятствия в мировой плоскости X/Z
type ObstacleRequest struct {
	ID      string      `json:"id"`
	Penalty uint32      `json:"penalty"`
	Polygon orb.Polygon `json:"polygon" binding:"required"`
}

// obstacleEvent - полезная нагрузка TypeObstacleChanged
type obstacleEvent struct {
	ID     string           `json:"id,omitempty"`
	Action string           `json:"action"`
	Rect   navgraph.IntRect `json:"rect"`
	Update string           `json:"update,omitempty"`
}

func (rs *RestServer) requireObstacles(c *gin.Context) bool {
	if rs.obstacles == nil {
		rs.respondError(c, fmt.Errorf("obstacles: %w", errNotConfigured))
		return false
	}
	return true
}

// refreshArea ставит полный пересчёт клеток под мировой областью и сообщает о нём в шину.
// Область вне сетки ничего не ставит и возвращает nil.
func (rs *RestServer) refreshArea(ctx context.Context, id, action string, b orb.Bound) (*navgraph.UpdateHandle, error) {
	lo, hi := sampler.WorldBox(b)
	rect := rs.graph.WorldRectToGraph(lo, hi)
	ev := obstacleEvent{ID: id, Action: action, Rect: rect}

	var h *navgraph.UpdateHandle
	if rect.IsValid() {
		var err error
		h, err = rs.graph.ScheduleUpdate(navgraph.UpdateRequest{Rect: rect, Mode: navgraph.FromScratch, Kind: "obstacle"})
		if err != nil {
			return nil, err
		}
		rs.updates.add(h)
		ev.Update = h.ID.String()
	}

	if payload, err := json.Marshal(ev); err == nil {
		rs.publish(ctx, eventbus.TypeObstacleChanged, 5, payload)
	}
	return h, nil
}

func (rs *RestServer) handleListObstacles(c *gin.Context) {
	if !rs.requireObstacles(c) {
		return
	}
	list := rs.obstacles.List()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Препятствия",
		Data:    gin.H{"obstacles": list, "total": len(list)},
	})
}

func (rs *RestServer) handleAddObstacle(c *gin.Context) {
	if !rs.requireObstacles(c) {
		return
	}
	var req ObstacleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(req.Polygon) == 0 || len(req.Polygon[0]) < 3 {
		rs.respondError(c, fmt.Errorf("%w: polygon needs an outer ring of at least 3 points", errBadRequest))
		return
	}
	// Кольцо в GeoJSON замкнуто; замыкаем сами, если клиент не стал
	for i, ring := range req.Polygon {
		if !ring.Closed() {
			req.Polygon[i] = append(ring, ring[0])
		}
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	dirty, err := rs.obstacles.Add(req.ID, req.Polygon, req.Penalty)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	h, err := rs.refreshArea(c.Request.Context(), req.ID, "added", dirty)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	data := gin.H{"id": req.ID}
	if h != nil {
		data["update"] = updateDTO(h)
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Препятствие добавлено", Data: data})
}

// handleLoadGeoJSON добавляет все полигоны FeatureCollection
func (rs *RestServer) handleLoadGeoJSON(c *gin.Context) {
	if !rs.requireObstacles(c) {
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGeoJSONBytes))
	if err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	bounds, err := rs.obstacles.LoadGeoJSON(data)
	if err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(bounds) == 0 {
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Нет подходящих полигонов", Data: gin.H{"added": 0}})
		return
	}

	dirty := bounds[0]
	for _, b := range bounds[1:] {
		dirty = dirty.Union(b)
	}
	h, err := rs.refreshArea(c.Request.Context(), "", "loaded", dirty)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	resp := gin.H{"added": len(bounds)}
	if h != nil {
		resp["update"] = updateDTO(h)
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "GeoJSON загружен", Data: resp})
}

func (rs *RestServer) handleRemoveObstacle(c *gin.Context) {
	if !rs.requireObstacles(c) {
		return
	}
	id := c.Param("id")
	dirty, err := rs.obstacles.Remove(id)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	h, err := rs.refreshArea(c.Request.Context(), id, "removed", dirty)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	data := gin.H{"id": id}
	if h != nil {
		data["update"] = updateDTO(h)
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Препятствие удалено", Data: data})
}
