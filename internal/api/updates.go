package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/annel0/navgraph/internal/navgraph"
)

// defaultHandleHistory - сколько последних обновлений доступно по ID
const defaultHandleHistory = 1024

// handleRegistry хранит последние поставленные обновления в порядке постановки
type handleRegistry struct {
	mu    sync.Mutex
	limit int
	byID  map[uuid.UUID]*navgraph.UpdateHandle
	order []uuid.UUID
}

func newHandleRegistry(limit int) *handleRegistry {
	return &handleRegistry{limit: limit, byID: make(map[uuid.UUID]*navgraph.UpdateHandle)}
}

func (r *handleRegistry) add(h *navgraph.UpdateHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[h.ID] = h
	r.order = append(r.order, h.ID)
	for len(r.order) > r.limit {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *handleRegistry) get(id uuid.UUID) (*navgraph.UpdateHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	return h, ok
}

// handleScheduleUpdate ставит пересчёт прямоугольника в очередь (202 Accepted)
func (rs *RestServer) handleScheduleUpdate(c *gin.Context) {
	var req UpdateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	mode, err := navgraph.ParseUpdateMode(req.Mode)
	if err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	h, err := rs.graph.ScheduleUpdate(navgraph.UpdateRequest{
		Rect:     req.Rect,
		Mode:     mode,
		Modifier: req.modifier(),
		Kind:     "api",
	})
	if err != nil {
		rs.respondError(c, err)
		return
	}
	rs.updates.add(h)
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Обновление поставлено в очередь", Data: updateDTO(h)})
}

func (rs *RestServer) handleSetWalkability(c *gin.Context) {
	var req WalkabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	h, err := rs.graph.SetWalkability(req.Cells, req.Rect)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	rs.updates.add(h)
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Проходимость поставлена в очередь", Data: updateDTO(h)})
}

func (rs *RestServer) lookupUpdate(c *gin.Context) (*navgraph.UpdateHandle, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		rs.respondError(c, fmt.Errorf("%w: update id %q", errBadRequest, c.Param("id")))
		return nil, false
	}
	h, ok := rs.updates.get(id)
	if !ok {
		rs.respondError(c, fmt.Errorf("%w: update %s", errNotFound, id))
		return nil, false
	}
	return h, true
}

func (rs *RestServer) handleUpdateStatus(c *gin.Context) {
	h, ok := rs.lookupUpdate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Состояние обновления", Data: updateDTO(h)})
}

// handleCancelUpdate отменяет обновление, если оно ещё не фиксируется
func (rs *RestServer) handleCancelUpdate(c *gin.Context) {
	h, ok := rs.lookupUpdate(c)
	if !ok {
		return
	}
	if !h.Cancel() {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "Обновление уже фиксируется или завершено", Data: updateDTO(h)})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Обновление отменено", Data: updateDTO(h)})
}
