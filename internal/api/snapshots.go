package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SnapshotRequest - сохранение снимка под именем (пусто - имя по умолчанию)
type SnapshotRequest struct {
	Name string `json:"name"`
}

func (rs *RestServer) requireStore(c *gin.Context) bool {
	if rs.store == nil {
		rs.respondError(c, fmt.Errorf("snapshot store: %w", errNotConfigured))
		return false
	}
	return true
}

func (rs *RestServer) handleListSnapshots(c *gin.Context) {
	if !rs.requireStore(c) {
		return
	}
	list, err := rs.store.List(c.Request.Context())
	if err != nil {
		rs.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Снимки", Data: gin.H{"snapshots": list, "total": len(list)}})
}

func (rs *RestServer) handleSaveSnapshot(c *gin.Context) {
	if !rs.requireStore(c) {
		return
	}
	var req SnapshotRequest
	// Пустое тело допустимо
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			rs.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if req.Name == "" {
		req.Name = rs.snapName
	}

	snap, err := rs.graph.Snapshot()
	if err != nil {
		rs.respondError(c, err)
		return
	}
	info, err := rs.store.Save(c.Request.Context(), req.Name, snap)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	rs.logger.Info("💾 Снимок %s сохранён (%d → %d байт)", info.Name, info.Bytes, info.Compressed)
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Снимок сохранён", Data: info})
}

func (rs *RestServer) handleLoadSnapshot(c *gin.Context) {
	if !rs.requireStore(c) {
		return
	}
	name := c.Param("name")
	snap, err := rs.store.Load(c.Request.Context(), name)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	rederived, err := rs.graph.LoadSnapshot(snap)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	rs.logger.Info("📂 Снимок %s загружен (соединения выведены заново: %v)", name, rederived)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок загружен",
		Data:    gin.H{"name": name, "rederived": rederived, "stats": rs.graph.Stats()},
	})
}

func (rs *RestServer) handleDeleteSnapshot(c *gin.Context) {
	if !rs.requireStore(c) {
		return
	}
	name := c.Param("name")
	if err := rs.store.Delete(c.Request.Context(), name); err != nil {
		rs.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Снимок удалён", Data: gin.H{"name": name}})
}
