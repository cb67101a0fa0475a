package navgraph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UpdateStatus - состояние запроса на обновление
type UpdateStatus int

const (
	UpdatePending UpdateStatus = iota
	UpdatePreparing
	UpdateCommitting
	UpdateCompleted
	UpdateFailed
	UpdateCancelled
	// UpdateSkipped - после обрезки сеткой пересчитывать нечего
	UpdateSkipped
)

var updateStatusNames = [...]string{"pending", "preparing", "committing", "completed", "failed", "cancelled", "skipped"}

func (s UpdateStatus) String() string {
	if int(s) < 0 || int(s) >= len(updateStatusNames) {
		return "unknown"
	}
	return updateStatusNames[s]
}

// Final - запрос завершён и больше не изменится
func (s UpdateStatus) Final() bool {
	return s >= UpdateCompleted
}

// UpdateRequest - запрос на пересчёт прямоугольника
type UpdateRequest struct {
	Rect     IntRect
	Mode     UpdateMode
	Modifier CellModifier
	// Kind попадает в события фиксации ("update", "walkability", ...)
	Kind string
}

// UpdateHandle позволяет следить за асинхронным обновлением и отменить его до фиксации
type UpdateHandle struct {
	ID        uuid.UUID
	Request   UpdateRequest
	Plan      RegionPlan
	Submitted time.Time

	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc

	mu     sync.Mutex
	status UpdateStatus
	err    error
	done   chan struct{}
}

func newUpdateHandle(parent context.Context, req UpdateRequest, plan RegionPlan, generation uint64) *UpdateHandle {
	ctx, cancel := context.WithCancel(parent)
	return &UpdateHandle{
		ID:         uuid.New(),
		Request:    req,
		Plan:       plan,
		Submitted:  time.Now(),
		generation: generation,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Status возвращает текущее состояние
func (h *UpdateHandle) Status() UpdateStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err возвращает ошибку завершившегося запроса
func (h *UpdateHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done закрывается, когда запрос завершён
func (h *UpdateHandle) Done() <-chan struct{} {
	return h.done
}

// Wait ждёт завершения запроса и возвращает его ошибку
func (h *UpdateHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel отменяет запрос, если фиксация ещё не началась.
// Возвращает false, если отменять уже поздно.
func (h *UpdateHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status >= UpdateCommitting {
		return false
	}
	h.cancel()
	return true
}

func (h *UpdateHandle) cancelled() bool {
	return h.ctx.Err() != nil
}

// transition переводит запрос в новое незавершённое состояние
func (h *UpdateHandle) transition(from, to UpdateStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != from {
		return false
	}
	h.status = to
	return true
}

// beginCommit атомарно проверяет отмену и переводит запрос в фиксацию
func (h *UpdateHandle) beginCommit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != UpdatePreparing || h.ctx.Err() != nil {
		return false
	}
	h.status = UpdateCommitting
	return true
}

func (h *UpdateHandle) finish(status UpdateStatus, err error) {
	h.mu.Lock()
	if h.status.Final() {
		h.mu.Unlock()
		return
	}
	h.status = status
	h.err = err
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
