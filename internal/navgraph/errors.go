package navgraph

import "errors"

var (
	// ErrInvalidLayout - ширина/глубина < 1 или размер клетки <= 0.
	ErrInvalidLayout = errors.New("navgraph: invalid grid layout")
	// ErrInvalidSettings - противоречивые настройки связности или эрозии.
	ErrInvalidSettings = errors.New("navgraph: invalid graph settings")
	// ErrRectOutOfBounds - прямоугольник пустой или выходит за пределы сетки.
	ErrRectOutOfBounds = errors.New("navgraph: rectangle outside grid bounds")
	// ErrCellsMismatch - размер массива клеток не совпадает с площадью прямоугольника.
	ErrCellsMismatch = errors.New("navgraph: cell count does not match rectangle")
	// ErrNotSafeToUpdate - структурное изменение графа, пока поиск держит блокировку чтения.
	ErrNotSafeToUpdate = errors.New("navgraph: not safe to update graph while searches hold it")
	// ErrStaleUpdate - обновление поставлено до смены раскладки сетки.
	ErrStaleUpdate = errors.New("navgraph: update was scheduled for a previous grid layout")
	// ErrGraphClosed - граф остановлен, обновления больше не принимаются.
	ErrGraphClosed = errors.New("navgraph: graph is closed")
	// ErrNotScanned - граф ещё ни разу не был просканирован.
	ErrNotScanned = errors.New("navgraph: graph has not been scanned")
	// ErrCorruptSnapshot - снимок графа не удаётся разобрать.
	ErrCorruptSnapshot = errors.New("navgraph: corrupt snapshot")
	// ErrSamplerFailed - коллаборатор высот/коллизий вернул ошибку.
	ErrSamplerFailed = errors.New("navgraph: sampler failed")
)
