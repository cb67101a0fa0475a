// Package navgraph строит и обновляет навигационный граф на регулярной сетке.
//
// Граф хранит клетки в плоском массиве (NodeStore) поверх раскладки GridLayout,
// которая задаёт положение сетки в мире через GridTransform. Высоты, нормали и
// проходимость приходят из Sampler; поверх них считается связность клеток
// (4, 6 или 8 соседей, перепад высот, уклон, срезание углов) и эрозия краёв.
//
// Изменения мира обрабатываются асинхронно: ScheduleUpdate ставит прямоугольник
// в очередь, планировщик расширяет его на поля эрозии и коллизий, конвейер
// пересчитывает копию области вне блокировки и атомарно фиксирует её в живом
// хранилище. Поиск путей держит SearchLock, пока читает граф; фиксации ждут его
// освобождения.
//
// Linecast проходит по клеткам вдоль отрезка только через существующие
// соединения, поэтому ответ определяется топологией графа, а не геометрией.
package navgraph
