package navgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики графа.
//
// Метрики:
// * navgraph_updates_total{status} - counter
// * navgraph_update_prepare_seconds{mode} - histogram
// * navgraph_commit_seconds - histogram (длительность критической секции)
// * navgraph_update_queue_depth - gauge
// * navgraph_linecasts_total{result} - counter
// * navgraph_walkable_nodes - gauge (после последнего полного пересчёта)
type Metrics struct {
	updates     *prometheus.CounterVec
	prepare     *prometheus.HistogramVec
	commit      prometheus.Histogram
	queueDepth  prometheus.Gauge
	linecasts   *prometheus.CounterVec
	walkable    prometheus.Gauge
	searchWaits prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil - без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navgraph",
			Name:      "updates_total",
			Help:      "Обработанные запросы на обновление по итоговому статусу.",
		}, []string{"status"}),
		prepare: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "navgraph",
			Name:      "update_prepare_seconds",
			Help:      "Длительность подготовки промежуточного буфера.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"mode"}),
		commit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "navgraph",
			Name:      "commit_seconds",
			Help:      "Время удержания эксклюзивной блокировки при фиксации.",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "navgraph",
			Name:      "update_queue_depth",
			Help:      "Запросы, ожидающие обработки.",
		}),
		linecasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navgraph",
			Name:      "linecasts_total",
			Help:      "Трассировки по графу.",
		}, []string{"result"}),
		walkable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "navgraph",
			Name:      "walkable_nodes",
			Help:      "Проходимые клетки после эрозии.",
		}),
		searchWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "navgraph",
			Name:      "update_search_pauses_total",
			Help:      "Сколько раз обработка очереди ждала освобождения блокировок поиска.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.updates, m.prepare, m.commit, m.queueDepth, m.linecasts, m.walkable, m.searchWaits)
	}
	return m
}

func (m *Metrics) observeUpdate(status UpdateStatus) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) observePrepare(mode UpdateMode, d time.Duration) {
	if m == nil {
		return
	}
	m.prepare.WithLabelValues(mode.String()).Observe(d.Seconds())
}

func (m *Metrics) observeCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.commit.Observe(d.Seconds())
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) observeLinecast(blocked bool) {
	if m == nil {
		return
	}
	result := "clear"
	if blocked {
		result = "blocked"
	}
	m.linecasts.WithLabelValues(result).Inc()
}

func (m *Metrics) setWalkable(n int) {
	if m == nil {
		return
	}
	m.walkable.Set(float64(n))
}

func (m *Metrics) searchPause() {
	if m == nil {
		return
	}
	m.searchWaits.Inc()
}
