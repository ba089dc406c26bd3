package metrics

import (
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// SystemMetrics интерфейс для системных метрик
type SystemMetrics interface {
	Record()
	StartRecording(interval time.Duration)
	Stop()
}

// PoolStatter - источник статистики пула соединений (pgxpool.Pool)
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

type systemMetrics struct {
	log         *logger.Logger
	pool        PoolStatter
	goroutines  prometheus.Gauge
	memoryAlloc prometheus.Gauge
	gcCycles    prometheus.Gauge
	dbAcquired  prometheus.Gauge
	dbIdle      prometheus.Gauge
	dbTotal     prometheus.Gauge
	stopCh      chan struct{}
}

// NewSystemMetrics создает системные метрики. pool может быть nil.
func NewSystemMetrics(registry *prometheus.Registry, pool PoolStatter, log *logger.Logger) SystemMetrics {
	factory := promauto.With(registry)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	return &systemMetrics{
		log:         log,
		pool:        pool,
		goroutines:  gauge("system_goroutines", "Current number of goroutines"),
		memoryAlloc: gauge("system_memory_alloc_bytes", "Currently allocated memory in bytes"),
		gcCycles:    gauge("system_gc_cycles", "Completed garbage collection cycles"),
		dbAcquired:  gauge("db_pool_acquired_conns", "Connections currently acquired from the pool"),
		dbIdle:      gauge("db_pool_idle_conns", "Idle connections in the pool"),
		dbTotal:     gauge("db_pool_total_conns", "Total connections in the pool"),
		stopCh:      make(chan struct{}),
	}
}

// Record снимает текущие значения
func (m *systemMetrics) Record() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAlloc.Set(float64(memStats.Alloc))
	m.gcCycles.Set(float64(memStats.NumGC))

	if m.pool == nil {
		return
	}
	st := m.pool.Stat()
	m.dbAcquired.Set(float64(st.AcquiredConns()))
	m.dbIdle.Set(float64(st.IdleConns()))
	m.dbTotal.Set(float64(st.TotalConns()))
}

// StartRecording начинает запись метрик с заданным интервалом
func (m *systemMetrics) StartRecording(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Record()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Info("System metrics recording started with interval %s", interval)
}

// Stop останавливает запись метрик
func (m *systemMetrics) Stop() {
	close(m.stopCh)
	m.log.Info("System metrics recording stopped")
}
