package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo, storagePoolConns, workerQueueDropped) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_gate_build_info",
			Help: "Constant 1, labelled with version and storage backend.",
		},
		[]string{"version", "storage"},
	)

	storagePoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_pool_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"}, // total|idle|in_use
	)

	workerQueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_tasks_dropped_total",
			Help: "Background tasks dropped because the worker queue was full.",
		},
	)
)

func SetBuildInfo(version, storage string) {
	buildInfo.WithLabelValues(version, norm(storage)).Set(1)
}

func SetStoragePool(total, idle, inUse int32) {
	storagePoolConns.WithLabelValues("total").Set(float64(total))
	storagePoolConns.WithLabelValues("idle").Set(float64(idle))
	storagePoolConns.WithLabelValues("in_use").Set(float64(inUse))
}

func IncWorkerDropped() { workerQueueDropped.Inc() }
