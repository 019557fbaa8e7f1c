package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	// queueDepth is process-wide: every TaskQueue adds its tasks on enqueue
	// and removes them on dequeue, so it reports the sum across queues.
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crashrelay_queue_depth",
		Help: "Current number of tasks waiting across all dispatch queues",
	})

	queueEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crashrelay_queue_enqueued_total",
		Help: "Total number of tasks enqueued, by task kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(queueEnqueuedTotal)
}
