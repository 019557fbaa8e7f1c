package dispatcher

import "github.com/prometheus/client_golang/prometheus"

var dispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "crashrelay_dispatched_tasks_total",
	Help: "Total number of tasks taken off the queue, by kind and outcome",
}, []string{"kind", "outcome"})

func init() {
	prometheus.MustRegister(dispatchedTotal)
}
