package transport

import "github.com/prometheus/client_golang/prometheus"

var deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "crashrelay_deliveries_total",
	Help: "Total number of report deliveries, by result",
}, []string{"result"})

func init() {
	prometheus.MustRegister(deliveriesTotal)
}
