package gate

import "github.com/prometheus/client_golang/prometheus"

var gateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "crashrelay_gate_decisions_total",
	Help: "Total number of config evaluations, by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(gateDecisionsTotal)
}
