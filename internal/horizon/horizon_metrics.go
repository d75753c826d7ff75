package horizon

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HorizonRequestsTotal counts Horizon calls by operation and outcome.
var HorizonRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rivora",
		Name:      "horizon_requests_total",
		Help:      "Total Horizon requests by operation and status.",
	},
	[]string{"op", "status"},
)

func init() {
	prometheus.MustRegister(HorizonRequestsTotal)
}

func observeRequest(op string, status int, err error) {
	label := strconv.Itoa(status)
	if err != nil && status == 0 {
		label = "error"
	}
	HorizonRequestsTotal.WithLabelValues(op, label).Inc()
}
