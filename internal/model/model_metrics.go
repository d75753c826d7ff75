package model

import "github.com/prometheus/client_golang/prometheus"

var (
	// ModelTrainingTotal counts training runs by result.
	ModelTrainingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rivora",
			Name:      "model_training_total",
			Help:      "Model training runs by result.",
		},
		[]string{"result"},
	)

	// ModelTrainingDuration observes successful training latency.
	ModelTrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rivora",
			Name:      "model_training_duration_seconds",
			Help:      "Model training duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(ModelTrainingTotal, ModelTrainingDuration)
}

func observeTraining(result string) {
	ModelTrainingTotal.WithLabelValues(result).Inc()
}
