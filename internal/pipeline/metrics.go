/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration     *prometheus.HistogramVec
	detections        prometheus.Histogram
	inferenceFailures prometheus.Counter
	initializations   *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kinecta",
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"stage"}, // preprocess, inference, postprocess, annotate
		),
		detections: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "kinecta",
				Name:      "pipeline_detections",
				Help:      "Number of detections returned per request",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 100},
			},
		),
		inferenceFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kinecta",
				Name:      "pipeline_inference_failures_total",
				Help:      "Number of requests degraded by an inference failure",
			},
		),
		initializations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kinecta",
				Name:      "pipeline_initializations_total",
				Help:      "Model initialization attempts",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) observeDetections(n int) {
	if m == nil {
		return
	}
	m.detections.Observe(float64(n))
}

func (m *Metrics) inferenceFailed() {
	if m == nil {
		return
	}
	m.inferenceFailures.Inc()
}

func (m *Metrics) initialized(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.initializations.WithLabelValues(status).Inc()
}
