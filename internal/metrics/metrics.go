package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTensors atomic.Int64

var (
	TensorsConvertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converter_tensors_converted_total",
		Help: "The total number of tensors written into target states",
	}, []string{"kind"})

	ElementsConvertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converter_elements_converted_total",
		Help: "The total number of tensor elements written into target states",
	})

	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "converter_conversion_duration_seconds",
		Help:    "Duration of filling one target state",
		Buckets: prometheus.DefBuckets,
	}, []string{"section"})

	LegacyVariables = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "converter_legacy_variables",
		Help: "Number of flattened variables per legacy network",
	}, []string{"network"})

	UntouchedParameters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "converter_untouched_parameters",
		Help: "Declared target parameters left at their initial value",
	}, []string{"section"})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converter_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converter_validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	CheckpointBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "converter_checkpoint_bytes",
		Help: "Size of the last checkpoint written",
	})
)

func RecordTensorConverted(kind string, elements int) {
	TensorsConvertedTotal.WithLabelValues(kind).Inc()
	ElementsConvertedTotal.Add(float64(elements))
	totalTensors.Add(1)
}

// TotalTensors returns the number of tensors recorded by this process.
func TotalTensors() int64 {
	return totalTensors.Load()
}

func RecordConversionDuration(section string, duration time.Duration) {
	ConversionDuration.WithLabelValues(section).Observe(duration.Seconds())
}

func RecordLegacyVariables(network string, count int) {
	LegacyVariables.WithLabelValues(network).Set(float64(count))
}

func RecordUntouched(section string, count int) {
	UntouchedParameters.WithLabelValues(section).Set(float64(count))
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

func RecordCheckpointBytes(n uint64) {
	CheckpointBytes.Set(float64(n))
}

// WriteTextfile dumps every registered metric in the text exposition format,
// for pickup by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
