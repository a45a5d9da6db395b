package metrics

import (
	"time"
)

// Collector interface for metrics collection
type Collector interface {
	// Counters
	IncrementCounter(name string, labels map[string]string)
	AddCounter(name string, value float64, labels map[string]string)

	// Gauges
	SetGauge(name string, value float64, labels map[string]string)
	IncrementGauge(name string, labels map[string]string)
	DecrementGauge(name string, labels map[string]string)

	// Histograms
	ObserveHistogram(name string, value float64, labels map[string]string)
	ObserveDuration(name string, start time.Time, labels map[string]string)

	// Registry
	Register(metric Metric) error
	Unregister(name string) error
}

// Metric represents a metric definition
type Metric struct {
	Name       string
	Type       MetricType
	Help       string
	Labels     []string
	Buckets    []float64           // For histograms
	Objectives map[float64]float64 // For summaries
}

// MetricType represents the type of metric
type MetricType string

const (
	CounterType   MetricType = "counter"
	GaugeType     MetricType = "gauge"
	HistogramType MetricType = "histogram"
	SummaryType   MetricType = "summary"
)

// Standard coordination bus metrics
var (
	MessagesDelivered = Metric{
		Name:   "coordbus_messages_delivered_total",
		Type:   CounterType,
		Help:   "Total number of direct messages delivered",
		Labels: []string{"message_type"},
	}

	BroadcastsSent = Metric{
		Name:   "coordbus_broadcasts_sent_total",
		Type:   CounterType,
		Help:   "Total number of broadcast messages published",
		Labels: []string{"channel", "message_type"},
	}

	DeliveryFailures = Metric{
		Name:   "coordbus_delivery_failures_total",
		Type:   CounterType,
		Help:   "Total number of message deliveries that failed after retries",
		Labels: []string{"kind"},
	}

	RateLimitRejections = Metric{
		Name:   "coordbus_rate_limit_rejections_total",
		Type:   CounterType,
		Help:   "Total number of operations rejected by rate limiting",
		Labels: []string{"class"},
	}

	QuotaDenials = Metric{
		Name:   "coordbus_quota_denials_total",
		Type:   CounterType,
		Help:   "Total number of admission checks denied by quota",
		Labels: []string{"resource"},
	}

	HandoffTransitions = Metric{
		Name:   "coordbus_handoff_transitions_total",
		Type:   CounterType,
		Help:   "Total number of handoff state transitions",
		Labels: []string{"to_status"},
	}

	BatchesSubmitted = Metric{
		Name:   "coordbus_batches_submitted_total",
		Type:   CounterType,
		Help:   "Total number of batch operations accepted",
		Labels: []string{"type"},
	}

	BatchQueueDepth = Metric{
		Name:   "coordbus_batch_queue_depth",
		Type:   GaugeType,
		Help:   "Number of batches waiting in the queue",
		Labels: []string{},
	}

	ActiveBatches = Metric{
		Name:   "coordbus_active_batches",
		Type:   GaugeType,
		Help:   "Number of batches currently processing",
		Labels: []string{},
	}

	BatchItemsProcessed = Metric{
		Name:   "coordbus_batch_items_processed_total",
		Type:   CounterType,
		Help:   "Total number of batch items attempted",
		Labels: []string{"type", "outcome"},
	}

	BatchDuration = Metric{
		Name:    "coordbus_batch_duration_seconds",
		Type:    HistogramType,
		Help:    "Wall-clock duration of batch processing",
		Labels:  []string{"type", "status"},
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
	}

	MessageDeliveryLatency = Metric{
		Name:    "coordbus_message_delivery_seconds",
		Type:    HistogramType,
		Help:    "Latency of message publish including retries",
		Labels:  []string{"kind"},
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}

	RegisteredAgents = Metric{
		Name:   "coordbus_registered_agents",
		Type:   GaugeType,
		Help:   "Number of registered agent identities",
		Labels: []string{"tenant_id"},
	}
)

// StandardMetrics lists every bus metric for bulk registration
func StandardMetrics() []Metric {
	return []Metric{
		MessagesDelivered,
		BroadcastsSent,
		DeliveryFailures,
		RateLimitRejections,
		QuotaDenials,
		HandoffTransitions,
		BatchesSubmitted,
		BatchQueueDepth,
		ActiveBatches,
		BatchItemsProcessed,
		BatchDuration,
		MessageDeliveryLatency,
		RegisteredAgents,
	}
}

// Labels creates a labels map from key-value pairs
func Labels(kvs ...string) map[string]string {
	labels := make(map[string]string)
	for i := 0; i < len(kvs)-1; i += 2 {
		labels[kvs[i]] = kvs[i+1]
	}
	return labels
}

// NopCollector discards every observation; components fall back to it
// when no collector is wired
type NopCollector struct{}

func (NopCollector) IncrementCounter(name string, labels map[string]string)            {}
func (NopCollector) AddCounter(name string, value float64, labels map[string]string)   {}
func (NopCollector) SetGauge(name string, value float64, labels map[string]string)     {}
func (NopCollector) IncrementGauge(name string, labels map[string]string)              {}
func (NopCollector) DecrementGauge(name string, labels map[string]string)              {}
func (NopCollector) ObserveHistogram(name string, v float64, labels map[string]string) {}
func (NopCollector) ObserveDuration(name string, s time.Time, labels map[string]string) {
}
func (NopCollector) Register(metric Metric) error { return nil }
func (NopCollector) Unregister(name string) error { return nil }
