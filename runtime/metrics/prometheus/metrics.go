// Package prometheus provides Prometheus metrics for the conversation context engine.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ctxengine"

var (
	// turnsActive is a gauge of turns currently being processed.
	turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_active",
			Help:      "Number of turns currently being processed",
		},
	)

	// turnDuration is a histogram of end-to-end turn processing duration.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of turn processing duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"}, // status: success, failed, unpersisted
	)

	// turnsTotal is a counter of processed turns by topic.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of processed turns",
		},
		[]string{"topic", "status"},
	)

	// topicSwitchesTotal is a counter of topic switches.
	topicSwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topic_switches_total",
			Help:      "Total number of detected topic switches",
		},
		[]string{"from", "to"},
	)

	// topicConfidence is a histogram of classification confidence.
	topicConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "topic_confidence",
			Help:      "Distribution of topic classification confidence",
			Buckets:   []float64{.1, .25, .4, .5, .6, .75, .9, 1},
		},
		[]string{"topic"},
	)

	// referenceResolutionsTotal is a counter of reference resolution outcomes.
	referenceResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_resolutions_total",
			Help:      "Total number of reference resolution attempts by outcome",
		},
		[]string{"outcome"}, // outcome: applied, ambiguous, not_applied, fallback
	)

	// entitiesTrackedTotal is a counter of extracted entities.
	entitiesTrackedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_tracked_total",
			Help:      "Total number of entities extracted from tool results",
		},
		[]string{"kind"}, // kind: product, order, cart_delta, issue
	)

	// persistenceConflictsTotal is a counter of optimistic-concurrency conflicts.
	persistenceConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_conflicts_total",
			Help:      "Total number of session context save conflicts",
		},
	)

	// persistenceFailuresTotal is a counter of saves that gave up.
	persistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of session context saves that failed",
		},
	)

	// saveDuration is a histogram of successful save latency.
	saveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_save_duration_seconds",
			Help:      "Duration of successful session context saves in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		turnsActive,
		turnDuration,
		turnsTotal,
		topicSwitchesTotal,
		topicConfidence,
		referenceResolutionsTotal,
		entitiesTrackedTotal,
		persistenceConflictsTotal,
		persistenceFailuresTotal,
		saveDuration,
	}
)

// RecordTurnStart records a turn entering processing.
func RecordTurnStart() {
	turnsActive.Inc()
}

// RecordTurnEnd records a turn leaving processing.
func RecordTurnEnd(topic, status string, durationSeconds float64) {
	turnsActive.Dec()
	turnDuration.WithLabelValues(status).Observe(durationSeconds)
	turnsTotal.WithLabelValues(topic, status).Inc()
}

// RecordTopicSwitch records a topic switch.
func RecordTopicSwitch(from, to string) {
	topicSwitchesTotal.WithLabelValues(from, to).Inc()
}

// RecordTopicConfidence records the confidence of a classification.
func RecordTopicConfidence(topic string, confidence float64) {
	topicConfidence.WithLabelValues(topic).Observe(confidence)
}

// RecordResolution records a reference resolution outcome.
func RecordResolution(outcome string) {
	referenceResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEntities records extracted entity counts.
func RecordEntities(products, orders, cartDeltas, issues int) {
	if products > 0 {
		entitiesTrackedTotal.WithLabelValues("product").Add(float64(products))
	}
	if orders > 0 {
		entitiesTrackedTotal.WithLabelValues("order").Add(float64(orders))
	}
	if cartDeltas > 0 {
		entitiesTrackedTotal.WithLabelValues("cart_delta").Add(float64(cartDeltas))
	}
	if issues > 0 {
		entitiesTrackedTotal.WithLabelValues("issue").Add(float64(issues))
	}
}

// RecordPersistenceConflict records a lost save race.
func RecordPersistenceConflict() {
	persistenceConflictsTotal.Inc()
}

// RecordPersistenceFailure records a save that gave up.
func RecordPersistenceFailure() {
	persistenceFailuresTotal.Inc()
}

// RecordSave records a successful save.
func RecordSave(durationSeconds float64) {
	saveDuration.Observe(durationSeconds)
}
