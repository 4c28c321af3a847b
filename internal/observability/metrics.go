package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	visitsRecordedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "usercounter",
		Subsystem: "store",
		Name:      "visits_recorded_total",
		Help:      "Number of visit writes accepted by the activity store.",
	})
	lastVisitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "usercounter",
		Subsystem: "store",
		Name:      "last_visit_recorded_timestamp_seconds",
		Help:      "Unix timestamp of the most recent visit written to the activity store.",
	})
	storeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usercounter",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Number of failed activity store operations, by operation.",
	}, []string{"operation"})
	recordsCleanedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "usercounter",
		Subsystem: "store",
		Name:      "records_cleaned_up_total",
		Help:      "Number of activity records removed by retention cleanup.",
	})
)

func init() {
	prometheus.MustRegister(visitsRecordedCounter, lastVisitGauge, storeErrorCounter, recordsCleanedCounter)
}

// RecordVisitPersisted updates the visit counters after a successful write.
func RecordVisitPersisted(ts time.Time) {
	visitsRecordedCounter.Inc()
	if !ts.IsZero() {
		lastVisitGauge.Set(float64(ts.Unix()))
	}
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(operation string) {
	storeErrorCounter.WithLabelValues(operation).Inc()
}

// RecordRecordsCleaned counts rows removed by retention cleanup.
func RecordRecordsCleaned(n int64) {
	if n > 0 {
		recordsCleanedCounter.Add(float64(n))
	}
}
