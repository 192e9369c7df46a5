package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SitesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budyko_sites_total",
			Help: "Total sites processed, by outcome",
		},
		[]string{"status"},
	)

	RecordsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budyko_records_read_total",
			Help: "Total daily records read from site files",
		},
	)

	RecordsFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budyko_records_flagged_total",
			Help: "Daily records with at least one quality flag",
		},
		[]string{"flag"},
	)

	PETDomainErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budyko_pet_domain_errors_total",
			Help: "Daily PET values marked missing after a formula domain error",
		},
		[]string{"method"},
	)

	SiteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "budyko_site_duration_seconds",
			Help:    "Time to read, aggregate and store one site",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// WriteTextfile writes the default registry in text exposition format for
// the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
