package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "studybuddy"

var (
	// BuddyOperations counts relationship operations by name and outcome.
	BuddyOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buddy_operations_total",
			Help:      "Buddy relationship operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// PartialWrites counts two-profile operations where only one side was written.
	PartialWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buddy_partial_writes_total",
			Help:      "Two-profile updates where exactly one write succeeded.",
		},
		[]string{"op"},
	)

	RepairPrunedReferences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_pruned_references_total",
			Help:      "Pending-request references dropped by the repair pass.",
		},
		[]string{"reason"},
	)

	PurgeProfilesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_profiles_scanned_total",
		Help:      "Profiles visited by reference purge scans.",
	})

	PurgeProfilesUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_profiles_updated_total",
		Help:      "Profiles rewritten by reference purge scans.",
	})

	ReportsFiled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_filed_total",
			Help:      "Moderation reports by result.",
		},
		[]string{"result"},
	)
)

// Result turns an error into the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
