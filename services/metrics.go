package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ownershipChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sosband_bracelet_ownership_changes_total",
		Help: "Bracelet assign and transfer attempts by outcome.",
	}, []string{"operation", "result"})

	sosResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sosband_sos_resolutions_total",
		Help: "Public SOS page lookups by outcome.",
	}, []string{"result"})
)

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := KindOf(err); kind != 0 {
		return kind.String()
	}
	return "error"
}
