package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/homemade/vaultsync/sync"
)

// pushMetrics sends the metrics of a one-shot pass to a pushgateway, if one is configured.
// A failed push is logged and never fails the pass.
func pushMetrics(cfg sync.MetricsSettings, gatherer prometheus.Gatherer, logger sync.Logger) {
	if cfg.Pushgateway == "" {
		return
	}
	job := cfg.Job
	if job == "" {
		job = "vaultsync"
	}
	if err := push.New(cfg.Pushgateway, job).Gatherer(gatherer).Push(); err != nil {
		logger.Printf("Failed to push metrics to %s: %v", cfg.Pushgateway, err)
	}
}
