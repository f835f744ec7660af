package api

import (
	"net/http"

	"github.com/cuemby/burrow/pkg/metrics"
)

// registerHealth mounts the probe and scrape endpoints. They answer on any
// method so load balancers using HEAD keep working.
func registerHealth(mux *http.ServeMux) {
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())
}
