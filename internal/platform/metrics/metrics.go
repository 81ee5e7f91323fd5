// Package metrics builds the process-wide Prometheus registry.
package metrics

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors plus a build info gauge. Every component registers on it instead
// of the global default registry.
func NewRegistry(version string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	goVersion := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		goVersion = info.GoVersion
	}
	promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "bruteguard_build_info",
		Help: "Build information; the value is always 1",
	}, []string{"version", "go_version"}).WithLabelValues(version, goVersion).Set(1)

	return reg
}
