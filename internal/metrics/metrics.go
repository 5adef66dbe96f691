// Package metrics wires the control plane's Prometheus surface,
// grounded on the teacher's internal/metrics/prometheus.go: a private
// registry, counters for lifecycle transitions, histograms for latency,
// gauges for occupancy, all exposed over promhttp.Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Registry wraps the collectors used across pool, rpc, and sandbox.
type Registry struct {
	registry *prometheus.Registry

	vmsBooted    prometheus.Counter
	vmsTainted   prometheus.Counter
	vmsDead      prometheus.Counter
	provisioning *prometheus.CounterVec
	snapshots    prometheus.Counter

	vmBootDuration  prometheus.Histogram
	rpcLatency      *prometheus.HistogramVec
	invocationCalls *prometheus.CounterVec

	poolReady   *prometheus.GaugeVec
	poolInUse   *prometheus.GaugeVec
	poolBooting *prometheus.GaugeVec
}

var def *Registry

func init() {
	def = newRegistry("firebreak")
}

func newRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		registry: reg,
		vmsBooted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_booted_total", Help: "Total VMs booted or restored.",
		}),
		vmsTainted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_tainted_total", Help: "Total VMs that transitioned to Tainted.",
		}),
		vmsDead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_dead_total", Help: "Total VMs torn down after serving MaxCallsPerVM calls; tainted, idle-reaped and shut-down VMs are not counted.",
		}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provisioning_total", Help: "Provisioning attempts by outcome.",
		}, []string{"outcome"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_total", Help: "Total snapshot captures across all pools.",
		}),
		vmBootDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vm_boot_duration_ms", Help: "VM boot/restore latency.", Buckets: defaultBuckets,
		}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rpc_latency_ms", Help: "RPC call latency by outcome.", Buckets: defaultBuckets,
		}, []string{"outcome"}),
		invocationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invocations_total", Help: "Sandbox executions by outcome.",
		}, []string{"outcome"}),
		poolReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_ready_vms", Help: "Ready VMs per pool.",
		}, []string{"pool"}),
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_inuse_vms", Help: "In-use VMs per pool.",
		}, []string{"pool"}),
		poolBooting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_booting_vms", Help: "Booting VMs per pool.",
		}, []string{"pool"}),
	}
	reg.MustRegister(r.vmsBooted, r.vmsTainted, r.vmsDead, r.provisioning, r.snapshots,
		r.vmBootDuration, r.rpcLatency, r.invocationCalls, r.poolReady, r.poolInUse, r.poolBooting)
	return r
}

// Handler exposes the default registry over HTTP for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(def.registry, promhttp.HandlerOpts{})
}

func RecordVMBoot(ms float64) { def.vmBootDuration.Observe(ms) }
func IncVMsBooted()           { def.vmsBooted.Inc() }
func IncVMsTainted()          { def.vmsTainted.Inc() }
func IncVMsDead()             { def.vmsDead.Inc() }
func IncSnapshots()           { def.snapshots.Inc() }

func RecordProvisioning(outcome string) { def.provisioning.WithLabelValues(outcome).Inc() }
func RecordRPCLatency(outcome string, ms float64) { def.rpcLatency.WithLabelValues(outcome).Observe(ms) }
func RecordInvocation(outcome string)   { def.invocationCalls.WithLabelValues(outcome).Inc() }

func SetPoolOccupancy(poolKey string, ready, inUse, booting int) {
	def.poolReady.WithLabelValues(poolKey).Set(float64(ready))
	def.poolInUse.WithLabelValues(poolKey).Set(float64(inUse))
	def.poolBooting.WithLabelValues(poolKey).Set(float64(booting))
}
