// Package metrics exposes Prometheus counters/gauges/histograms for
// the poll loop, TFTP retransmits, and NFS RPC latency, using the
// promauto.With(reg)-per-registry pattern.
//
// A facade/concrete-metrics split would normally separate an
// IsEnabled/GetRegistry facade from the metric sets themselves, but
// this package collapses that into one file since there is no second
// backend to abstract behind an interface here. It keeps the same
// "enabled is optional, nil receiver methods are no-ops" shape so
// instrumentation call sites never need a nil check of their own.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric this firmware publishes. A nil
// *Registry is valid and every method on it is a no-op, so callers can
// unconditionally instrument code paths without branching on whether
// metrics are enabled.
type Registry struct {
	pollIterations  prometheus.Counter
	pollDuration    prometheus.Histogram
	processCount    prometheus.Gauge

	tftpRetransmits *prometheus.CounterVec
	tftpBytesRecv   prometheus.Counter

	nfsRPCLatency *prometheus.HistogramVec
	nfsRPCErrors  *prometheus.CounterVec

	bzimageLoadDuration prometheus.Histogram
	cmsVerifications    *prometheus.CounterVec
	ibftInstalls        prometheus.Counter
}

// NewRegistry constructs a Registry backed by reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests, multiple
// instances in one process) or prometheus.DefaultRegisterer to publish
// on the default /metrics handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return &Registry{
		pollIterations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "netboot_poll_iterations_total",
			Help: "Total number of scheduler poll loop iterations",
		}),
		pollDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "netboot_poll_duration_microseconds",
			Help:    "Duration of a single poll loop iteration",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		processCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "netboot_scheduler_processes",
			Help: "Current number of processes registered with the scheduler",
		}),
		tftpRetransmits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "netboot_tftp_retransmits_total",
			Help: "Total number of TFTP block retransmissions by reason",
		}, []string{"reason"}), // "timeout", "duplicate_ack"
		tftpBytesRecv: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "netboot_tftp_bytes_received_total",
			Help: "Total bytes received over TFTP",
		}),
		nfsRPCLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "netboot_nfs_rpc_latency_milliseconds",
			Help: "NFS/MOUNT RPC round-trip latency by procedure",
			Buckets: []float64{
				1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000,
			},
		}, []string{"procedure"}), // "mnt", "lookup", "read", "readlink"
		nfsRPCErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "netboot_nfs_rpc_errors_total",
			Help: "NFS/MOUNT RPC errors by procedure and status",
		}, []string{"procedure", "status"}),
		bzimageLoadDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "netboot_bzimage_load_duration_milliseconds",
			Help:    "Time spent parsing and placing a bzImage kernel",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
		cmsVerifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "netboot_cms_verifications_total",
			Help: "CMS signature verifications by result",
		}, []string{"result"}), // "ok", "verify_failed", "no_trust"
		ibftInstalls: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "netboot_ibft_installs_total",
			Help: "Total number of iBFT table installs",
		}),
	}
}

func (r *Registry) PollIteration(d time.Duration) {
	if r == nil {
		return
	}
	r.pollIterations.Inc()
	r.pollDuration.Observe(float64(d.Microseconds()))
}

func (r *Registry) SetProcessCount(n int) {
	if r == nil {
		return
	}
	r.processCount.Set(float64(n))
}

func (r *Registry) TFTPRetransmit(reason string) {
	if r == nil {
		return
	}
	r.tftpRetransmits.WithLabelValues(reason).Inc()
}

func (r *Registry) TFTPBytesReceived(n int) {
	if r == nil {
		return
	}
	r.tftpBytesRecv.Add(float64(n))
}

func (r *Registry) NFSRPC(procedure string, d time.Duration) {
	if r == nil {
		return
	}
	r.nfsRPCLatency.WithLabelValues(procedure).Observe(float64(d.Milliseconds()))
}

func (r *Registry) NFSRPCError(procedure, status string) {
	if r == nil {
		return
	}
	r.nfsRPCErrors.WithLabelValues(procedure, status).Inc()
}

func (r *Registry) BzImageLoad(d time.Duration) {
	if r == nil {
		return
	}
	r.bzimageLoadDuration.Observe(float64(d.Milliseconds()))
}

func (r *Registry) CMSVerification(result string) {
	if r == nil {
		return
	}
	r.cmsVerifications.WithLabelValues(result).Inc()
}

func (r *Registry) IBFTInstall() {
	if r == nil {
		return
	}
	r.ibftInstalls.Inc()
}
