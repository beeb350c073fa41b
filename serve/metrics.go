package serve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the host.
type Metrics struct {
	// Fleet gauges
	TenantsTotal     prometheus.Gauge
	TenantsActive    prometheus.Gauge
	CredentialsTotal prometheus.Gauge
	CredentialUsage  prometheus.Gauge

	// Lifecycle counters
	AuthAttemptsTotal *prometheus.CounterVec
	LifecycleTotal    *prometheus.CounterVec
	ViolationsTotal   *prometheus.CounterVec

	// Per-tenant resource gauges
	WorkerMemoryBytes *prometheus.GaugeVec
	WorkerCPUPercent  *prometheus.GaugeVec
	WorkerOpenHandles *prometheus.GaugeVec
	WorkerConnections *prometheus.GaugeVec
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TenantsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hive_tenants_total",
			Help: "Number of registered tenants",
		}),

		TenantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hive_tenants_active",
			Help: "Number of tenants with a running worker",
		}),

		CredentialsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hive_credentials_total",
			Help: "Number of credentials in the pool",
		}),

		CredentialUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hive_credential_usage",
			Help: "Sum of in-use counts across the credential pool",
		}),

		AuthAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_auth_attempts_total",
				Help: "Authentication turns processed",
			},
			[]string{"turn", "result"},
		),

		LifecycleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_lifecycle_operations_total",
				Help: "Tenant lifecycle operations processed",
			},
			[]string{"operation", "result"},
		),

		ViolationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_quota_violations_total",
				Help: "Quota violations detected",
			},
			[]string{"kind"},
		),

		WorkerMemoryBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hive_worker_memory_bytes",
				Help: "Resident memory of the tenant worker",
			},
			[]string{"tenant_id"},
		),

		WorkerCPUPercent: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hive_worker_cpu_percent",
				Help: "CPU usage of the tenant worker since the last sample",
			},
			[]string{"tenant_id"},
		),

		WorkerOpenHandles: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hive_worker_open_handles",
				Help: "Open file descriptors of the tenant worker",
			},
			[]string{"tenant_id"},
		),

		WorkerConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hive_worker_connections",
				Help: "Open sockets of the tenant worker",
			},
			[]string{"tenant_id"},
		),
	}
}

// forgetTenant clears the per-tenant gauges after a delete.
func (m *Metrics) forgetTenant(tenantID string) {
	labels := prometheus.Labels{"tenant_id": tenantID}
	m.WorkerMemoryBytes.Delete(labels)
	m.WorkerCPUPercent.Delete(labels)
	m.WorkerOpenHandles.Delete(labels)
	m.WorkerConnections.Delete(labels)
}
