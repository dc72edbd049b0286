// Package metrics holds the Prometheus collectors of the supervisor. Collectors are
// registered once per process on the default registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics 监控指标
type Metrics struct {
	WatchdogState      prometheus.Gauge
	ProbeFailuresTotal prometheus.Counter
	ReconnectsTotal    *prometheus.CounterVec

	AlarmsRaisedTotal *prometheus.CounterVec
	AlarmsActive      prometheus.Gauge

	TaskExitsTotal *prometheus.CounterVec
	TasksRunning   prometheus.Gauge

	CycleStep             *prometheus.GaugeVec
	MotionErrorsTotal     *prometheus.CounterVec
	CollisionAppliesTotal *prometheus.CounterVec

	PLCErrorsTotal *prometheus.CounterVec
}

// Default returns the process-wide collectors, registering them on first use.
//
// Metrics:
//   - robotcell_watchdog_state - 0 connected, 1 suspected, 2 disconnected, 3 reconnecting
//   - robotcell_watchdog_probe_failures_total
//   - robotcell_watchdog_reconnects_total{result}
//   - robotcell_alarms_raised_total{device,blocking}
//   - robotcell_alarms_active
//   - robotcell_task_exits_total{task,status}
//   - robotcell_tasks_running
//   - robotcell_cycle_step{cycle}
//   - robotcell_motion_errors_total{code}
//   - robotcell_collision_applies_total{result}
//   - robotcell_plc_errors_total{op}
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WatchdogState: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "robotcell_watchdog_state",
				Help: "Current connection watchdog state",
			}),
			ProbeFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "robotcell_watchdog_probe_failures_total",
				Help: "Total number of failed liveness probes",
			}),
			ReconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "robotcell_watchdog_reconnects_total",
				Help: "Total number of re-initialization attempts",
			}, []string{"result"}),
			AlarmsRaisedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "robotcell_alarms_raised_total",
				Help: "Total number of alarms raised after deduplication",
			}, []string{"device", "blocking"}),
			AlarmsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "robotcell_alarms_active",
				Help: "Number of alarm keys currently signaled",
			}),
			TaskExitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "robotcell_task_exits_total",
				Help: "Total number of supervised task exits by terminal status",
			}, []string{"task", "status"}),
			TasksRunning: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "robotcell_tasks_running",
				Help: "Number of supervised tasks currently running",
			}),
			CycleStep: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "robotcell_cycle_step",
				Help: "Current step of each motion cycle",
			}, []string{"cycle"}),
			MotionErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "robotcell_motion_errors_total",
				Help: "Total number of non-zero motion result codes",
			}, []string{"code"}),
			CollisionAppliesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "robotcell_collision_applies_total",
				Help: "Total number of collision profile change requests by result",
			}, []string{"result"}),
			PLCErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "robotcell_plc_errors_total",
				Help: "Total number of failed PLC tag operations",
			}, []string{"op"}),
		}
	})
	return globalMetrics
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
