package telemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// Scan metrics, following OTEL naming conventions.
var (
	ScansCompleted metric.Int64Counter
	TasksDropped   metric.Int64Counter
	FindingsTotal  metric.Int64Counter
	ScanDuration   metric.Float64Histogram
	RolesAssumed   metric.Int64Counter
	RolesFailed    metric.Int64Counter
)

// Instruments are created eagerly from the global meter; the otel globals
// package swaps in the real provider when InitOTEL registers one.
func init() {
	_ = initScanMetrics()
}

func initScanMetrics() error {
	var err error

	ScansCompleted, err = Meter.Int64Counter(
		"cloudsweep.scans.completed.total",
		metric.WithDescription("Scan tasks that returned a result"),
		metric.WithUnit("tasks"),
	)
	if err != nil {
		return err
	}

	TasksDropped, err = Meter.Int64Counter(
		"cloudsweep.tasks.dropped.total",
		metric.WithDescription("Scan tasks dropped after an unrecovered failure"),
		metric.WithUnit("tasks"),
	)
	if err != nil {
		return err
	}

	FindingsTotal, err = Meter.Int64Counter(
		"cloudsweep.findings.total",
		metric.WithDescription("Findings produced by resource scanners"),
		metric.WithUnit("findings"),
	)
	if err != nil {
		return err
	}

	ScanDuration, err = Meter.Float64Histogram(
		"cloudsweep.scan.duration.seconds",
		metric.WithDescription("Duration of one full orchestration run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	RolesAssumed, err = Meter.Int64Counter(
		"cloudsweep.roles.assumed.total",
		metric.WithDescription("Successful runner-role assumptions"),
		metric.WithUnit("roles"),
	)
	if err != nil {
		return err
	}

	RolesFailed, err = Meter.Int64Counter(
		"cloudsweep.roles.failed.total",
		metric.WithDescription("Failed runner-role assumptions"),
		metric.WithUnit("roles"),
	)
	return err
}
