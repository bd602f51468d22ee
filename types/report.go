package types

import "time"

// GlobalRegion is the sentinel region used for account-scoped scanners.
const GlobalRegion = "Global"

// RegionResults maps a scanner alias to the findings it produced in one
// region. An alias that was attempted but found nothing is present with an
// empty slice, so downstream code can tell "clean" from "never ran".
type RegionResults map[string][]Finding

// AccountReport is the aggregate for one account: results keyed by region,
// then scanner alias.
type AccountReport struct {
	AccountID   string                   `json:"account_id"`
	AccountName string                   `json:"account_name"`
	Regions     []string                 `json:"regions"`
	Results     map[string]RegionResults `json:"scan_results"`
}

// Empty reports whether no cell in the report holds any findings.
func (r AccountReport) Empty() bool {
	for _, region := range r.Results {
		for _, findings := range region {
			if len(findings) > 0 {
				return false
			}
		}
	}
	return true
}

// Metrics summarizes one orchestration run. TotalScans counts tasks that
// returned a result; dropped tasks are excluded.
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	TotalScans        int       `json:"total_scans"`
	DroppedTasks      int       `json:"dropped_tasks"`
	TotalRunTime      float64   `json:"total_run_time"`
	AvgScansPerSecond float64   `json:"avg_scans_per_second"`
}
