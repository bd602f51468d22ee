// Package types defines the shared data model for CloudSweep.
package types

// Finding is one unused or underused resource reported by a scanner.
// Scanners own the contents; the core passes findings through unmodified.
type Finding struct {
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name"`
	ResourceType string            `json:"resource_type"`
	Reason       string            `json:"reason"`
	AccountID    string            `json:"account_id"`
	Region       string            `json:"region"`
	Cost         *CostBreakdown    `json:"cost,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// CostBreakdown estimates what a resource costs over common time units.
// All amounts are USD.
type CostBreakdown struct {
	Hourly   float64 `json:"hourly"`
	Daily    float64 `json:"daily"`
	Monthly  float64 `json:"monthly"`
	Yearly   float64 `json:"yearly"`
	Lifetime float64 `json:"lifetime"`
}
