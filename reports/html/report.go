// Package html renders scan results into a single self-contained HTML
// report file.
package html

import (
	"errors"
	"fmt"
	"html/template"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// ErrNoFindings means every cell of every report was empty, so no report
// file should be produced.
var ErrNoFindings = errors.New("no findings to report")

// Row is one finding flattened for the report table.
type Row struct {
	AccountID    string
	Region       string
	ResourceType string
	Name         string
	ResourceID   string
	Reason       string
	Details      string
}

// CostRow aggregates cost over one resource type.
type CostRow struct {
	Label    string
	Hourly   float64
	Daily    float64
	Monthly  float64
	Yearly   float64
	Lifetime float64
}

type reportData struct {
	GeneratedAt   string
	Duration      string
	TotalScans    int
	ScansPerSec   string
	Accounts      map[string][]string
	TypeCounts    map[string]int
	Rows          []Row
	CostRows      []CostRow
	Totals        CostRow
	HasCosts      bool
	AccountsOrder []string
}

// Generator renders account reports to HTML.
type Generator struct {
	logger *telemetry.Logger
	tmpl   *template.Template
}

// NewGenerator compiles the report template.
func NewGenerator() (*Generator, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"usd": func(amount float64) string {
			return fmt.Sprintf("$%.2f", amount)
		},
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}
	return &Generator{
		logger: telemetry.NewLogger("reports.html"),
		tmpl:   tmpl,
	}, nil
}

// Generate renders the report. When every cell is empty it returns
// ErrNoFindings and no output.
func (g *Generator) Generate(reports []types.AccountReport, metrics types.Metrics) (string, error) {
	if allEmpty(reports) {
		return "", ErrNoFindings
	}

	data := g.collect(reports, metrics)
	var out strings.Builder
	if err := g.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return out.String(), nil
}

// WriteFile renders the report to path. ErrNoFindings passes through so
// callers can skip the upload step.
func (g *Generator) WriteFile(reports []types.AccountReport, metrics types.Metrics, path string) error {
	content, err := g.Generate(reports, metrics)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	g.logger.Info().Str("path", path).Msg("report written")
	return nil
}

func (g *Generator) collect(reports []types.AccountReport, metrics types.Metrics) reportData {
	data := reportData{
		GeneratedAt: metrics.StartTime.UTC().Format("2006-01-02 15:04:05 MST"),
		Duration:    humanDuration(metrics.TotalRunTime),
		TotalScans:  metrics.TotalScans,
		ScansPerSec: fmt.Sprintf("%.2f", metrics.AvgScansPerSecond),
		Accounts:    make(map[string][]string),
		TypeCounts:  make(map[string]int),
	}

	costs := make(map[string]*CostRow)
	for _, report := range reports {
		var regions []string
		for _, region := range report.Regions {
			if region != types.GlobalRegion {
				regions = append(regions, region)
			}
		}
		data.Accounts[report.AccountID] = regions
		data.AccountsOrder = append(data.AccountsOrder, report.AccountID)

		for region, cells := range report.Results {
			for _, findings := range cells {
				for _, finding := range findings {
					data.TypeCounts[finding.ResourceType]++
					data.Rows = append(data.Rows, Row{
						AccountID:    finding.AccountID,
						Region:       region,
						ResourceType: finding.ResourceType,
						Name:         finding.Name,
						ResourceID:   finding.ResourceID,
						Reason:       finding.Reason,
						Details:      formatDetails(finding.Details),
					})
					accumulateCost(costs, finding)
				}
			}
		}
	}

	sort.Slice(data.Rows, func(i, j int) bool {
		a, b := data.Rows[i], data.Rows[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.ResourceID < b.ResourceID
	})
	sort.Strings(data.AccountsOrder)

	for _, label := range sortedKeys(costs) {
		row := *costs[label]
		data.CostRows = append(data.CostRows, row)
		data.Totals.Hourly += row.Hourly
		data.Totals.Daily += row.Daily
		data.Totals.Monthly += row.Monthly
		data.Totals.Yearly += row.Yearly
		data.Totals.Lifetime += row.Lifetime
	}
	data.Totals.Label = "Totals"
	data.HasCosts = len(data.CostRows) > 0

	return data
}

func accumulateCost(costs map[string]*CostRow, finding types.Finding) {
	if finding.Cost == nil {
		return
	}
	row, ok := costs[finding.ResourceType]
	if !ok {
		row = &CostRow{Label: finding.ResourceType}
		costs[finding.ResourceType] = row
	}
	row.Hourly += finding.Cost.Hourly
	row.Daily += finding.Cost.Daily
	row.Monthly += finding.Cost.Monthly
	row.Yearly += finding.Cost.Yearly
	row.Lifetime += finding.Cost.Lifetime
}

func allEmpty(reports []types.AccountReport) bool {
	for _, report := range reports {
		if !report.Empty() {
			return false
		}
	}
	return true
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	var parts []string
	for _, key := range sortedKeys(details) {
		parts = append(parts, key+": "+details[key])
	}
	return strings.Join(parts, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// humanDuration renders seconds the way people read scan times.
func humanDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d day(s) %d hour(s)", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%d hour(s) %d minute(s)", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%d minute(s) %d second(s)", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%d second(s)", int(d.Seconds()))
	}
}
