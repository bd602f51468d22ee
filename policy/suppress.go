// Package policy filters findings through user-supplied Rego rules before
// they reach reports. A rule marks a finding suppressed; everything else
// passes through untouched.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// Input is what each finding looks like to a policy rule.
type Input struct {
	Finding types.Finding `json:"finding"`
	Account string        `json:"account"`
	Region  string        `json:"region"`
}

// Suppressor evaluates a compiled suppression policy against findings.
type Suppressor struct {
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
}

// New compiles a Rego module. The policy declares package cloudsweep and
// a boolean rule named suppress, for example:
//
//	package cloudsweep
//	import rego.v1
//
//	suppress if input.finding.resource_type == "S3 Buckets"
func New(ctx context.Context, name, regoCode string) (*Suppressor, error) {
	query := rego.New(
		rego.Query("data.cloudsweep.suppress"),
		rego.Module(name, regoCode),
	)
	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	return &Suppressor{
		query:  prepared,
		logger: telemetry.NewLogger("policy"),
	}, nil
}

// Load reads and compiles a policy file.
func Load(ctx context.Context, path string) (*Suppressor, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return New(ctx, path, string(code))
}

// Suppressed reports whether the policy suppresses one finding. Evaluation
// errors fail open: a broken rule never hides a finding.
func (s *Suppressor) Suppressed(ctx context.Context, finding types.Finding) bool {
	results, err := s.query.Eval(ctx, rego.EvalInput(Input{
		Finding: finding,
		Account: finding.AccountID,
		Region:  finding.Region,
	}))
	if err != nil {
		s.logger.WithContext(ctx).Warn().
			Err(err).
			Str("resource_id", finding.ResourceID).
			Msg("policy evaluation failed, keeping finding")
		return false
	}

	return len(results) > 0 && results.Allowed()
}

// Apply filters suppressed findings out of every cell of the reports. The
// report structure is preserved; only finding slices shrink.
func (s *Suppressor) Apply(ctx context.Context, reports []types.AccountReport) []types.AccountReport {
	ctx, span := telemetry.Tracer.Start(ctx, "policy.apply")
	defer span.End()

	suppressed := 0
	for _, report := range reports {
		for region, cells := range report.Results {
			for alias, findings := range cells {
				kept := make([]types.Finding, 0, len(findings))
				for _, finding := range findings {
					if s.Suppressed(ctx, finding) {
						suppressed++
						continue
					}
					kept = append(kept, finding)
				}
				report.Results[region][alias] = kept
			}
		}
	}

	span.SetAttributes(attribute.Int("findings.suppressed", suppressed))
	if suppressed > 0 {
		s.logger.WithContext(ctx).Info().
			Int("suppressed", suppressed).
			Msg("policy suppressed findings")
	}
	return reports
}
