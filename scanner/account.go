// Package scanner runs registered resource scanners against one account.
package scanner

import (
	"context"
	"fmt"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// AccountScanner executes scanners against each requested region of a
// single account and assembles the nested result map.
type AccountScanner struct {
	registry *registry.Registry
	logger   *telemetry.Logger
}

// NewAccountScanner creates a scanner backed by a sealed registry.
func NewAccountScanner(reg *registry.Registry) *AccountScanner {
	return &AccountScanner{
		registry: reg,
		logger:   telemetry.NewLogger("account-scanner"),
	}
}

// ScanResources runs every requested scanner in every requested region.
// Failures are contained per cell: a scanner error or panic leaves that
// cell empty and never aborts sibling scanners or regions. Every attempted
// (region, alias) cell is present in the result, even when empty, so
// downstream aggregation can tell "found nothing" from "never ran".
func (s *AccountScanner) ScanResources(ctx context.Context, sess session.Context, accountID, accountName string, regions, aliases []string) map[string]types.RegionResults {
	results := make(map[string]types.RegionResults, len(regions))

	for _, region := range regions {
		regionSess := sess
		if region != types.GlobalRegion {
			regionSess = sess.WithRegion(region)
		}

		regionResults := make(types.RegionResults, len(aliases))
		for _, alias := range aliases {
			regionResults[alias] = s.scanCell(ctx, regionSess, accountID, region, alias)
		}
		results[region] = regionResults
	}

	s.logger.WithContext(ctx).Debug().
		Str("account_id", accountID).
		Str("account_name", accountName).
		Int("regions", len(regions)).
		Msg("account scan complete")

	return results
}

// scanCell runs one scanner in one region. The empty (never nil) slice is
// the recorded result for any failure path.
func (s *AccountScanner) scanCell(ctx context.Context, sess session.Context, accountID, region, alias string) []types.Finding {
	plugin, err := s.registry.Resolve(alias)
	if err != nil {
		s.logger.WithContext(ctx).Error().
			Err(err).
			Str("account_id", accountID).
			Str("region", region).
			Msg("scanner resolution failed")
		return []types.Finding{}
	}

	findings, err := s.runScanner(ctx, plugin, sess)
	if err != nil {
		s.logger.WithContext(ctx).Error().
			Err(err).
			Str("account_id", accountID).
			Str("region", region).
			Str("scanner", alias).
			Msg("scanner failed")
		return []types.Finding{}
	}

	if findings == nil {
		findings = []types.Finding{}
	}
	telemetry.FindingsTotal.Add(ctx, int64(len(findings)))
	return findings
}

// runScanner invokes the plugin, converting a panic into an error so one
// misbehaving scanner cannot take down the worker.
func (s *AccountScanner) runScanner(ctx context.Context, plugin registry.Scanner, sess session.Context) (findings []types.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scanner panic: %v", r)
		}
	}()
	return plugin.Scan(ctx, sess)
}
