// Package aws holds the idle-resource scanners. Each scanner inspects one
// resource family in one region (or account-wide for global services) and
// reports findings; thresholds and cost estimation come in through Options
// so scanners stay stateless.
package aws

import (
	"context"
	"time"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// CostEstimator prices a resource; nil disables cost annotation.
type CostEstimator interface {
	Estimate(ctx context.Context, resourceType, size string, hoursRunning float64) (*types.CostBreakdown, error)
}

// Options is shared scanner configuration.
type Options struct {
	// DaysThreshold is how long a resource must look idle before it is
	// reported.
	DaysThreshold int
	// Costs annotates findings with price estimates when set.
	Costs CostEstimator
}

func (o Options) threshold() time.Duration {
	return time.Duration(o.DaysThreshold) * 24 * time.Hour
}

// estimate prices one resource, best effort. Pricing failures only cost us
// the annotation, never the finding.
func (o Options) estimate(ctx context.Context, logger *telemetry.Logger, resourceType, size string, hours float64) *types.CostBreakdown {
	if o.Costs == nil {
		return nil
	}
	breakdown, err := o.Costs.Estimate(ctx, resourceType, size, hours)
	if err != nil {
		logger.WithContext(ctx).Warn().
			Err(err).
			Str("resource_type", resourceType).
			Str("size", size).
			Msg("cost estimation failed")
		return nil
	}
	return breakdown
}

// ageDays returns whole days since t.
func ageDays(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}

// hoursSince returns elapsed hours since t, for lifetime cost figures.
func hoursSince(t time.Time) float64 {
	return time.Since(t).Hours()
}

// RegisterAll registers every scanner on r. The set is explicit so a
// glance at this table answers what the tool can scan.
func RegisterAll(r *registry.Registry, opts Options) error {
	scanners := []registry.Scanner{
		NewEC2InstanceScanner(opts),
		NewEBSVolumeScanner(opts),
		NewEBSSnapshotScanner(opts),
		NewElasticIPScanner(opts),
		NewSecurityGroupScanner(opts),
		NewVPCScanner(opts),
		NewNATGatewayScanner(opts),
		NewLoadBalancerScanner(opts),
		NewRDSInstanceScanner(opts),
		NewDynamoDBTableScanner(opts),
		NewRedshiftClusterScanner(opts),
		NewMemoryDBClusterScanner(opts),
		NewS3BucketScanner(opts),
		NewLambdaFunctionScanner(opts),
		NewECSClusterScanner(opts),
		NewECRRepositoryScanner(opts),
		NewEKSClusterScanner(opts),
		NewIAMRoleScanner(opts),
		NewIAMUserScanner(opts),
		NewRoute53Scanner(opts),
		NewSQSQueueScanner(opts),
		NewLogGroupScanner(opts),
		NewCloudTrailScanner(opts),
		NewKMSKeyScanner(opts),
		NewAutoScalingGroupScanner(opts),
	}
	for _, s := range scanners {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
