package aws

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

const lowTrafficDeviation = 0.1

// LoadBalancersAPI lists v2 load balancers.
type LoadBalancersAPI interface {
	DescribeLoadBalancers(ctx context.Context, params *elbv2.DescribeLoadBalancersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
}

// LoadBalancerScanner flags load balancers whose traffic over the
// threshold window is zero or flat enough to suggest nobody uses them.
type LoadBalancerScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) LoadBalancersAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewLoadBalancerScanner(opts Options) *LoadBalancerScanner {
	return &LoadBalancerScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.elb"),
		newClient: func(cfg aws.Config) LoadBalancersAPI {
			return elbv2.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *LoadBalancerScanner) Alias() string         { return "load-balancers" }
func (s *LoadBalancerScanner) Label() string         { return "Elastic Load Balancers" }
func (s *LoadBalancerScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *LoadBalancerScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	var findings []types.Finding
	paginator := elbv2.NewDescribeLoadBalancersPaginator(client, &elbv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list load balancers: %w", err)
		}
		for _, lb := range page.LoadBalancers {
			arn := aws.ToString(lb.LoadBalancerArn)
			name := aws.ToString(lb.LoadBalancerName)

			requests, processed, deviation, err := s.trafficProfile(ctx, metrics, arn)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("load_balancer", name).Msg("failed to fetch traffic metrics")
				continue
			}

			reason := ""
			switch {
			case requests == 0 && processed == 0:
				reason = fmt.Sprintf("No traffic recorded during the threshold period of %d days.", s.opts.DaysThreshold)
			case deviation < lowTrafficDeviation:
				reason = "Low traffic variation (low deviation)."
			default:
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   arn,
				Name:         name,
				ResourceType: s.Label(),
				Reason:       reason,
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Cost:         s.opts.estimate(ctx, s.logger, "LoadBalancer", "", 0),
				Details: map[string]string{
					"type":           string(lb.Type),
					"total_requests": fmt.Sprintf("%.0f", requests),
					"total_bytes":    fmt.Sprintf("%.0f", processed),
				},
			})
		}
	}
	return findings, nil
}

func (s *LoadBalancerScanner) trafficProfile(ctx context.Context, metrics CloudWatchAPI, arn string) (requests, processed, deviation float64, err error) {
	end := time.Now()
	start := end.Add(-s.opts.threshold())
	dimension := metricDimensionFromARN(arn)

	requestValues, err := metricValues(ctx, metrics, metricQuery{
		Namespace:  "AWS/ApplicationELB",
		MetricName: "RequestCount",
		Dimension:  "LoadBalancer",
		Value:      dimension,
		Stat:       "Sum",
	}, start, end)
	if err != nil {
		return 0, 0, 0, err
	}

	processed, err = metricSum(ctx, metrics, metricQuery{
		Namespace:  "AWS/ApplicationELB",
		MetricName: "ProcessedBytes",
		Dimension:  "LoadBalancer",
		Value:      dimension,
		Stat:       "Sum",
	}, start, end)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, v := range requestValues {
		requests += v
	}
	return requests, processed, stddev(requestValues), nil
}

// metricDimensionFromARN turns a load balancer ARN into the
// "app/name/id" form CloudWatch dimensions want.
func metricDimensionFromARN(arn string) string {
	if i := strings.Index(arn, ":loadbalancer/"); i >= 0 {
		return arn[i+len(":loadbalancer/"):]
	}
	return arn
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
