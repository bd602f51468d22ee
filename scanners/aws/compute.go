package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

const (
	lowCPUPercent     = 1.0
	lowNetworkPackets = 1.0
)

// EC2InstancesAPI is the instance surface the EC2 scanner needs.
type EC2InstancesAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2InstanceScanner flags stopped instances past the age threshold and
// running instances with no meaningful CPU or network activity.
type EC2InstanceScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newEC2        func(aws.Config) EC2InstancesAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewEC2InstanceScanner(opts Options) *EC2InstanceScanner {
	return &EC2InstanceScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.ec2"),
		newEC2: func(cfg aws.Config) EC2InstancesAPI {
			return ec2.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *EC2InstanceScanner) Alias() string         { return "ec2" }
func (s *EC2InstanceScanner) Label() string         { return "EC2 Instances" }
func (s *EC2InstanceScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *EC2InstanceScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newEC2(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	var findings []types.Finding
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list EC2 instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				if finding := s.checkInstance(ctx, metrics, sess, instance); finding != nil {
					findings = append(findings, *finding)
				}
			}
		}
	}
	return findings, nil
}

func (s *EC2InstanceScanner) checkInstance(ctx context.Context, metrics CloudWatchAPI, sess session.Context, instance ec2types.Instance) *types.Finding {
	if instance.State == nil {
		return nil
	}

	switch instance.State.Name {
	case ec2types.InstanceStateNameStopped:
		return s.checkStopped(ctx, sess, instance)
	case ec2types.InstanceStateNameRunning:
		return s.checkRunning(ctx, metrics, sess, instance)
	}
	return nil
}

func (s *EC2InstanceScanner) checkStopped(ctx context.Context, sess session.Context, instance ec2types.Instance) *types.Finding {
	stoppedDays, ok := stoppedDuration(aws.ToString(instance.StateTransitionReason))
	if !ok {
		// No parsable stop timestamp; treat as over threshold, matching
		// how long-stopped instances lose the timestamp entirely.
		stoppedDays = s.opts.DaysThreshold + 1
	}
	if stoppedDays < s.opts.DaysThreshold {
		return nil
	}

	instanceType := string(instance.InstanceType)
	return &types.Finding{
		ResourceID:   aws.ToString(instance.InstanceId),
		Name:         ec2TagValue(instance.Tags, "Name"),
		ResourceType: s.Label(),
		Reason:       fmt.Sprintf("Stopped for %d days", stoppedDays),
		AccountID:    sess.AccountID(),
		Region:       sess.Region(),
		Cost:         s.opts.estimate(ctx, s.logger, "EC2", instanceType, float64(stoppedDays)*24),
		Details: map[string]string{
			"state":         string(instance.State.Name),
			"instance_type": instanceType,
		},
	}
}

func (s *EC2InstanceScanner) checkRunning(ctx context.Context, metrics CloudWatchAPI, sess session.Context, instance ec2types.Instance) *types.Finding {
	end := time.Now()
	start := end.Add(-s.opts.threshold())
	if launch := aws.ToTime(instance.LaunchTime); launch.After(start) {
		start = launch
	}
	instanceID := aws.ToString(instance.InstanceId)

	cpu, err := metricAverage(ctx, metrics, metricQuery{
		Namespace:  "AWS/EC2",
		MetricName: "CPUUtilization",
		Dimension:  "InstanceId",
		Value:      instanceID,
		Stat:       "Average",
	}, start, end)
	if err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Str("instance_id", instanceID).Msg("failed to fetch CPU metrics")
		return nil
	}

	packets, err := metricSum(ctx, metrics, metricQuery{
		Namespace:  "AWS/EC2",
		MetricName: "NetworkPacketsIn",
		Dimension:  "InstanceId",
		Value:      instanceID,
		Stat:       "Sum",
	}, start, end)
	if err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Str("instance_id", instanceID).Msg("failed to fetch network metrics")
		return nil
	}

	var reasons []string
	if cpu < lowCPUPercent {
		reasons = append(reasons, fmt.Sprintf("Low CPU utilization (%.2f%%)", cpu))
	}
	if packets < lowNetworkPackets {
		reasons = append(reasons, "Low network traffic")
	}
	if len(reasons) == 0 {
		return nil
	}

	return &types.Finding{
		ResourceID:   instanceID,
		Name:         ec2TagValue(instance.Tags, "Name"),
		ResourceType: s.Label(),
		Reason:       strings.Join(reasons, ", "),
		AccountID:    sess.AccountID(),
		Region:       sess.Region(),
		Details: map[string]string{
			"state":         string(instance.State.Name),
			"instance_type": string(instance.InstanceType),
			"launch_time":   aws.ToTime(instance.LaunchTime).Format(time.RFC3339),
		},
	}
}

// stoppedDuration extracts days stopped from a StateTransitionReason like
// "User initiated (2026-08-01 14:00:00 GMT)".
func stoppedDuration(reason string) (int, bool) {
	open := strings.LastIndex(reason, "(")
	end := strings.LastIndex(reason, ")")
	if open < 0 || end < open {
		return 0, false
	}
	stamp := reason[open+1 : end]
	stoppedAt, err := time.Parse("2006-01-02 15:04:05 MST", stamp)
	if err != nil {
		return 0, false
	}
	return ageDays(stoppedAt), true
}

// ec2TagValue finds one tag's value, empty when absent.
func ec2TagValue(tags []ec2types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}
