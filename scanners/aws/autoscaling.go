package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// AutoScalingAPI lists auto scaling groups.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

// AutoScalingGroupScanner flags groups scaled to zero past the threshold;
// the group itself is free but usually marks an abandoned deployment.
type AutoScalingGroupScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) AutoScalingAPI
}

func NewAutoScalingGroupScanner(opts Options) *AutoScalingGroupScanner {
	return &AutoScalingGroupScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.asg"),
		newClient: func(cfg aws.Config) AutoScalingAPI {
			return autoscaling.NewFromConfig(cfg)
		},
	}
}

func (s *AutoScalingGroupScanner) Alias() string         { return "autoscaling-groups" }
func (s *AutoScalingGroupScanner) Label() string         { return "Auto Scaling Groups" }
func (s *AutoScalingGroupScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *AutoScalingGroupScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(client, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list auto scaling groups: %w", err)
		}
		for _, group := range page.AutoScalingGroups {
			if aws.ToInt32(group.DesiredCapacity) > 0 || len(group.Instances) > 0 {
				continue
			}
			created := aws.ToTime(group.CreatedTime)
			if ageDays(created) < s.opts.DaysThreshold {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(group.AutoScalingGroupARN),
				Name:         aws.ToString(group.AutoScalingGroupName),
				ResourceType: s.Label(),
				Reason:       fmt.Sprintf("Scaled to zero with no instances for at least %d days.", s.opts.DaysThreshold),
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"min_size":   strconv.Itoa(int(aws.ToInt32(group.MinSize))),
					"max_size":   strconv.Itoa(int(aws.ToInt32(group.MaxSize))),
					"created_at": created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}
