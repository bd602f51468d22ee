package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// LogGroupsAPI lists CloudWatch log groups.
type LogGroupsAPI interface {
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// LogGroupScanner flags log groups past the threshold that store nothing,
// and groups with no retention policy accumulating data forever.
type LogGroupScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) LogGroupsAPI
}

func NewLogGroupScanner(opts Options) *LogGroupScanner {
	return &LogGroupScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.logs"),
		newClient: func(cfg aws.Config) LogGroupsAPI {
			return cloudwatchlogs.NewFromConfig(cfg)
		},
	}
}

func (s *LogGroupScanner) Alias() string         { return "log-groups" }
func (s *LogGroupScanner) Label() string         { return "CloudWatch Log Groups" }
func (s *LogGroupScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *LogGroupScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(client, &cloudwatchlogs.DescribeLogGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list log groups: %w", err)
		}
		for _, group := range page.LogGroups {
			created := time.UnixMilli(aws.ToInt64(group.CreationTime))
			if ageDays(created) < s.opts.DaysThreshold {
				continue
			}

			storedBytes := aws.ToInt64(group.StoredBytes)
			reason := ""
			switch {
			case storedBytes == 0:
				reason = fmt.Sprintf("Log group is empty and %d days old.", ageDays(created))
			case group.RetentionInDays == nil:
				reason = "No retention policy; log data accumulates indefinitely."
			default:
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(group.LogGroupName),
				Name:         aws.ToString(group.LogGroupName),
				ResourceType: s.Label(),
				Reason:       reason,
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"stored_bytes": strconv.FormatInt(storedBytes, 10),
					"created_at":   created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}

// CloudTrailAPI lists trails and reads their logging status.
type CloudTrailAPI interface {
	DescribeTrails(ctx context.Context, params *cloudtrail.DescribeTrailsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
	GetTrailStatus(ctx context.Context, params *cloudtrail.GetTrailStatusInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.GetTrailStatusOutput, error)
}

// CloudTrailScanner flags trails that exist but are not logging; they
// still bill for their S3 storage while recording nothing.
type CloudTrailScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) CloudTrailAPI
}

func NewCloudTrailScanner(opts Options) *CloudTrailScanner {
	return &CloudTrailScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.cloudtrail"),
		newClient: func(cfg aws.Config) CloudTrailAPI {
			return cloudtrail.NewFromConfig(cfg)
		},
	}
}

func (s *CloudTrailScanner) Alias() string         { return "cloudtrail" }
func (s *CloudTrailScanner) Label() string         { return "CloudTrail Trails" }
func (s *CloudTrailScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *CloudTrailScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	trails, err := client.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list CloudTrail trails: %w", err)
	}

	var findings []types.Finding
	for _, trail := range trails.TrailList {
		// Shadow trails from other home regions show up in every region;
		// only report each trail where it lives.
		if aws.ToString(trail.HomeRegion) != sess.Region() {
			continue
		}
		trailARN := aws.ToString(trail.TrailARN)

		status, err := client.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{
			Name: aws.String(trailARN),
		})
		if err != nil {
			s.logger.WithContext(ctx).Error().Err(err).Str("trail", trailARN).Msg("failed to read trail status")
			continue
		}
		if aws.ToBool(status.IsLogging) {
			continue
		}

		findings = append(findings, types.Finding{
			ResourceID:   trailARN,
			Name:         aws.ToString(trail.Name),
			ResourceType: s.Label(),
			Reason:       "Trail exists but logging is disabled.",
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Details: map[string]string{
				"s3_bucket": aws.ToString(trail.S3BucketName),
			},
		})
	}
	return findings, nil
}
