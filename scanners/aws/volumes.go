package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// EBSVolumesAPI lists volumes for the volume scanner.
type EBSVolumesAPI interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
}

// EBSVolumeScanner flags volumes that have sat unattached past the
// threshold.
type EBSVolumeScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) EBSVolumesAPI
}

func NewEBSVolumeScanner(opts Options) *EBSVolumeScanner {
	return &EBSVolumeScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.ebs"),
		newClient: func(cfg aws.Config) EBSVolumesAPI {
			return ec2.NewFromConfig(cfg)
		},
	}
}

func (s *EBSVolumeScanner) Alias() string         { return "ebs-volumes" }
func (s *EBSVolumeScanner) Label() string         { return "EBS Volumes" }
func (s *EBSVolumeScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *EBSVolumeScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list EBS volumes: %w", err)
		}
		for _, volume := range page.Volumes {
			if len(volume.Attachments) > 0 {
				continue
			}
			created := aws.ToTime(volume.CreateTime)
			days := ageDays(created)
			if days < s.opts.DaysThreshold {
				continue
			}

			sizeGiB := aws.ToInt32(volume.Size)
			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(volume.VolumeId),
				Name:         ec2TagValue(volume.Tags, "Name"),
				ResourceType: s.Label(),
				Reason: fmt.Sprintf("Volume has been unattached for %d days, exceeding the threshold of %d days",
					days, s.opts.DaysThreshold),
				AccountID: sess.AccountID(),
				Region:    sess.Region(),
				Cost:      s.opts.estimate(ctx, s.logger, "EBS", strconv.Itoa(int(sizeGiB)), hoursSince(created)),
				Details: map[string]string{
					"state":       string(volume.State),
					"size_gib":    strconv.Itoa(int(sizeGiB)),
					"create_time": created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}

// EBSSnapshotsAPI lists snapshots for the snapshot scanner.
type EBSSnapshotsAPI interface {
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
}

// EBSSnapshotScanner flags self-owned snapshots older than the threshold.
type EBSSnapshotScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) EBSSnapshotsAPI
}

func NewEBSSnapshotScanner(opts Options) *EBSSnapshotScanner {
	return &EBSSnapshotScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.snapshots"),
		newClient: func(cfg aws.Config) EBSSnapshotsAPI {
			return ec2.NewFromConfig(cfg)
		},
	}
}

func (s *EBSSnapshotScanner) Alias() string         { return "ebs-snapshots" }
func (s *EBSSnapshotScanner) Label() string         { return "EBS Snapshots" }
func (s *EBSSnapshotScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *EBSSnapshotScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := ec2.NewDescribeSnapshotsPaginator(client, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list EBS snapshots: %w", err)
		}
		for _, snapshot := range page.Snapshots {
			started := aws.ToTime(snapshot.StartTime)
			days := ageDays(started)
			if days < s.opts.DaysThreshold {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(snapshot.SnapshotId),
				Name:         ec2TagValue(snapshot.Tags, "Name"),
				ResourceType: s.Label(),
				Reason:       fmt.Sprintf("Snapshot is %d days old, exceeding the threshold of %d days", days, s.opts.DaysThreshold),
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Cost:         s.opts.estimate(ctx, s.logger, "EBS-Snapshots", "", hoursSince(started)),
				Details: map[string]string{
					"volume_id":  aws.ToString(snapshot.VolumeId),
					"size_gib":   strconv.Itoa(int(aws.ToInt32(snapshot.VolumeSize))),
					"start_time": started.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}
