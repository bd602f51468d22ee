package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// S3API is the bucket surface the S3 scanner needs.
type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3BucketScanner flags buckets in the session's region that are empty or
// whose object count has not moved over the threshold window. Bucket
// listing is account-wide, so each regional run keeps only its own
// buckets.
type S3BucketScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) S3API
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewS3BucketScanner(opts Options) *S3BucketScanner {
	return &S3BucketScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.s3"),
		newClient: func(cfg aws.Config) S3API {
			return s3.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *S3BucketScanner) Alias() string         { return "s3" }
func (s *S3BucketScanner) Label() string         { return "S3 Buckets" }
func (s *S3BucketScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *S3BucketScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	buckets, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 buckets: %w", err)
	}

	var findings []types.Finding
	for _, bucket := range buckets.Buckets {
		bucketName := aws.ToString(bucket.Name)

		location, err := client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
			Bucket: aws.String(bucketName),
		})
		if err != nil {
			s.logger.WithContext(ctx).Error().Err(err).Str("bucket", bucketName).Msg("failed to resolve bucket region")
			continue
		}
		if bucketRegion(string(location.LocationConstraint)) != sess.Region() {
			continue
		}

		objects, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if err != nil {
			s.logger.WithContext(ctx).Error().Err(err).Str("bucket", bucketName).Msg("failed to count objects")
			continue
		}
		objectCount := int(aws.ToInt32(objects.KeyCount))

		var reasons []string
		if objectCount == 0 {
			reasons = append(reasons, "No objects in bucket.")
		}
		if s.objectCountUnchanged(ctx, metrics, bucketName, objectCount) {
			reasons = append(reasons,
				fmt.Sprintf("No change in object count over the %d day threshold period.", s.opts.DaysThreshold))
		}
		if len(reasons) == 0 {
			continue
		}

		findings = append(findings, types.Finding{
			ResourceID:   "arn:aws:s3:::" + bucketName,
			Name:         bucketName,
			ResourceType: s.Label(),
			Reason:       strings.Join(reasons, "\n"),
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Details: map[string]string{
				"object_count": fmt.Sprintf("%d", objectCount),
			},
		})
	}
	return findings, nil
}

func (s *S3BucketScanner) objectCountUnchanged(ctx context.Context, metrics CloudWatchAPI, bucketName string, currentCount int) bool {
	end := time.Now()
	start := end.Add(-s.opts.threshold())

	values, err := metricValues(ctx, metrics, metricQuery{
		Namespace:  "AWS/S3",
		MetricName: "NumberOfObjects",
		Dimension:  "BucketName",
		Value:      bucketName,
		Stat:       "Average",
		Period:     86400,
	}, start, end)
	if err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Str("bucket", bucketName).Msg("failed to fetch historical object count")
		return false
	}
	if len(values) == 0 {
		return currentCount == 0
	}
	return int(values[0]) == currentCount
}

// bucketRegion normalizes GetBucketLocation output; classic buckets report
// an empty constraint but live in us-east-1.
func bucketRegion(constraint string) string {
	if constraint == "" {
		return "us-east-1"
	}
	return constraint
}
