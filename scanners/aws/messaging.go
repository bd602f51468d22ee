package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// SQSAPI lists queues and reads their attributes.
type SQSAPI interface {
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueueScanner flags empty queues that received no messages over the
// threshold window.
type SQSQueueScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) SQSAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewSQSQueueScanner(opts Options) *SQSQueueScanner {
	return &SQSQueueScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.sqs"),
		newClient: func(cfg aws.Config) SQSAPI {
			return sqs.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *SQSQueueScanner) Alias() string         { return "sqs" }
func (s *SQSQueueScanner) Label() string         { return "SQS Queues" }
func (s *SQSQueueScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *SQSQueueScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	end := time.Now()
	start := end.Add(-s.opts.threshold())

	var findings []types.Finding
	paginator := sqs.NewListQueuesPaginator(client, &sqs.ListQueuesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list SQS queues: %w", err)
		}
		for _, queueURL := range page.QueueUrls {
			attrs, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl: aws.String(queueURL),
				AttributeNames: []sqstypes.QueueAttributeName{
					sqstypes.QueueAttributeNameApproximateNumberOfMessages,
					sqstypes.QueueAttributeNameQueueArn,
				},
			})
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("queue", queueURL).Msg("failed to read queue attributes")
				continue
			}
			if attrs.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)] != "0" {
				continue
			}

			queueName := queueNameFromURL(queueURL)
			sent, err := metricSum(ctx, metrics, metricQuery{
				Namespace:  "AWS/SQS",
				MetricName: "NumberOfMessagesSent",
				Dimension:  "QueueName",
				Value:      queueName,
				Stat:       "Sum",
			}, start, end)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("queue", queueName).Msg("failed to fetch queue metrics")
				continue
			}
			if sent > 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)],
				Name:         queueName,
				ResourceType: s.Label(),
				Reason: fmt.Sprintf("Queue is empty and received no messages during the threshold period of %d days.",
					s.opts.DaysThreshold),
				AccountID: sess.AccountID(),
				Region:    sess.Region(),
				Details:   map[string]string{"queue_url": queueURL},
			})
		}
	}
	return findings, nil
}

func queueNameFromURL(queueURL string) string {
	for i := len(queueURL) - 1; i >= 0; i-- {
		if queueURL[i] == '/' {
			return queueURL[i+1:]
		}
	}
	return queueURL
}
