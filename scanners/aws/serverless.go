package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// LambdaAPI lists Lambda functions.
type LambdaAPI interface {
	ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
}

// LambdaFunctionScanner flags functions with zero invocations over the
// threshold window.
type LambdaFunctionScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) LambdaAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewLambdaFunctionScanner(opts Options) *LambdaFunctionScanner {
	return &LambdaFunctionScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.lambda"),
		newClient: func(cfg aws.Config) LambdaAPI {
			return lambda.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *LambdaFunctionScanner) Alias() string         { return "lambda" }
func (s *LambdaFunctionScanner) Label() string         { return "Lambda Functions" }
func (s *LambdaFunctionScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *LambdaFunctionScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	end := time.Now()
	start := end.Add(-s.opts.threshold())

	var findings []types.Finding
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Lambda functions: %w", err)
		}
		for _, function := range page.Functions {
			functionName := aws.ToString(function.FunctionName)

			invocations, err := metricSum(ctx, metrics, metricQuery{
				Namespace:  "AWS/Lambda",
				MetricName: "Invocations",
				Dimension:  "FunctionName",
				Value:      functionName,
				Stat:       "Sum",
			}, start, end)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("function", functionName).Msg("failed to fetch invocation metrics")
				continue
			}
			if invocations > 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(function.FunctionArn),
				Name:         functionName,
				ResourceType: s.Label(),
				Reason:       fmt.Sprintf("No invocations during the threshold period of %d days.", s.opts.DaysThreshold),
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"runtime":       string(function.Runtime),
					"last_modified": aws.ToString(function.LastModified),
				},
			})
		}
	}
	return findings, nil
}
