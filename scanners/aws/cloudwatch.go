package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the metrics surface scanners query for usage signals.
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// metricQuery describes one CloudWatch metric to fetch over a window.
type metricQuery struct {
	Namespace  string
	MetricName string
	Dimension  string
	Value      string
	Stat       string
	Period     int32
}

// metricValues fetches one metric's datapoints between start and end.
func metricValues(ctx context.Context, client CloudWatchAPI, q metricQuery, start, end time.Time) ([]float64, error) {
	period := q.Period
	if period == 0 {
		period = 3600
	}

	out, err := client.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
		MetricDataQueries: []cwtypes.MetricDataQuery{{
			Id: aws.String("q0"),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String(q.Namespace),
					MetricName: aws.String(q.MetricName),
					Dimensions: []cwtypes.Dimension{{
						Name:  aws.String(q.Dimension),
						Value: aws.String(q.Value),
					}},
				},
				Period: aws.Int32(period),
				Stat:   aws.String(q.Stat),
			},
			ReturnData: aws.Bool(true),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", q.Namespace, q.MetricName, err)
	}
	if len(out.MetricDataResults) == 0 {
		return nil, nil
	}
	return out.MetricDataResults[0].Values, nil
}

// metricSum sums a metric over the window; missing data counts as zero.
func metricSum(ctx context.Context, client CloudWatchAPI, q metricQuery, start, end time.Time) (float64, error) {
	values, err := metricValues(ctx, client, q, start, end)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total, nil
}

// metricAverage averages a metric over the window; no datapoints yields 0.
func metricAverage(ctx context.Context, client CloudWatchAPI, q metricQuery, start, end time.Time) (float64, error) {
	values, err := metricValues(ctx, client, q, start, end)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values)), nil
}
