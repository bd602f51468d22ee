package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// RDSAPI lists RDS instances.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// RDSInstanceScanner flags database instances with no connections, near
// zero CPU, or no I/O over the threshold window.
type RDSInstanceScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) RDSAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewRDSInstanceScanner(opts Options) *RDSInstanceScanner {
	return &RDSInstanceScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.rds"),
		newClient: func(cfg aws.Config) RDSAPI {
			return rds.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *RDSInstanceScanner) Alias() string         { return "rds" }
func (s *RDSInstanceScanner) Label() string         { return "RDS Instances" }
func (s *RDSInstanceScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *RDSInstanceScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	var findings []types.Finding
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list RDS instances: %w", err)
		}
		for _, instance := range page.DBInstances {
			instanceID := aws.ToString(instance.DBInstanceIdentifier)
			created := aws.ToTime(instance.InstanceCreateTime)

			end := time.Now()
			start := end.Add(-s.opts.threshold())
			if created.After(start) {
				start = created
			}

			connections, err := metricSum(ctx, metrics, metricQuery{
				Namespace:  "AWS/RDS",
				MetricName: "DatabaseConnections",
				Dimension:  "DBInstanceIdentifier",
				Value:      instanceID,
				Stat:       "Sum",
			}, start, end)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("db_instance", instanceID).Msg("failed to fetch connection metrics")
				continue
			}

			cpu, err := metricAverage(ctx, metrics, metricQuery{
				Namespace:  "AWS/RDS",
				MetricName: "CPUUtilization",
				Dimension:  "DBInstanceIdentifier",
				Value:      instanceID,
				Stat:       "Average",
			}, start, end)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("db_instance", instanceID).Msg("failed to fetch CPU metrics")
				continue
			}

			reason := ""
			switch {
			case connections == 0:
				reason = "No active connections."
			case cpu < lowCPUPercent:
				reason = fmt.Sprintf("Low CPU utilization (%.2f%%).", cpu)
			default:
				continue
			}

			instanceClass := aws.ToString(instance.DBInstanceClass)
			findings = append(findings, types.Finding{
				ResourceID:   instanceID,
				Name:         instanceID,
				ResourceType: s.Label(),
				Reason:       reason,
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Cost:         s.opts.estimate(ctx, s.logger, "RDS", instanceClass, hoursSince(created)),
				Details: map[string]string{
					"engine":         aws.ToString(instance.Engine),
					"instance_class": instanceClass,
					"create_time":    created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}

// DynamoDBAPI lists and describes tables.
type DynamoDBAPI interface {
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBTableScanner flags tables with no consumed read or write
// capacity over the threshold window.
type DynamoDBTableScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) DynamoDBAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewDynamoDBTableScanner(opts Options) *DynamoDBTableScanner {
	return &DynamoDBTableScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.dynamodb"),
		newClient: func(cfg aws.Config) DynamoDBAPI {
			return dynamodb.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *DynamoDBTableScanner) Alias() string         { return "dynamodb" }
func (s *DynamoDBTableScanner) Label() string         { return "DynamoDB Tables" }
func (s *DynamoDBTableScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *DynamoDBTableScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	var findings []types.Finding
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list DynamoDB tables: %w", err)
		}
		for _, tableName := range page.TableNames {
			described, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
				TableName: aws.String(tableName),
			})
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("table", tableName).Msg("failed to describe table")
				continue
			}
			created := aws.ToTime(described.Table.CreationDateTime)

			end := time.Now()
			start := end.Add(-s.opts.threshold())
			if created.After(start) {
				start = created
			}

			reads, err := metricSum(ctx, metrics, metricQuery{
				Namespace:  "AWS/DynamoDB",
				MetricName: "ConsumedReadCapacityUnits",
				Dimension:  "TableName",
				Value:      tableName,
				Stat:       "Sum",
			}, start, end)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("table", tableName).Msg("failed to fetch read metrics")
				continue
			}
			writes, err := metricSum(ctx, metrics, metricQuery{
				Namespace:  "AWS/DynamoDB",
				MetricName: "ConsumedWriteCapacityUnits",
				Dimension:  "TableName",
				Value:      tableName,
				Stat:       "Sum",
			}, start, end)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("table", tableName).Msg("failed to fetch write metrics")
				continue
			}
			if reads > 0 || writes > 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   tableName,
				Name:         tableName,
				ResourceType: s.Label(),
				Reason:       "No read or write activity.",
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Cost:         s.opts.estimate(ctx, s.logger, "DynamoDB", "", hoursSince(created)),
				Details: map[string]string{
					"item_count":  strconv.FormatInt(aws.ToInt64(described.Table.ItemCount), 10),
					"size_bytes":  strconv.FormatInt(aws.ToInt64(described.Table.TableSizeBytes), 10),
					"create_time": created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}

// RedshiftAPI lists Redshift clusters.
type RedshiftAPI interface {
	DescribeClusters(ctx context.Context, params *redshift.DescribeClustersInput, optFns ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error)
}

// RedshiftClusterScanner flags paused clusters and available clusters
// with no connections over the threshold window.
type RedshiftClusterScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) RedshiftAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewRedshiftClusterScanner(opts Options) *RedshiftClusterScanner {
	return &RedshiftClusterScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.redshift"),
		newClient: func(cfg aws.Config) RedshiftAPI {
			return redshift.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *RedshiftClusterScanner) Alias() string         { return "redshift" }
func (s *RedshiftClusterScanner) Label() string         { return "Redshift Clusters" }
func (s *RedshiftClusterScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *RedshiftClusterScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	var findings []types.Finding
	paginator := redshift.NewDescribeClustersPaginator(client, &redshift.DescribeClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Redshift clusters: %w", err)
		}
		for _, cluster := range page.Clusters {
			clusterID := aws.ToString(cluster.ClusterIdentifier)
			status := aws.ToString(cluster.ClusterStatus)

			reason := ""
			if status == "paused" {
				reason = "Cluster is paused."
			} else {
				end := time.Now()
				start := end.Add(-s.opts.threshold())
				connections, err := metricSum(ctx, metrics, metricQuery{
					Namespace:  "AWS/Redshift",
					MetricName: "DatabaseConnections",
					Dimension:  "ClusterIdentifier",
					Value:      clusterID,
					Stat:       "Sum",
				}, start, end)
				if err != nil {
					s.logger.WithContext(ctx).Error().Err(err).Str("cluster", clusterID).Msg("failed to fetch connection metrics")
					continue
				}
				if connections > 0 {
					continue
				}
				reason = fmt.Sprintf("No database connections during the threshold period of %d days.", s.opts.DaysThreshold)
			}

			findings = append(findings, types.Finding{
				ResourceID:   clusterID,
				Name:         clusterID,
				ResourceType: s.Label(),
				Reason:       reason,
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"status":    status,
					"node_type": aws.ToString(cluster.NodeType),
					"nodes":     strconv.Itoa(int(aws.ToInt32(cluster.NumberOfNodes))),
				},
			})
		}
	}
	return findings, nil
}

// MemoryDBAPI lists MemoryDB clusters.
type MemoryDBAPI interface {
	DescribeClusters(ctx context.Context, params *memorydb.DescribeClustersInput, optFns ...func(*memorydb.Options)) (*memorydb.DescribeClustersOutput, error)
}

// MemoryDBClusterScanner flags clusters with no network traffic over the
// threshold window.
type MemoryDBClusterScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) MemoryDBAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewMemoryDBClusterScanner(opts Options) *MemoryDBClusterScanner {
	return &MemoryDBClusterScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.memorydb"),
		newClient: func(cfg aws.Config) MemoryDBAPI {
			return memorydb.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *MemoryDBClusterScanner) Alias() string         { return "memorydb" }
func (s *MemoryDBClusterScanner) Label() string         { return "MemoryDB Clusters" }
func (s *MemoryDBClusterScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *MemoryDBClusterScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	out, err := client.DescribeClusters(ctx, &memorydb.DescribeClustersInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list MemoryDB clusters: %w", err)
	}

	end := time.Now()
	start := end.Add(-s.opts.threshold())

	var findings []types.Finding
	for _, cluster := range out.Clusters {
		clusterName := aws.ToString(cluster.Name)

		connections, err := metricSum(ctx, metrics, metricQuery{
			Namespace:  "AWS/MemoryDB",
			MetricName: "CurrConnections",
			Dimension:  "ClusterName",
			Value:      clusterName,
			Stat:       "Sum",
		}, start, end)
		if err != nil {
			s.logger.WithContext(ctx).Error().Err(err).Str("cluster", clusterName).Msg("failed to fetch connection metrics")
			continue
		}
		if connections > 0 {
			continue
		}

		findings = append(findings, types.Finding{
			ResourceID:   aws.ToString(cluster.ARN),
			Name:         clusterName,
			ResourceType: s.Label(),
			Reason:       fmt.Sprintf("No client connections during the threshold period of %d days.", s.opts.DaysThreshold),
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Details: map[string]string{
				"status":    aws.ToString(cluster.Status),
				"node_type": aws.ToString(cluster.NodeType),
			},
		})
	}
	return findings, nil
}
