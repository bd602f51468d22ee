package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// ECSAPI lists and describes ECS clusters.
type ECSAPI interface {
	ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
}

// ECSClusterScanner flags active clusters running no tasks and no
// services.
type ECSClusterScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) ECSAPI
}

func NewECSClusterScanner(opts Options) *ECSClusterScanner {
	return &ECSClusterScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.ecs"),
		newClient: func(cfg aws.Config) ECSAPI {
			return ecs.NewFromConfig(cfg)
		},
	}
}

func (s *ECSClusterScanner) Alias() string         { return "ecs" }
func (s *ECSClusterScanner) Label() string         { return "ECS Clusters" }
func (s *ECSClusterScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *ECSClusterScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var arns []string
	paginator := ecs.NewListClustersPaginator(client, &ecs.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list ECS clusters: %w", err)
		}
		arns = append(arns, page.ClusterArns...)
	}
	if len(arns) == 0 {
		return nil, nil
	}

	described, err := client.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: arns})
	if err != nil {
		return nil, fmt.Errorf("failed to describe ECS clusters: %w", err)
	}

	var findings []types.Finding
	for _, cluster := range described.Clusters {
		if aws.ToString(cluster.Status) != "ACTIVE" {
			continue
		}
		if cluster.RunningTasksCount > 0 || cluster.ActiveServicesCount > 0 {
			continue
		}

		findings = append(findings, types.Finding{
			ResourceID:   aws.ToString(cluster.ClusterArn),
			Name:         aws.ToString(cluster.ClusterName),
			ResourceType: s.Label(),
			Reason:       "No running tasks or active services.",
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Details: map[string]string{
				"registered_instances": strconv.Itoa(int(cluster.RegisteredContainerInstancesCount)),
			},
		})
	}
	return findings, nil
}

// ECRAPI lists repositories and their images.
type ECRAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	ListImages(ctx context.Context, params *ecr.ListImagesInput, optFns ...func(*ecr.Options)) (*ecr.ListImagesOutput, error)
}

// ECRRepositoryScanner flags repositories older than the threshold that
// hold no images.
type ECRRepositoryScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) ECRAPI
}

func NewECRRepositoryScanner(opts Options) *ECRRepositoryScanner {
	return &ECRRepositoryScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.ecr"),
		newClient: func(cfg aws.Config) ECRAPI {
			return ecr.NewFromConfig(cfg)
		},
	}
}

func (s *ECRRepositoryScanner) Alias() string         { return "ecr" }
func (s *ECRRepositoryScanner) Label() string         { return "ECR Repositories" }
func (s *ECRRepositoryScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *ECRRepositoryScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := ecr.NewDescribeRepositoriesPaginator(client, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list ECR repositories: %w", err)
		}
		for _, repo := range page.Repositories {
			created := aws.ToTime(repo.CreatedAt)
			if ageDays(created) < s.opts.DaysThreshold {
				continue
			}
			repoName := aws.ToString(repo.RepositoryName)

			images, err := client.ListImages(ctx, &ecr.ListImagesInput{
				RepositoryName: repo.RepositoryName,
			})
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("repository", repoName).Msg("failed to list images")
				continue
			}
			if len(images.ImageIds) > 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(repo.RepositoryArn),
				Name:         repoName,
				ResourceType: s.Label(),
				Reason:       fmt.Sprintf("Repository is empty and %d days old.", ageDays(created)),
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"created_at": created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}

// EKSAPI lists clusters and their nodegroups.
type EKSAPI interface {
	ListClusters(ctx context.Context, params *eks.ListClustersInput, optFns ...func(*eks.Options)) (*eks.ListClustersOutput, error)
	ListNodegroups(ctx context.Context, params *eks.ListNodegroupsInput, optFns ...func(*eks.Options)) (*eks.ListNodegroupsOutput, error)
}

// EKSClusterScanner flags clusters with no nodegroups; the control plane
// bills hourly whether or not anything runs on it.
type EKSClusterScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) EKSAPI
}

func NewEKSClusterScanner(opts Options) *EKSClusterScanner {
	return &EKSClusterScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.eks"),
		newClient: func(cfg aws.Config) EKSAPI {
			return eks.NewFromConfig(cfg)
		},
	}
}

func (s *EKSClusterScanner) Alias() string         { return "eks" }
func (s *EKSClusterScanner) Label() string         { return "EKS Clusters" }
func (s *EKSClusterScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *EKSClusterScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := eks.NewListClustersPaginator(client, &eks.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list EKS clusters: %w", err)
		}
		for _, clusterName := range page.Clusters {
			nodegroups, err := client.ListNodegroups(ctx, &eks.ListNodegroupsInput{
				ClusterName: aws.String(clusterName),
			})
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("cluster", clusterName).Msg("failed to list nodegroups")
				continue
			}
			if len(nodegroups.Nodegroups) > 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   clusterName,
				Name:         clusterName,
				ResourceType: s.Label(),
				Reason:       "Cluster has no nodegroups; control plane is billed while idle.",
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
			})
		}
	}
	return findings, nil
}
