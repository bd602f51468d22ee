package aws

import (
	"context"
	"fmt"
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

// ElasticIPsAPI covers address listing plus the NAT gateway association
// check.
type ElasticIPsAPI interface {
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
}

// ElasticIPScanner flags allocated addresses not attached to an instance,
// ENI, or NAT gateway.
type ElasticIPScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) ElasticIPsAPI
}

func NewElasticIPScanner(opts Options) *ElasticIPScanner {
	return &ElasticIPScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.eip"),
		newClient: func(cfg aws.Config) ElasticIPsAPI {
			return ec2.NewFromConfig(cfg)
		},
	}
}

func (s *ElasticIPScanner) Alias() string         { return "elastic-ips" }
func (s *ElasticIPScanner) Label() string         { return "Elastic IPs" }
func (s *ElasticIPScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *ElasticIPScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	addresses, err := client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list Elastic IPs: %w", err)
	}

	natAllocations, err := s.natGatewayAllocations(ctx, client)
	if err != nil {
		return nil, err
	}

	var findings []types.Finding
	for _, addr := range addresses.Addresses {
		if addr.InstanceId != nil || addr.NetworkInterfaceId != nil {
			continue
		}
		allocationID := aws.ToString(addr.AllocationId)
		if natAllocations[allocationID] {
			continue
		}

		publicIP := aws.ToString(addr.PublicIp)
		findings = append(findings, types.Finding{
			ResourceID:   allocationID,
			Name:         publicIP,
			ResourceType: s.Label(),
			Reason:       "Not associated with any resource (EC2 Instance, Network Interface, or NAT Gateway).",
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Cost:         s.opts.estimate(ctx, s.logger, "EIP", "", 0),
			Details:      map[string]string{"public_ip": publicIP},
		})
	}
	return findings, nil
}

func (s *ElasticIPScanner) natGatewayAllocations(ctx context.Context, client ElasticIPsAPI) (map[string]bool, error) {
	out, err := client.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list NAT gateways: %w", err)
	}

	allocations := make(map[string]bool)
	for _, gateway := range out.NatGateways {
		for _, addr := range gateway.NatGatewayAddresses {
			if id := aws.ToString(addr.AllocationId); id != "" {
				allocations[id] = true
			}
		}
	}
	return allocations, nil
}

// SecurityGroupsAPI covers group listing plus the ENI association check.
type SecurityGroupsAPI interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeNetworkInterfaces(ctx context.Context, params *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

// SecurityGroupScanner flags non-default groups with no attached network
// interface.
type SecurityGroupScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) SecurityGroupsAPI
}

func NewSecurityGroupScanner(opts Options) *SecurityGroupScanner {
	return &SecurityGroupScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.sg"),
		newClient: func(cfg aws.Config) SecurityGroupsAPI {
			return ec2.NewFromConfig(cfg)
		},
	}
}

func (s *SecurityGroupScanner) Alias() string         { return "security-groups" }
func (s *SecurityGroupScanner) Label() string         { return "Security Groups" }
func (s *SecurityGroupScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *SecurityGroupScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := ec2.NewDescribeSecurityGroupsPaginator(client, &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list security groups: %w", err)
		}
		for _, group := range page.SecurityGroups {
			groupName := aws.ToString(group.GroupName)
			if groupName == "default" {
				continue
			}
			groupID := aws.ToString(group.GroupId)

			attached, err := client.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
				Filters: []ec2types.Filter{{
					Name:   aws.String("group-id"),
					Values: []string{groupID},
				}},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to check associations for %s: %w", groupID, err)
			}
			if len(attached.NetworkInterfaces) > 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   groupID,
				Name:         groupName,
				ResourceType: s.Label(),
				Reason:       "Not associated with any resource (EC2 Instance or ENI).",
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details:      map[string]string{"vpc_id": aws.ToString(group.VpcId)},
			})
		}
	}
	return findings, nil
}

// VPCsAPI covers VPC listing plus the contained-ENI check.
type VPCsAPI interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeNetworkInterfaces(ctx context.Context, params *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

// VPCScanner flags non-default VPCs with no network interfaces in them,
// meaning nothing inside is actually wired up.
type VPCScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) VPCsAPI
}

func NewVPCScanner(opts Options) *VPCScanner {
	return &VPCScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.vpc"),
		newClient: func(cfg aws.Config) VPCsAPI {
			return ec2.NewFromConfig(cfg)
		},
	}
}

func (s *VPCScanner) Alias() string         { return "vpc" }
func (s *VPCScanner) Label() string         { return "VPCs" }
func (s *VPCScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *VPCScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	vpcs, err := client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list VPCs: %w", err)
	}

	var findings []types.Finding
	for _, vpc := range vpcs.Vpcs {
		if aws.ToBool(vpc.IsDefault) {
			continue
		}
		vpcID := aws.ToString(vpc.VpcId)

		interfaces, err := client.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
			Filters: []ec2types.Filter{{
				Name:   aws.String("vpc-id"),
				Values: []string{vpcID},
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to check interfaces in %s: %w", vpcID, err)
		}
		if len(interfaces.NetworkInterfaces) > 0 {
			continue
		}

		name := ec2TagValue(vpc.Tags, "Name")
		if name == "" {
			name = vpcID
		}
		findings = append(findings, types.Finding{
			ResourceID:   vpcID,
			Name:         name,
			ResourceType: s.Label(),
			Reason:       "No network interfaces in VPC; nothing is deployed in it.",
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Details:      map[string]string{"cidr_block": aws.ToString(vpc.CidrBlock)},
		})
	}
	return findings, nil
}

// NATGatewaysAPI lists NAT gateways for the NAT gateway scanner.
type NATGatewaysAPI interface {
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
}

// NATGatewayScanner flags available gateways that pushed no bytes to any
// destination over the threshold window.
type NATGatewayScanner struct {
	opts          Options
	logger        *telemetry.Logger
	newClient     func(aws.Config) NATGatewaysAPI
	newCloudWatch func(aws.Config) CloudWatchAPI
}

func NewNATGatewayScanner(opts Options) *NATGatewayScanner {
	return &NATGatewayScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.nat"),
		newClient: func(cfg aws.Config) NATGatewaysAPI {
			return ec2.NewFromConfig(cfg)
		},
		newCloudWatch: func(cfg aws.Config) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg)
		},
	}
}

func (s *NATGatewayScanner) Alias() string         { return "nat-gateways" }
func (s *NATGatewayScanner) Label() string         { return "NAT Gateways" }
func (s *NATGatewayScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *NATGatewayScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())
	metrics := s.newCloudWatch(sess.Config())

	out, err := client.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list NAT gateways: %w", err)
	}

	end := time.Now()
	start := end.Add(-s.opts.threshold())

	var findings []types.Finding
	for _, gateway := range out.NatGateways {
		if gateway.State != ec2types.NatGatewayStateAvailable {
			continue
		}
		gatewayID := aws.ToString(gateway.NatGatewayId)

		bytes, err := metricSum(ctx, metrics, metricQuery{
			Namespace:  "AWS/NATGateway",
			MetricName: "BytesOutToDestination",
			Dimension:  "NatGatewayId",
			Value:      gatewayID,
			Stat:       "Sum",
		}, start, end)
		if err != nil {
			s.logger.WithContext(ctx).Error().Err(err).Str("nat_gateway_id", gatewayID).Msg("failed to fetch NAT gateway metrics")
			continue
		}
		if bytes > 0 {
			continue
		}

		findings = append(findings, types.Finding{
			ResourceID:   gatewayID,
			Name:         ec2TagValue(gateway.Tags, "Name"),
			ResourceType: s.Label(),
			Reason:       fmt.Sprintf("No outbound traffic during the threshold period of %d days.", s.opts.DaysThreshold),
			AccountID:    sess.AccountID(),
			Region:       sess.Region(),
			Details:      map[string]string{"vpc_id": aws.ToString(gateway.VpcId)},
		})
	}
	return findings, nil
}
