package aws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// Route53API lists hosted zones and their record sets.
type Route53API interface {
	ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
}

// Route53Scanner flags hosted zones that hold nothing beyond the NS and
// SOA records every zone is born with. Route53 is account-wide.
type Route53Scanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) Route53API
}

func NewRoute53Scanner(opts Options) *Route53Scanner {
	return &Route53Scanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.route53"),
		newClient: func(cfg aws.Config) Route53API {
			return route53.NewFromConfig(cfg)
		},
	}
}

func (s *Route53Scanner) Alias() string         { return "route53" }
func (s *Route53Scanner) Label() string         { return "Route53 Hosted Zones" }
func (s *Route53Scanner) Scope() registry.Scope { return registry.ScopeGlobal }

func (s *Route53Scanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := route53.NewListHostedZonesPaginator(client, &route53.ListHostedZonesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosted zones: %w", err)
		}
		for _, zone := range page.HostedZones {
			zoneID := aws.ToString(zone.Id)
			zoneName := aws.ToString(zone.Name)

			empty, err := s.zoneIsEmpty(ctx, client, zoneID)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("zone", zoneName).Msg("failed to list record sets")
				continue
			}
			if !empty {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   zoneID,
				Name:         zoneName,
				ResourceType: s.Label(),
				Reason:       "Zone holds only its default NS and SOA records.",
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"record_count": strconv.FormatInt(aws.ToInt64(zone.ResourceRecordSetCount), 10),
					"private":      strconv.FormatBool(zone.Config != nil && zone.Config.PrivateZone),
				},
			})
		}
	}
	return findings, nil
}

func (s *Route53Scanner) zoneIsEmpty(ctx context.Context, client Route53API, zoneID string) (bool, error) {
	out, err := client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
	})
	if err != nil {
		return false, err
	}
	for _, record := range out.ResourceRecordSets {
		if record.Type != r53types.RRTypeNs && record.Type != r53types.RRTypeSoa {
			return false, nil
		}
	}
	return !out.IsTruncated, nil
}
