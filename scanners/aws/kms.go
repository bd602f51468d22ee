package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// KMSAPI lists keys and describes them.
type KMSAPI interface {
	ListKeys(ctx context.Context, params *kms.ListKeysInput, optFns ...func(*kms.Options)) (*kms.ListKeysOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// KMSKeyScanner flags customer-managed keys that are disabled; they bill
// monthly whether or not anything encrypts with them.
type KMSKeyScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) KMSAPI
}

func NewKMSKeyScanner(opts Options) *KMSKeyScanner {
	return &KMSKeyScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.kms"),
		newClient: func(cfg aws.Config) KMSAPI {
			return kms.NewFromConfig(cfg)
		},
	}
}

func (s *KMSKeyScanner) Alias() string         { return "kms" }
func (s *KMSKeyScanner) Label() string         { return "KMS Keys" }
func (s *KMSKeyScanner) Scope() registry.Scope { return registry.ScopeRegional }

func (s *KMSKeyScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := kms.NewListKeysPaginator(client, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list KMS keys: %w", err)
		}
		for _, key := range page.Keys {
			keyID := aws.ToString(key.KeyId)

			described, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{
				KeyId: aws.String(keyID),
			})
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("key_id", keyID).Msg("failed to describe key")
				continue
			}
			metadata := described.KeyMetadata
			if metadata.KeyManager != kmstypes.KeyManagerTypeCustomer {
				continue
			}
			if metadata.KeyState != kmstypes.KeyStateDisabled {
				continue
			}

			created := aws.ToTime(metadata.CreationDate)
			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(key.KeyArn),
				Name:         keyID,
				ResourceType: s.Label(),
				Reason:       "Customer-managed key is disabled but still billed monthly.",
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"description": aws.ToString(metadata.Description),
					"created_at":  created.Format(time.RFC3339),
				},
			})
		}
	}
	return findings, nil
}
