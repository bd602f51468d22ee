package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// neverUsed marks resources with no recorded usage at all.
const neverUsed = -1

// IAMRolesAPI is the role surface of IAM the role scanner needs.
type IAMRolesAPI interface {
	ListRoles(ctx context.Context, params *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	ListInstanceProfilesForRole(ctx context.Context, params *iam.ListInstanceProfilesForRoleInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesForRoleOutput, error)
}

// IAMRoleScanner flags roles never used or unused past the threshold, and
// roles with nothing attached. IAM is account-wide, so this runs once per
// account.
type IAMRoleScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) IAMRolesAPI
}

func NewIAMRoleScanner(opts Options) *IAMRoleScanner {
	return &IAMRoleScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.iam_roles"),
		newClient: func(cfg aws.Config) IAMRolesAPI {
			return iam.NewFromConfig(cfg)
		},
	}
}

func (s *IAMRoleScanner) Alias() string         { return "iam-roles" }
func (s *IAMRoleScanner) Label() string         { return "IAM Roles" }
func (s *IAMRoleScanner) Scope() registry.Scope { return registry.ScopeGlobal }

func (s *IAMRoleScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list IAM roles: %w", err)
		}
		for _, role := range page.Roles {
			roleARN := aws.ToString(role.Arn)
			if isReservedRole(roleARN) {
				continue
			}
			roleName := aws.ToString(role.RoleName)

			finding, err := s.checkRole(ctx, client, sess, roleName, roleARN)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("role", roleName).Msg("failed to check role")
				continue
			}
			if finding != nil {
				findings = append(findings, *finding)
			}
		}
	}
	return findings, nil
}

func (s *IAMRoleScanner) checkRole(ctx context.Context, client IAMRolesAPI, sess session.Context, roleName, roleARN string) (*types.Finding, error) {
	detail, err := client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return nil, err
	}

	lastUsedDays := neverUsed
	if lu := detail.Role.RoleLastUsed; lu != nil && lu.LastUsedDate != nil {
		lastUsedDays = ageDays(*lu.LastUsedDate)
	}

	attached, err := client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(roleName)})
	if err != nil {
		return nil, err
	}
	inline, err := client.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: aws.String(roleName)})
	if err != nil {
		return nil, err
	}
	profiles, err := client.ListInstanceProfilesForRole(ctx, &iam.ListInstanceProfilesForRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return nil, err
	}

	var reasons []string
	if lastUsedDays == neverUsed {
		reasons = append(reasons, "Role has never been used.")
	} else if lastUsedDays > s.opts.DaysThreshold {
		reasons = append(reasons, fmt.Sprintf("Role has not been used in the last %d days (%d days ago).",
			s.opts.DaysThreshold, lastUsedDays))
	}
	if len(attached.AttachedPolicies) == 0 && len(inline.PolicyNames) == 0 && len(profiles.InstanceProfiles) == 0 {
		reasons = append(reasons, "No attached policies or instance profiles.")
	}
	if len(reasons) == 0 {
		return nil, nil
	}

	return &types.Finding{
		ResourceID:   roleARN,
		Name:         roleName,
		ResourceType: s.Label(),
		Reason:       strings.Join(reasons, "\n"),
		AccountID:    sess.AccountID(),
		Region:       sess.Region(),
		Details: map[string]string{
			"last_used":         lastUsedLabel(lastUsedDays),
			"policies_attached": strconv.Itoa(len(attached.AttachedPolicies) + len(inline.PolicyNames)),
			"instance_profiles": strconv.Itoa(len(profiles.InstanceProfiles)),
		},
	}, nil
}

// isReservedRole filters service-linked and AWS reserved roles that the
// account owner cannot reasonably delete.
func isReservedRole(arn string) bool {
	return strings.Contains(arn, "service-role") || strings.Contains(arn, "aws-reserved")
}

func lastUsedLabel(days int) string {
	if days == neverUsed {
		return "Never"
	}
	return fmt.Sprintf("%d days ago", days)
}

// IAMUsersAPI is the user surface of IAM the user scanner needs.
type IAMUsersAPI interface {
	ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	GetAccessKeyLastUsed(ctx context.Context, params *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error)
}

// IAMUserScanner flags users whose console login and access keys have all
// gone unused past the threshold, or were never used at all.
type IAMUserScanner struct {
	opts      Options
	logger    *telemetry.Logger
	newClient func(aws.Config) IAMUsersAPI
}

func NewIAMUserScanner(opts Options) *IAMUserScanner {
	return &IAMUserScanner{
		opts:   opts,
		logger: telemetry.NewLogger("scanner.iam_users"),
		newClient: func(cfg aws.Config) IAMUsersAPI {
			return iam.NewFromConfig(cfg)
		},
	}
}

func (s *IAMUserScanner) Alias() string         { return "iam-users" }
func (s *IAMUserScanner) Label() string         { return "IAM Users" }
func (s *IAMUserScanner) Scope() registry.Scope { return registry.ScopeGlobal }

func (s *IAMUserScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	client := s.newClient(sess.Config())

	var findings []types.Finding
	paginator := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list IAM users: %w", err)
		}
		for _, user := range page.Users {
			userName := aws.ToString(user.UserName)

			lastLoginDays := neverUsed
			if user.PasswordLastUsed != nil {
				lastLoginDays = ageDays(*user.PasswordLastUsed)
			}

			keyLastUsedDays, err := s.latestKeyUsage(ctx, client, userName)
			if err != nil {
				s.logger.WithContext(ctx).Error().Err(err).Str("user", userName).Msg("failed to check access keys")
				continue
			}

			var reasons []string
			switch {
			case lastLoginDays == neverUsed && keyLastUsedDays == neverUsed:
				reasons = append(reasons, "User has never logged in and has no used access keys.")
			case (lastLoginDays == neverUsed || lastLoginDays >= s.opts.DaysThreshold) &&
				(keyLastUsedDays == neverUsed || keyLastUsedDays >= s.opts.DaysThreshold):
				if lastLoginDays != neverUsed {
					reasons = append(reasons, fmt.Sprintf("Last console login %d days ago.", lastLoginDays))
				}
				if keyLastUsedDays != neverUsed {
					reasons = append(reasons, fmt.Sprintf("Access keys last used %d days ago.", keyLastUsedDays))
				}
			}
			if len(reasons) == 0 {
				continue
			}

			findings = append(findings, types.Finding{
				ResourceID:   aws.ToString(user.Arn),
				Name:         userName,
				ResourceType: s.Label(),
				Reason:       strings.Join(reasons, "\n"),
				AccountID:    sess.AccountID(),
				Region:       sess.Region(),
				Details: map[string]string{
					"last_login":    lastUsedLabel(lastLoginDays),
					"last_key_used": lastUsedLabel(keyLastUsedDays),
				},
			})
		}
	}
	return findings, nil
}

// latestKeyUsage returns days since the most recently used access key was
// used, or neverUsed when no key has any usage.
func (s *IAMUserScanner) latestKeyUsage(ctx context.Context, client IAMUsersAPI, userName string) (int, error) {
	keys, err := client.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws.String(userName)})
	if err != nil {
		return 0, err
	}

	latest := neverUsed
	for _, key := range keys.AccessKeyMetadata {
		if key.Status != iamtypes.StatusTypeActive {
			continue
		}
		used, err := client.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{
			AccessKeyId: key.AccessKeyId,
		})
		if err != nil {
			return 0, err
		}
		if used.AccessKeyLastUsed == nil || used.AccessKeyLastUsed.LastUsedDate == nil {
			continue
		}
		days := ageDays(*used.AccessKeyLastUsed.LastUsedDate)
		if latest == neverUsed || days < latest {
			latest = days
		}
	}
	return latest, nil
}
