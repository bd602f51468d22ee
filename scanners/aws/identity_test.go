package aws

import (
	"context"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockIAMRoles struct {
	roles    []iamtypes.Role
	lastUsed map[string]*time.Time
	attached map[string]int
}

func (m *mockIAMRoles) ListRoles(ctx context.Context, params *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	return &iam.ListRolesOutput{Roles: m.roles}, nil
}

func (m *mockIAMRoles) GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	name := awssdk.ToString(params.RoleName)
	role := iamtypes.Role{RoleName: params.RoleName, RoleLastUsed: &iamtypes.RoleLastUsed{}}
	if used, ok := m.lastUsed[name]; ok {
		role.RoleLastUsed.LastUsedDate = used
	}
	return &iam.GetRoleOutput{Role: &role}, nil
}

func (m *mockIAMRoles) ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	n := m.attached[awssdk.ToString(params.RoleName)]
	policies := make([]iamtypes.AttachedPolicy, n)
	return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: policies}, nil
}

func (m *mockIAMRoles) ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	return &iam.ListRolePoliciesOutput{}, nil
}

func (m *mockIAMRoles) ListInstanceProfilesForRole(ctx context.Context, params *iam.ListInstanceProfilesForRoleInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesForRoleOutput, error) {
	return &iam.ListInstanceProfilesForRoleOutput{}, nil
}

func TestIAMRoleScanner(t *testing.T) {
	recentUse := time.Now().Add(-2 * 24 * time.Hour)
	staleUse := time.Now().Add(-90 * 24 * time.Hour)

	mock := &mockIAMRoles{
		roles: []iamtypes.Role{
			{RoleName: awssdk.String("never-used"), Arn: awssdk.String("arn:aws:iam::111111111111:role/never-used")},
			{RoleName: awssdk.String("active"), Arn: awssdk.String("arn:aws:iam::111111111111:role/active")},
			{RoleName: awssdk.String("stale"), Arn: awssdk.String("arn:aws:iam::111111111111:role/stale")},
			{RoleName: awssdk.String("svc"), Arn: awssdk.String("arn:aws:iam::111111111111:role/service-role/svc")},
		},
		lastUsed: map[string]*time.Time{
			"active": &recentUse,
			"stale":  &staleUse,
		},
		attached: map[string]int{"active": 2, "stale": 1},
	}

	scanner := NewIAMRoleScanner(Options{DaysThreshold: 30})
	scanner.newClient = func(awssdk.Config) IAMRolesAPI { return mock }

	findings, err := scanner.Scan(context.Background(), testSession())
	require.NoError(t, err)

	byID := make(map[string]string)
	for _, f := range findings {
		byID[f.Name] = f.Reason
	}
	require.Len(t, findings, 2)
	assert.Contains(t, byID["never-used"], "never been used")
	assert.Contains(t, byID["never-used"], "No attached policies")
	assert.Contains(t, byID["stale"], "not been used in the last 30 days")
	assert.NotContains(t, byID, "active")
	assert.NotContains(t, byID, "svc", "reserved roles are skipped")
}

func TestIsReservedRole(t *testing.T) {
	assert.True(t, isReservedRole("arn:aws:iam::1:role/service-role/foo"))
	assert.True(t, isReservedRole("arn:aws:iam::1:role/aws-reserved/sso.amazonaws.com/bar"))
	assert.False(t, isReservedRole("arn:aws:iam::1:role/app-runner"))
}

func TestLastUsedLabel(t *testing.T) {
	assert.Equal(t, "Never", lastUsedLabel(neverUsed))
	assert.Equal(t, "14 days ago", lastUsedLabel(14))
}
