package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSTS struct {
	mu          sync.Mutex
	assumed     []string // role ARNs in call order
	failARNs    map[string]error
	identityErr error
}

func (m *mockSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	arn := aws.ToString(params.RoleArn)
	m.assumed = append(m.assumed, arn)
	if err, ok := m.failARNs[arn]; ok {
		return nil, err
	}

	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("AKIA" + arn[len(arn)-4:]),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

func (m *mockSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.identityErr != nil {
		return nil, m.identityErr
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String("111111111111")}, nil
}

type mockOrganizations struct {
	pages [][]orgtypes.Account
}

func (m *mockOrganizations) ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	page := 0
	if params.NextToken != nil {
		page = 1
	}

	out := &organizations.ListAccountsOutput{Accounts: m.pages[page]}
	if page == 0 && len(m.pages) > 1 {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

type mockRegions struct {
	regions []string
}

func (m *mockRegions) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	out := &ec2.DescribeRegionsOutput{}
	for _, name := range m.regions {
		out.Regions = append(out.Regions, ec2types.Region{RegionName: aws.String(name)})
	}
	return out, nil
}

// newTestBroker wires a broker with mock clients and a pre-seeded root so
// tests never touch real credential resolution.
func newTestBroker(stsMock *mockSTS, orgMock *mockOrganizations, opts Options) *Broker {
	b := NewBroker(opts)
	b.newSTS = func(aws.Config) STSAPI { return stsMock }
	if orgMock != nil {
		b.newOrganizations = func(aws.Config) OrganizationsAPI { return orgMock }
	}

	root := NewContext(aws.Config{Region: "us-east-1"}, "111111111111")
	b.root = &root
	return b
}

func TestContext_WithRegion(t *testing.T) {
	parent := NewContext(aws.Config{Region: "us-east-1"}, "111111111111")

	child := parent.WithRegion("eu-west-1")

	assert.Equal(t, "eu-west-1", child.Region())
	assert.Equal(t, "us-east-1", parent.Region(), "parent must not be mutated")
	assert.Equal(t, parent.AccountID(), child.AccountID())
}

func TestResolveRoleARN(t *testing.T) {
	arn := ResolveRoleARN("SweeperRunner", "222222222222")
	assert.Equal(t, "arn:aws:iam::222222222222:role/SweeperRunner", arn)
}

func TestBroker_OrganizationAccounts_RequiresRole(t *testing.T) {
	b := newTestBroker(&mockSTS{}, nil, Options{RunnerRole: "Runner"})

	_, err := b.OrganizationAccounts(context.Background())
	require.Error(t, err)

	var confErr *ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestBroker_OrganizationAccounts_PaginatesAndFiltersActive(t *testing.T) {
	orgMock := &mockOrganizations{
		pages: [][]orgtypes.Account{
			{
				{Id: aws.String("222222222222"), Name: aws.String("dev"), Status: orgtypes.AccountStatusActive},
				{Id: aws.String("333333333333"), Name: aws.String("closed"), Status: orgtypes.AccountStatusSuspended},
			},
			{
				{Id: aws.String("444444444444"), Name: aws.String("prod"), Status: orgtypes.AccountStatusActive},
			},
		},
	}
	b := newTestBroker(&mockSTS{}, orgMock, Options{OrganizationRole: "OrgQuery", RunnerRole: "Runner"})

	accounts, err := b.OrganizationAccounts(context.Background())
	require.NoError(t, err)

	require.Len(t, accounts, 2)
	assert.Equal(t, "222222222222", accounts[0].ID)
	assert.Equal(t, "444444444444", accounts[1].ID)
}

func TestBroker_AssumeRunnerRoleInAllAccounts_PartialSuccess(t *testing.T) {
	stsMock := &mockSTS{
		failARNs: map[string]error{
			"arn:aws:iam::333333333333:role/Runner": errors.New("AccessDenied"),
		},
	}
	orgMock := &mockOrganizations{
		pages: [][]orgtypes.Account{
			{
				{Id: aws.String("222222222222"), Name: aws.String("dev"), Status: orgtypes.AccountStatusActive},
				{Id: aws.String("333333333333"), Name: aws.String("stage"), Status: orgtypes.AccountStatusActive},
				{Id: aws.String("444444444444"), Name: aws.String("prod"), Status: orgtypes.AccountStatusActive},
			},
		},
	}
	b := newTestBroker(stsMock, orgMock, Options{
		OrganizationRole: "OrgQuery",
		RunnerRole:       "Runner",
		MaxWorkers:       2,
	})

	sessions, err := b.AssumeRunnerRoleInAllAccounts(context.Background())
	require.NoError(t, err, "one denied account must not fail the batch")

	require.Len(t, sessions, 2)
	ids := []string{sessions[0].Account.ID, sessions[1].Account.ID}
	assert.ElementsMatch(t, []string{"222222222222", "444444444444"}, ids)
}

func TestBroker_AssumeRole_WrapsDenial(t *testing.T) {
	stsMock := &mockSTS{
		failARNs: map[string]error{
			"arn:aws:iam::222222222222:role/Runner": errors.New("AccessDenied"),
		},
	}
	b := newTestBroker(stsMock, nil, Options{RunnerRole: "Runner"})

	_, err := b.AssumeRole(context.Background(), "Runner", "222222222222")
	require.Error(t, err)

	var roleErr *RoleAssumptionError
	require.ErrorAs(t, err, &roleErr)
	assert.Equal(t, "222222222222", roleErr.AccountID)
}

func TestBroker_Regions(t *testing.T) {
	b := newTestBroker(&mockSTS{}, nil, Options{})
	b.newRegions = func(aws.Config) RegionsAPI {
		return &mockRegions{regions: []string{"us-east-1", "eu-west-1"}}
	}

	regions, err := b.Regions(context.Background(), *b.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, regions)
}

func TestWithRetry_RecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("throttled")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("always")
	})

	require.Error(t, err)
	assert.Equal(t, retryAttempts, calls)
}
