package session

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/emptyset-io/cloudsweep/telemetry"
)

const runnerSessionName = "CloudSweepRunner"

// Account describes one organization member account.
type Account struct {
	ID     string
	Name   string
	Status string
}

// AccountSession pairs a runner-scoped credential context with the account
// it was assumed in.
type AccountSession struct {
	Account Account
	Context Context
}

// Options configures a Broker.
type Options struct {
	Profile          string
	OrganizationRole string
	RunnerRole       string
	MaxWorkers       int
}

// Broker owns the root credential context and derives scoped children from
// it: organization role, per-account runner roles, region-scoped clones.
type Broker struct {
	profile          string
	organizationRole string
	runnerRole       string
	maxWorkers       int
	logger           *telemetry.Logger

	newSTS           func(aws.Config) STSAPI
	newOrganizations func(aws.Config) OrganizationsAPI
	newRegions       func(aws.Config) RegionsAPI

	mu         sync.Mutex
	root       *Context
	orgContext *Context
}

// NewBroker creates a broker for the given identity configuration.
func NewBroker(opts Options) *Broker {
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}

	return &Broker{
		profile:          opts.Profile,
		organizationRole: opts.OrganizationRole,
		runnerRole:       opts.RunnerRole,
		maxWorkers:       workers,
		logger:           telemetry.NewLogger("session"),
		newSTS: func(cfg aws.Config) STSAPI {
			return sts.NewFromConfig(cfg)
		},
		newOrganizations: func(cfg aws.Config) OrganizationsAPI {
			return organizations.NewFromConfig(cfg)
		},
		newRegions: func(cfg aws.Config) RegionsAPI {
			return ec2.NewFromConfig(cfg)
		},
	}
}

// Root lazily constructs and caches the base credential context for the
// configured profile or ambient credentials.
func (b *Broker) Root(ctx context.Context) (Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.root != nil {
		return *b.root, nil
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if b.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(b.profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return Context{}, &ConfigurationError{
			Reason: fmt.Sprintf("load credentials for profile %q: %v", b.profile, err),
		}
	}

	stsClient := b.newSTS(cfg)
	var identity *sts.GetCallerIdentityOutput
	err = withRetry(ctx, func() error {
		identity, err = stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return err
	})
	if err != nil {
		return Context{}, &ConfigurationError{
			Reason: fmt.Sprintf("no usable root identity: %v", err),
		}
	}

	root := NewContext(cfg, aws.ToString(identity.Account))
	b.root = &root

	b.logger.WithContext(ctx).Debug().
		Str("account_id", root.AccountID()).
		Msg("root session established")

	return root, nil
}

// AssumeRole exchanges the root credentials for a role in the target
// account and returns a new immutable context.
func (b *Broker) AssumeRole(ctx context.Context, roleName, accountID string) (Context, error) {
	root, err := b.Root(ctx)
	if err != nil {
		return Context{}, err
	}
	return b.assumeRoleFrom(ctx, root, roleName, accountID, "CloudSweepSession")
}

func (b *Broker) assumeRoleFrom(ctx context.Context, base Context, roleName, accountID, sessionName string) (Context, error) {
	roleARN := ResolveRoleARN(roleName, accountID)

	stsClient := b.newSTS(base.Config())
	var out *sts.AssumeRoleOutput
	err := withRetry(ctx, func() error {
		var callErr error
		out, callErr = stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(roleARN),
			RoleSessionName: aws.String(sessionName),
		})
		return callErr
	})
	if err != nil {
		return Context{}, &RoleAssumptionError{RoleName: roleName, AccountID: accountID, Err: err}
	}

	creds := out.Credentials
	cfg := base.Config().Copy()
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		aws.ToString(creds.AccessKeyId),
		aws.ToString(creds.SecretAccessKey),
		aws.ToString(creds.SessionToken),
	)

	b.logger.WithContext(ctx).Debug().
		Str("role_arn", roleARN).
		Str("account_id", accountID).
		Msg("role assumed")

	return NewContext(cfg, accountID), nil
}

// organizationContext lazily assumes the organization query role in the
// root account.
func (b *Broker) organizationContext(ctx context.Context) (Context, error) {
	if b.organizationRole == "" {
		return Context{}, &ConfigurationError{
			Reason: "organization role is required to query organization accounts but was not provided",
		}
	}

	b.mu.Lock()
	cached := b.orgContext
	b.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	root, err := b.Root(ctx)
	if err != nil {
		return Context{}, err
	}

	orgCtx, err := b.assumeRoleFrom(ctx, root, b.organizationRole, root.AccountID(), "CloudSweepOrganization")
	if err != nil {
		return Context{}, err
	}

	b.mu.Lock()
	b.orgContext = &orgCtx
	b.mu.Unlock()

	return orgCtx, nil
}

// OrganizationAccounts pages through the organization directory and returns
// the ACTIVE member accounts.
func (b *Broker) OrganizationAccounts(ctx context.Context) ([]Account, error) {
	orgCtx, err := b.organizationContext(ctx)
	if err != nil {
		return nil, err
	}

	client := b.newOrganizations(orgCtx.Config())

	var accounts []Account
	var nextToken *string
	for {
		var out *organizations.ListAccountsOutput
		err := withRetry(ctx, func() error {
			var callErr error
			out, callErr = client.ListAccounts(ctx, &organizations.ListAccountsInput{
				NextToken: nextToken,
			})
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("list organization accounts: %w", err)
		}

		for _, acct := range out.Accounts {
			if acct.Status != orgtypes.AccountStatusActive {
				continue
			}
			accounts = append(accounts, Account{
				ID:     aws.ToString(acct.Id),
				Name:   aws.ToString(acct.Name),
				Status: string(acct.Status),
			})
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	b.logger.WithContext(ctx).Debug().
		Int("count", len(accounts)).
		Msg("active organization accounts retrieved")

	return accounts, nil
}

// AssumeRunnerRoleInAllAccounts fans out runner-role assumption across every
// active organization account on a bounded worker pool. Failures are logged
// and dropped; partial success is the normal case.
func (b *Broker) AssumeRunnerRoleInAllAccounts(ctx context.Context) ([]AccountSession, error) {
	accounts, err := b.OrganizationAccounts(ctx)
	if err != nil {
		return nil, err
	}

	orgCtx, err := b.organizationContext(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make(chan Account)
	results := make(chan AccountSession)

	var wg sync.WaitGroup
	for i := 0; i < b.maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for acct := range jobs {
				sess, err := b.assumeRoleFrom(ctx, orgCtx, b.runnerRole, acct.ID, runnerSessionName)
				if err != nil {
					telemetry.RolesFailed.Add(ctx, 1)
					b.logger.WithContext(ctx).Error().
						Err(err).
						Str("account_id", acct.ID).
						Str("role", b.runnerRole).
						Msg("runner role assumption failed, skipping account")
					continue
				}
				telemetry.RolesAssumed.Add(ctx, 1)
				results <- AccountSession{Account: acct, Context: sess}
			}
		}()
	}

	go func() {
		for _, acct := range accounts {
			jobs <- acct
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var sessions []AccountSession
	for sess := range results {
		sessions = append(sessions, sess)
	}

	b.logger.WithContext(ctx).Info().
		Int("accounts", len(accounts)).
		Int("sessions", len(sessions)).
		Msg("runner role fan-out complete")

	return sessions, nil
}

// Regions returns the enabled regions for the given credential context.
func (b *Broker) Regions(ctx context.Context, sess Context) ([]string, error) {
	client := b.newRegions(sess.Config())

	var out *ec2.DescribeRegionsOutput
	err := withRetry(ctx, func() error {
		var callErr error
		out, callErr = client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, region := range out.Regions {
		regions = append(regions, aws.ToString(region.RegionName))
	}
	return regions, nil
}

// ResolveRoleARN builds the ARN for a role name in a target account.
func ResolveRoleARN(roleName, accountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}
