package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/types"
)

type fakeBroker struct {
	sessions    []session.AccountSession
	regions     []string
	fanOutCalls int
}

func (f *fakeBroker) AssumeRunnerRoleInAllAccounts(ctx context.Context) ([]session.AccountSession, error) {
	f.fanOutCalls++
	return f.sessions, nil
}

func (f *fakeBroker) Regions(ctx context.Context, sess session.Context) ([]string, error) {
	return f.regions, nil
}

type countingScanner struct {
	alias string
	scope registry.Scope
	err   error
}

func (c *countingScanner) Alias() string         { return c.alias }
func (c *countingScanner) Label() string         { return "Scanner " + c.alias }
func (c *countingScanner) Scope() registry.Scope { return c.scope }
func (c *countingScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []types.Finding{{
		ResourceID: "r-" + c.alias,
		Region:     sess.Region(),
		AccountID:  sess.AccountID(),
	}}, nil
}

func accountSession(id, name string) session.AccountSession {
	return session.AccountSession{
		Account: session.Account{ID: id, Name: name, Status: "ACTIVE"},
		Context: session.NewContext(aws.Config{Region: "us-east-1"}, id),
	}
}

func newTestRegistry(t *testing.T, scanners ...registry.Scanner) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, s := range scanners {
		require.NoError(t, reg.Register(s))
	}
	reg.Seal()
	return reg
}

func TestExecutor_TaskMatrix(t *testing.T) {
	// 2 accounts x 2 regions x 1 regional + 2 accounts x 1 global = 6 tasks.
	broker := &fakeBroker{
		sessions: []session.AccountSession{
			accountSession("111111111111", "dev"),
			accountSession("222222222222", "prod"),
		},
		regions: []string{"us-east-1", "eu-west-1"},
	}
	reg := newTestRegistry(t,
		&countingScanner{alias: "x"},
		&countingScanner{alias: "y", scope: registry.ScopeGlobal},
	)

	exec := New(broker, reg, Options{Scanners: []string{"x", "y"}, MaxWorkers: 4})
	reports, metrics, err := exec.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, metrics.TotalScans)
	assert.Equal(t, 0, metrics.DroppedTasks)
	require.Len(t, reports, 2)

	for _, report := range reports {
		// One Global cell plus one cell per region for the regional scanner.
		require.Len(t, report.Results[types.GlobalRegion], 1)
		assert.Len(t, report.Results[types.GlobalRegion]["y"], 1)
		for _, region := range []string{"us-east-1", "eu-west-1"} {
			assert.Len(t, report.Results[region]["x"], 1)
			_, hasGlobal := report.Results[region]["y"]
			assert.False(t, hasGlobal, "global scanner must not run per region")
		}
		assert.Equal(t, []string{"us-east-1", "eu-west-1"}, report.Regions)
	}
}

func TestExecutor_AccountAllowList(t *testing.T) {
	broker := &fakeBroker{
		sessions: []session.AccountSession{
			accountSession("111111111111", "dev"),
			accountSession("222222222222", "prod"),
		},
		regions: []string{"us-east-1"},
	}
	reg := newTestRegistry(t, &countingScanner{alias: "x"})

	exec := New(broker, reg, Options{
		Scanners: []string{"x"},
		Accounts: []string{"222222222222"},
	})
	reports, metrics, err := exec.Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, "222222222222", reports[0].AccountID)
	assert.Equal(t, 1, metrics.TotalScans)
}

func TestExecutor_RegionIntersection(t *testing.T) {
	broker := &fakeBroker{
		sessions: []session.AccountSession{accountSession("111111111111", "dev")},
		regions:  []string{"us-east-1", "eu-west-1", "ap-south-1"},
	}
	reg := newTestRegistry(t, &countingScanner{alias: "x"})

	exec := New(broker, reg, Options{
		Scanners: []string{"x"},
		Regions:  []string{"eu-west-1", "us-west-2"}, // us-west-2 not enabled
	})
	reports, metrics, err := exec.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.TotalScans)
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"eu-west-1"}, reports[0].Regions)
}

func TestExecutor_UnknownScannerFailsBeforeDispatch(t *testing.T) {
	broker := &fakeBroker{
		sessions: []session.AccountSession{accountSession("111111111111", "dev")},
		regions:  []string{"us-east-1"},
	}
	reg := newTestRegistry(t, &countingScanner{alias: "x"})

	exec := New(broker, reg, Options{Scanners: []string{"x", "bogus"}})
	_, _, err := exec.Execute(context.Background())

	var notFound *registry.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 0, broker.fanOutCalls, "no side effects before validation passes")
}

func TestExecutor_FailedCellStaysEmpty(t *testing.T) {
	broker := &fakeBroker{
		sessions: []session.AccountSession{accountSession("111111111111", "dev")},
		regions:  []string{"us-east-1", "eu-west-1"},
	}
	reg := newTestRegistry(t,
		&countingScanner{alias: "x"},
		&countingScanner{alias: "bad", err: errors.New("api down")},
	)

	exec := New(broker, reg, Options{Scanners: []string{"x", "bad"}})
	reports, metrics, err := exec.Execute(context.Background())
	require.NoError(t, err)

	// The failing scanner still returns a non-aborted (empty) result.
	assert.Equal(t, 4, metrics.TotalScans)
	require.Len(t, reports, 1)
	for _, region := range []string{"us-east-1", "eu-west-1"} {
		assert.Len(t, reports[0].Results[region]["x"], 1)
		assert.Empty(t, reports[0].Results[region]["bad"])
		_, attempted := reports[0].Results[region]["bad"]
		assert.True(t, attempted, "failed cell must be recorded, not omitted")
	}
}

func TestExecutor_PartialAccountFailure(t *testing.T) {
	// Role assumption already failed for account B upstream; the broker
	// hands back only A's session. The run still completes.
	broker := &fakeBroker{
		sessions: []session.AccountSession{accountSession("111111111111", "dev")},
		regions:  []string{"us-east-1", "eu-west-1"},
	}
	reg := newTestRegistry(t,
		&countingScanner{alias: "x"},
		&countingScanner{alias: "y", scope: registry.ScopeGlobal},
	)

	exec := New(broker, reg, Options{Scanners: []string{"x", "y"}})
	reports, metrics, err := exec.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, metrics.TotalScans, "2 regional + 1 global for the surviving account")
	require.Len(t, reports, 1)
	assert.Equal(t, "111111111111", reports[0].AccountID)
}

func TestExecutor_MetricsThroughput(t *testing.T) {
	broker := &fakeBroker{
		sessions: []session.AccountSession{accountSession("111111111111", "dev")},
		regions:  []string{"us-east-1"},
	}
	reg := newTestRegistry(t, &countingScanner{alias: "x"})

	exec := New(broker, reg, Options{Scanners: []string{"x"}})
	_, metrics, err := exec.Execute(context.Background())
	require.NoError(t, err)

	require.Greater(t, metrics.TotalRunTime, 0.0)
	assert.InDelta(t, float64(metrics.TotalScans)/metrics.TotalRunTime, metrics.AvgScansPerSecond, 1e-9)
	assert.False(t, metrics.EndTime.Before(metrics.StartTime))
}
