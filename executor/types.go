package executor

import (
	"context"

	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/types"
)

// SessionBroker is the credential surface the executor needs.
type SessionBroker interface {
	AssumeRunnerRoleInAllAccounts(ctx context.Context) ([]session.AccountSession, error)
	Regions(ctx context.Context, sess session.Context) ([]string, error)
}

// Options configures one orchestration run.
type Options struct {
	// Accounts restricts the run to these account IDs; empty scans every
	// account a runner session could be obtained for.
	Accounts []string
	// Regions restricts regional scanners to these regions, intersected
	// with each account's enabled regions; empty means all enabled.
	Regions []string
	// Scanners is the list of scanner aliases to run.
	Scanners []string
	// MaxWorkers bounds the task pool; defaults to logical CPUs - 1.
	MaxWorkers int
}

// Task is one unit of concurrent work: one scanner in one region of one
// account. Account-scoped scanners carry the sentinel region "Global".
type Task struct {
	Sess        session.Context
	AccountID   string
	AccountName string
	Region      string
	Alias       string
}

// taskResult carries one completed cell back to the collector.
type taskResult struct {
	task     Task
	findings []types.Finding
	dropped  bool
}
