// Package executor drives one orchestration run: session fan-out, task
// matrix construction, bounded concurrent dispatch, and aggregation.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/scanner"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// Executor is the top-level driver. Only configuration and lookup errors
// escape Execute; per-account and per-task failures are contained and
// become log entries and metrics.
type Executor struct {
	broker     SessionBroker
	registry   *registry.Registry
	accounts   *scanner.AccountScanner
	opts       Options
	maxWorkers int
	logger     *telemetry.Logger
}

// New creates an executor over a sealed registry.
func New(broker SessionBroker, reg *registry.Registry, opts Options) *Executor {
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}

	return &Executor{
		broker:     broker,
		registry:   reg,
		accounts:   scanner.NewAccountScanner(reg),
		opts:       opts,
		maxWorkers: workers,
		logger:     telemetry.NewLogger("executor"),
	}
}

// Execute runs the full account x region x scanner matrix and returns one
// report per account plus run metrics.
func (e *Executor) Execute(ctx context.Context) ([]types.AccountReport, types.Metrics, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "executor.execute")
	defer span.End()

	start := time.Now()

	// Pre-flight: every requested alias must resolve before any dispatch.
	scopes, err := e.resolveScanners()
	if err != nil {
		return nil, types.Metrics{}, err
	}

	sessions, err := e.broker.AssumeRunnerRoleInAllAccounts(ctx)
	if err != nil {
		return nil, types.Metrics{}, err
	}
	sessions = e.filterAccounts(ctx, sessions)

	tasks, accountRegions := e.buildTasks(ctx, sessions, scopes)
	span.SetAttributes(
		attribute.Int("accounts", len(sessions)),
		attribute.Int("tasks", len(tasks)),
	)
	e.logger.WithContext(ctx).Info().
		Int("sessions", len(sessions)).
		Int("tasks", len(tasks)).
		Int("workers", e.maxWorkers).
		Msg("starting scan execution")

	completed, dropped, reports := e.dispatch(ctx, tasks, accountRegions)

	end := time.Now()
	elapsed := end.Sub(start).Seconds()
	metrics := types.Metrics{
		StartTime:    start,
		EndTime:      end,
		TotalScans:   completed,
		DroppedTasks: dropped,
		TotalRunTime: elapsed,
	}
	if elapsed > 0 {
		metrics.AvgScansPerSecond = float64(completed) / elapsed
	}
	telemetry.ScanDuration.Record(ctx, elapsed)

	e.logger.WithContext(ctx).Info().
		Int("total_scans", metrics.TotalScans).
		Int("dropped", metrics.DroppedTasks).
		Float64("scans_per_second", metrics.AvgScansPerSecond).
		Msg("scan execution completed")

	return reports, metrics, nil
}

// resolveScanners validates the requested aliases and returns each one's
// scope. A lookup failure here fails the run before any task exists.
func (e *Executor) resolveScanners() (map[string]registry.Scope, error) {
	if len(e.opts.Scanners) == 0 {
		return nil, fmt.Errorf("no scanners requested")
	}

	scopes := make(map[string]registry.Scope, len(e.opts.Scanners))
	for _, alias := range e.opts.Scanners {
		s, err := e.registry.Resolve(alias)
		if err != nil {
			return nil, err
		}
		scopes[s.Alias()] = s.Scope()
	}
	return scopes, nil
}

// filterAccounts drops sessions whose account is not on the allow-list.
func (e *Executor) filterAccounts(ctx context.Context, sessions []session.AccountSession) []session.AccountSession {
	if len(e.opts.Accounts) == 0 {
		return sessions
	}

	allowed := make(map[string]bool, len(e.opts.Accounts))
	for _, id := range e.opts.Accounts {
		allowed[id] = true
	}

	kept := sessions[:0]
	for _, sess := range sessions {
		if !allowed[sess.Account.ID] {
			e.logger.WithContext(ctx).Info().
				Str("account_id", sess.Account.ID).
				Msg("account not in requested list, skipping")
			continue
		}
		kept = append(kept, sess)
	}
	return kept
}

// buildTasks emits the task matrix: one task per (account, region) for
// regional scanners, exactly one per account for global ones.
func (e *Executor) buildTasks(ctx context.Context, sessions []session.AccountSession, scopes map[string]registry.Scope) ([]Task, map[string][]string) {
	var tasks []Task
	accountRegions := make(map[string][]string, len(sessions))

	for _, sess := range sessions {
		regions := e.regionsFor(ctx, sess)
		accountRegions[sess.Account.ID] = regions

		for alias, scope := range scopes {
			if scope == registry.ScopeGlobal {
				tasks = append(tasks, Task{
					Sess:        sess.Context,
					AccountID:   sess.Account.ID,
					AccountName: sess.Account.Name,
					Region:      types.GlobalRegion,
					Alias:       alias,
				})
				continue
			}
			for _, region := range regions {
				tasks = append(tasks, Task{
					Sess:        sess.Context,
					AccountID:   sess.Account.ID,
					AccountName: sess.Account.Name,
					Region:      region,
					Alias:       alias,
				})
			}
		}
	}

	return tasks, accountRegions
}

// regionsFor resolves the region set for one account: the enabled regions,
// intersected with the explicitly requested ones when given. A region
// listing failure skips that account's regional tasks only.
func (e *Executor) regionsFor(ctx context.Context, sess session.AccountSession) []string {
	enabled, err := e.broker.Regions(ctx, sess.Context)
	if err != nil {
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("account_id", sess.Account.ID).
			Msg("region listing failed, skipping regional scans for account")
		return nil
	}

	if len(e.opts.Regions) == 0 {
		return enabled
	}

	requested := make(map[string]bool, len(e.opts.Regions))
	for _, region := range e.opts.Regions {
		requested[region] = true
	}

	var regions []string
	for _, region := range enabled {
		if requested[region] {
			regions = append(regions, region)
		}
	}
	return regions
}

// dispatch drains the task queue through a fixed worker pool and merges
// results on the collector side. One collector owns the aggregate, so no
// lock is needed beyond the channel itself.
func (e *Executor) dispatch(ctx context.Context, tasks []Task, accountRegions map[string][]string) (completed, dropped int, reports []types.AccountReport) {
	queue := make(chan Task)
	results := make(chan taskResult)

	var wg sync.WaitGroup
	for i := 0; i < e.maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				results <- e.runTask(ctx, task)
			}
		}()
	}

	go func() {
		for _, task := range tasks {
			queue <- task
		}
		close(queue)
		wg.Wait()
		close(results)
	}()

	byAccount := make(map[string]*types.AccountReport)
	for result := range results {
		if result.dropped {
			dropped++
			telemetry.TasksDropped.Add(ctx, 1)
			continue
		}
		completed++
		telemetry.ScansCompleted.Add(ctx, 1)
		e.merge(byAccount, accountRegions, result)
	}

	reports = make([]types.AccountReport, 0, len(byAccount))
	for _, report := range byAccount {
		reports = append(reports, *report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].AccountID < reports[j].AccountID
	})
	return completed, dropped, reports
}

// runTask executes one cell, converting a panic into a dropped task so the
// rest of the batch is untouched.
func (e *Executor) runTask(ctx context.Context, task Task) (result taskResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithContext(ctx).Error().
				Str("account_id", task.AccountID).
				Str("region", task.Region).
				Str("scanner", task.Alias).
				Interface("panic", r).
				Msg("task dropped")
			result = taskResult{task: task, dropped: true}
		}
	}()

	ctx, span := telemetry.Tracer.Start(ctx, "executor.task", trace.WithAttributes(
		attribute.String("account.id", task.AccountID),
		attribute.String("region", task.Region),
		attribute.String("scanner", task.Alias),
	))
	defer span.End()

	cell := e.accounts.ScanResources(ctx, task.Sess, task.AccountID, task.AccountName,
		[]string{task.Region}, []string{task.Alias})

	return taskResult{task: task, findings: cell[task.Region][task.Alias]}
}

func (e *Executor) merge(byAccount map[string]*types.AccountReport, accountRegions map[string][]string, result taskResult) {
	report, ok := byAccount[result.task.AccountID]
	if !ok {
		report = &types.AccountReport{
			AccountID:   result.task.AccountID,
			AccountName: result.task.AccountName,
			Regions:     accountRegions[result.task.AccountID],
			Results:     make(map[string]types.RegionResults),
		}
		byAccount[result.task.AccountID] = report
	}

	regionResults, ok := report.Results[result.task.Region]
	if !ok {
		regionResults = make(types.RegionResults)
		report.Results[result.task.Region] = regionResults
	}
	regionResults[result.task.Alias] = result.findings
}
