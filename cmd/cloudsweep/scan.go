package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/emptyset-io/cloudsweep/config"
	"github.com/emptyset-io/cloudsweep/cost"
	"github.com/emptyset-io/cloudsweep/executor"
	"github.com/emptyset-io/cloudsweep/integrations/confluence"
	"github.com/emptyset-io/cloudsweep/policy"
	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/reports/html"
	awsscanners "github.com/emptyset-io/cloudsweep/scanners/aws"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

var (
	scanProfile       string
	scanOrgRole       string
	scanRunnerRole    string
	scanAccounts      []string
	scanRegions       []string
	scanScanners      []string
	scanAllRegions    bool
	scanAllScanners   bool
	scanMaxWorkers    int
	scanDaysThreshold int
	scanPolicy        string
	scanOutput        string
	scanMetricsAddr   string
	scanNoCost        bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan organization accounts for idle resources",
	Long: `Scan every reachable account in the organization for resources that
look unused, estimate what they cost, and write an HTML report.

Account-wide scanners (IAM, Route53) run once per account; regional
scanners run once per enabled region. Accounts where the runner role
cannot be assumed are skipped, not fatal.`,
	Example: `  cloudsweep scan --runner-role SweepRunner --organization-role OrgReader --all-scanners --all-regions
  cloudsweep scan --scanners ebs-volumes,elastic-ips --regions us-east-1
  cloudsweep scan --accounts 222222222222 --days-threshold 30
  cloudsweep scan --config cloudsweep.yaml --policy suppress.rego`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "AWS shared config profile for the root session")
	scanCmd.Flags().StringVar(&scanOrgRole, "organization-role", "", "Role name used to list organization accounts")
	scanCmd.Flags().StringVar(&scanRunnerRole, "runner-role", "", "Role name assumed in each member account")
	scanCmd.Flags().StringSliceVar(&scanAccounts, "accounts", nil, "Restrict the scan to these account IDs")
	scanCmd.Flags().StringSliceVar(&scanRegions, "regions", nil, "Restrict regional scanners to these regions")
	scanCmd.Flags().StringSliceVar(&scanScanners, "scanners", nil, "Scanner aliases to run (see 'cloudsweep scanners')")
	scanCmd.Flags().BoolVar(&scanAllRegions, "all-regions", false, "Scan every region enabled in each account")
	scanCmd.Flags().BoolVar(&scanAllScanners, "all-scanners", false, "Run every registered scanner")
	scanCmd.Flags().IntVar(&scanMaxWorkers, "max-workers", 0, "Concurrent scan tasks (default: logical CPUs - 1)")
	scanCmd.Flags().IntVar(&scanDaysThreshold, "days-threshold", 0, "Days a resource must look idle before it is reported")
	scanCmd.Flags().StringVar(&scanPolicy, "policy", "", "Rego policy file suppressing findings before reporting")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "HTML report output path")
	scanCmd.Flags().StringVar(&scanMetricsAddr, "metrics", "", "Serve Prometheus metrics on this address during the scan")
	scanCmd.Flags().BoolVar(&scanNoCost, "no-cost", false, "Skip Pricing API lookups")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadScanConfig(cmd)
	if err != nil {
		return err
	}

	telemetry.SetGlobalLevel(cfg.Log.Level)
	logger := telemetry.NewLogger("cli")

	ctx := cmd.Context()
	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "cloudsweep",
		ServiceVersion: version,
		Endpoint:       cfg.OTEL.Endpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	var group run.Group

	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		group.Add(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(error) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(stopCtx)
		})
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	group.Add(func() error {
		defer cancel()
		return sweep(sweepCtx, cfg)
	}, func(error) {
		cancel()
	})

	err = group.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.Signal.String()).Msg("interrupted")
		return nil
	}
	return err
}

// loadScanConfig loads the YAML config and overlays any flag the user set.
func loadScanConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Profile = scanProfile
	}
	if flags.Changed("organization-role") {
		cfg.OrganizationRole = scanOrgRole
	}
	if flags.Changed("runner-role") {
		cfg.RunnerRole = scanRunnerRole
	}
	if flags.Changed("accounts") {
		cfg.Accounts = scanAccounts
	}
	if flags.Changed("regions") {
		cfg.Regions = scanRegions
	}
	if flags.Changed("scanners") {
		cfg.Scanners = scanScanners
	}
	if scanAllRegions {
		cfg.Regions = nil
	}
	if flags.Changed("max-workers") {
		cfg.MaxWorkers = scanMaxWorkers
	}
	if flags.Changed("days-threshold") {
		cfg.DaysThreshold = scanDaysThreshold
	}
	if flags.Changed("policy") {
		cfg.Policy = scanPolicy
	}
	if flags.Changed("output") {
		cfg.Report.Output = scanOutput
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = scanMetricsAddr
	}
	if scanNoCost {
		cfg.Cost.Enabled = false
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if len(cfg.Scanners) == 0 && !scanAllScanners {
		return nil, fmt.Errorf("no scanners selected: pass --scanners or --all-scanners")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sweep is one full audit: assume roles, fan out scanners, suppress,
// report, upload.
func sweep(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger("cli")

	broker := session.NewBroker(session.Options{
		Profile:          cfg.Profile,
		OrganizationRole: cfg.OrganizationRole,
		RunnerRole:       cfg.RunnerRole,
		MaxWorkers:       cfg.MaxWorkers,
	})

	root, err := broker.Root(ctx)
	if err != nil {
		return err
	}

	opts := awsscanners.Options{DaysThreshold: cfg.DaysThreshold}
	if cfg.Cost.Enabled {
		estimator, err := cost.NewEstimator(root.Config(), cfg.Cost.CachePath)
		if err != nil {
			return fmt.Errorf("failed to initialize cost estimator: %w", err)
		}
		defer func() { _ = estimator.Close() }()
		opts.Costs = estimator
	}

	reg := registry.New()
	if err := awsscanners.RegisterAll(reg, opts); err != nil {
		return err
	}
	reg.Seal()

	selected := cfg.Scanners
	if scanAllScanners {
		selected = reg.List()
	}

	exec := executor.New(broker, reg, executor.Options{
		Accounts:   cfg.Accounts,
		Regions:    cfg.Regions,
		Scanners:   selected,
		MaxWorkers: cfg.MaxWorkers,
	})

	reports, metrics, err := exec.Execute(ctx)
	if err != nil {
		return err
	}

	if cfg.Policy != "" {
		suppressor, err := policy.Load(ctx, cfg.Policy)
		if err != nil {
			return fmt.Errorf("failed to load suppression policy: %w", err)
		}
		reports = suppressor.Apply(ctx, reports)
	}

	generator, err := html.NewGenerator()
	if err != nil {
		return err
	}
	err = generator.WriteFile(reports, metrics, cfg.Report.Output)
	if errors.Is(err, html.ErrNoFindings) {
		logger.Info().Msg("no findings; report skipped")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("path", cfg.Report.Output).
		Int("accounts", len(reports)).
		Float64("duration_seconds", metrics.TotalRunTime).
		Msg("report written")

	if cfg.Confluence.Enabled {
		return uploadReport(ctx, cfg, root.AccountID(), metrics)
	}
	return nil
}

func uploadReport(ctx context.Context, cfg *config.Config, accountID string, metrics types.Metrics) error {
	client := confluence.NewClient(cfg.Confluence.BaseURL, cfg.Confluence.Username, cfg.Confluence.APIToken)
	uploader := confluence.NewUploader(client, cfg.Confluence.SpaceKey, cfg.Confluence.ParentPage)

	title := fmt.Sprintf("CloudSweep %s", metrics.StartTime.Format("2006-01-02"))
	return uploader.UploadReport(ctx, title, cfg.Report.Output, accountID)
}
