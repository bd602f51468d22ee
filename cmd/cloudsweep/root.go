package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "cloudsweep",
		Short: "Multi-account AWS idle-resource auditor",
		Long: `CloudSweep - Multi-account AWS idle-resource auditor

CloudSweep assumes a runner role in every active account of an AWS
organization, fans scanners out across all enabled regions, and reports
resources that look unused: stopped instances, unattached volumes, idle
load balancers, stale IAM roles, and more.

Findings are priced with the AWS Pricing API, rendered to an HTML report,
and optionally published to Confluence.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`CloudSweep {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
}
