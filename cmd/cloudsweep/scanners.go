package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emptyset-io/cloudsweep/registry"
	awsscanners "github.com/emptyset-io/cloudsweep/scanners/aws"
)

// scannersCmd lists the registered scanners
var scannersCmd = &cobra.Command{
	Use:   "scanners",
	Short: "List available scanners",
	Long: `List every registered scanner with its alias, label, and scope.

Aliases are what the scan command's --scanners flag accepts. Global
scanners run once per account; regional scanners run once per enabled
region.`,
	RunE: runScanners,
}

func init() {
	rootCmd.AddCommand(scannersCmd)
}

func runScanners(cmd *cobra.Command, args []string) error {
	reg := registry.New()
	if err := awsscanners.RegisterAll(reg, awsscanners.Options{}); err != nil {
		return err
	}
	reg.Seal()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tLABEL\tSCOPE")
	for _, alias := range reg.List() {
		s, err := reg.Resolve(alias)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Alias(), s.Label(), s.Scope())
	}
	return w.Flush()
}
