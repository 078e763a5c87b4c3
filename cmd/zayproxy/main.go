// Package main is the CLI entry point for zayproxy.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/zayproxy/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zayproxy",
	Short: "Proxy profile manager",
	Long: `zayproxy manages named proxy profiles, routes URLs to them with
wildcard and regex rules, applies the active profile to the system proxy
settings and blocks outbound traffic for selected applications.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Prints version, commit, and build time. Use --json for machine-readable output.
Use --check to compare with the latest published release.`,
	RunE: runVersion,
}

var (
	configPath  string
	dataDirFlag string
	storeFlag   string
	verbose     bool
	jsonOutput  bool
	checkUpdate bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default depends on execution mode)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Store backend: file or encrypted")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also log to stderr")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	versionCmd.Flags().BoolVar(&checkUpdate, "check", false, "Check for a newer release")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	if !checkUpdate {
		if jsonOutput {
			fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
				Version, Commit, BuildTime)
		} else {
			fmt.Printf("zayproxy %s (commit: %s, built: %s)\n",
				Version, Commit, BuildTime)
		}
		return nil
	}

	check, err := infra.NewReleaseChecker().Check(cmd.Context(), Version, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if jsonOutput {
		return printJSON(check)
	}
	fmt.Printf("zayproxy %s, latest release %s\n", check.Current, check.Latest)
	if !check.Available {
		fmt.Println("You are up to date.")
		return nil
	}
	fmt.Println("An update is available:")
	if check.AssetURL != "" {
		fmt.Printf("  %s\n", check.AssetURL)
	} else {
		fmt.Printf("  %s\n", check.URL)
	}
	return nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
