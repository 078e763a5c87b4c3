package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/infra"
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Apply the active profile to the system proxy settings",
	Args:  cobra.NoArgs,
	RunE:  withApp(runEnable),
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn the system proxy off",
	Args:  cobra.NoArgs,
	RunE:  withApp(runDisable),
}

var switchCmd = &cobra.Command{
	Use:   "switch <profile-id>",
	Short: "Switch the active profile (re-applies if the proxy is enabled)",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSwitch),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy state and verify it against the system",
	Args:  cobra.NoArgs,
	RunE:  withApp(runStatus),
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-apply the active profile if the system has drifted",
	Long: `Re-applies the active profile when the stored state says the proxy is
enabled and the system settings do not match. Run at login by the autostart
LaunchAgent.`,
	Args: cobra.NoArgs,
	RunE: withApp(runReconcile),
}

var testCmd = &cobra.Command{
	Use:   "test <profile-id>",
	Short: "Test connectivity through a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runTest),
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(testCmd)
}

func printApplyResult(result *domain.ApplyResult) {
	if result == nil {
		return
	}
	fmt.Printf("Outcome: %s (platform %s)\n", result.Outcome, result.Platform)
	for _, s := range result.Steps {
		mark := "ok"
		if !s.Success {
			mark = fmt.Sprintf("FAILED (exit %d)", s.ExitCode)
		}
		fmt.Printf("  [%s] %s: %s\n", s.Target, s.Command, mark)
		if !s.Success && s.Error != "" {
			fmt.Printf("      %s\n", s.Error)
		}
	}
	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if v := result.Verification; v != nil {
		fmt.Printf("Verified %s: enabled=%t %s:%d matches=%t\n", v.Target, v.Enabled, v.Host, v.Port, v.Matches)
	}
}

func runEnable(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.orch.Enable(cmd.Context())
	printApplyResult(result)
	if err != nil {
		return err
	}
	fmt.Println("Proxy enabled")
	return nil
}

func runDisable(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.orch.Disable(cmd.Context())
	printApplyResult(result)
	if err != nil {
		return err
	}
	fmt.Println("Proxy disabled")
	return nil
}

func runSwitch(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.orch.SwitchProfile(cmd.Context(), args[0])
	printApplyResult(result)
	if err != nil {
		return err
	}
	fmt.Printf("Active profile: %s\n", args[0])
	return nil
}

func runStatus(a *app, cmd *cobra.Command, args []string) error {
	state, err := a.orch.State()
	if err != nil {
		return err
	}
	platform := infra.DetectPlatform()

	fmt.Println("\n=== zayproxy Status ===")
	fmt.Printf("Platform: %s %s (%s)\n", platform.Platform, platform.Version, platform.Arch)
	fmt.Printf("Execution mode: %s\n", a.execMode.Mode)
	fmt.Printf("Elevated: %t\n", platform.Elevated)
	fmt.Printf("Data dir: %s\n", a.dataDir)
	fmt.Printf("Store: %s\n", a.cfg.Store.Backend)

	if state.ActiveProfile == nil {
		fmt.Println("Active profile: none")
	} else {
		p := state.ActiveProfile
		fmt.Printf("Active profile: %s (%s) %s %s:%d\n", p.Name, p.ID, p.Type, p.Host, p.Port)
	}
	if !state.Enabled {
		fmt.Println("Proxy: DISABLED")
	} else {
		fmt.Println("Proxy: ENABLED")
		v, err := a.orch.Verify(cmd.Context())
		switch {
		case err != nil:
			fmt.Printf("Verification: unavailable (%v)\n", err)
		case v == nil:
			fmt.Println("Verification: unavailable")
		case v.Matches:
			fmt.Printf("Verification: OK (%s)\n", v.Target)
		default:
			fmt.Printf("Verification: DRIFTED (%s: %s)\n", v.Target, v.Detail)
		}
	}

	if a.launchd.IsInstalled() {
		fmt.Println("Auto-start: enabled")
	} else {
		fmt.Println("Auto-start: disabled")
	}
	fmt.Println("=======================")
	return nil
}

func runReconcile(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.orch.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("Nothing to do")
		return nil
	}
	printApplyResult(result)
	return nil
}

func runTest(a *app, cmd *cobra.Command, args []string) error {
	p, err := a.profiles.Get(args[0])
	if err != nil {
		return err
	}
	result := a.tester.Test(cmd.Context(), p)
	if !result.Success {
		return fmt.Errorf("connectivity test failed for %s: %s", p.Name, result.Error)
	}
	if result.EgressIP != "" {
		fmt.Printf("OK: %s reachable in %dms, egress IP %s\n", p.Name, result.LatencyMs, result.EgressIP)
	} else {
		fmt.Printf("OK: %s reachable in %dms\n", p.Name, result.LatencyMs)
	}
	return nil
}
