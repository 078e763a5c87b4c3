package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

var firewallCmd = &cobra.Command{
	Use:   "firewall",
	Short: "Manage per-application firewall rules",
}

var firewallListCmd = &cobra.Command{
	Use:   "list",
	Short: "List firewall rules",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFirewallList),
}

var firewallAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Add a rule blocking outbound traffic for an application",
	Long: `Adds a rule for the application at path. The rule is stored only;
run 'zayproxy firewall apply' to enforce it.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runFirewallAdd),
}

var firewallUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a firewall rule; only the given flags change",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runFirewallUpdate),
}

var firewallDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a firewall rule from the system and delete it",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runFirewallDelete),
}

var firewallToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip a rule between enabled and disabled",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runFirewallToggle),
}

var firewallApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply every enabled rule",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFirewallApply),
}

var firewallRemoveAllCmd = &cobra.Command{
	Use:   "remove-all",
	Short: "Remove every rule from the system, keeping the records",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFirewallRemoveAll),
}

var firewallEnableAllCmd = &cobra.Command{
	Use:   "enable-all",
	Short: "Mark every rule enabled",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFirewallEnableAll),
}

var firewallDisableAllCmd = &cobra.Command{
	Use:   "disable-all",
	Short: "Mark every rule disabled",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFirewallDisableAll),
}

var firewallStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enforcement status of every rule",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFirewallStatus),
}

var (
	fwName     string
	fwPath     string
	fwAllow    bool
	fwLog      bool
	fwDisabled bool
)

func init() {
	firewallAddCmd.Flags().BoolVar(&fwAllow, "allow", false, "Allow instead of block")
	firewallAddCmd.Flags().BoolVar(&fwLog, "log", false, "Log blocked attempts (pf only)")
	firewallAddCmd.Flags().BoolVar(&fwDisabled, "disabled", false, "Add the rule disabled")

	firewallUpdateCmd.Flags().StringVar(&fwName, "name", "", "Rule name")
	firewallUpdateCmd.Flags().StringVar(&fwPath, "path", "", "Application path")
	firewallUpdateCmd.Flags().BoolVar(&fwAllow, "allow", false, "Allow instead of block")
	firewallUpdateCmd.Flags().BoolVar(&fwLog, "log", false, "Log blocked attempts (pf only)")

	firewallCmd.AddCommand(firewallListCmd)
	firewallCmd.AddCommand(firewallAddCmd)
	firewallCmd.AddCommand(firewallUpdateCmd)
	firewallCmd.AddCommand(firewallDeleteCmd)
	firewallCmd.AddCommand(firewallToggleCmd)
	firewallCmd.AddCommand(firewallApplyCmd)
	firewallCmd.AddCommand(firewallRemoveAllCmd)
	firewallCmd.AddCommand(firewallEnableAllCmd)
	firewallCmd.AddCommand(firewallDisableAllCmd)
	firewallCmd.AddCommand(firewallStatusCmd)
	rootCmd.AddCommand(firewallCmd)
}

func runFirewallList(a *app, cmd *cobra.Command, args []string) error {
	rules, err := a.firewall.List()
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println("No firewall rules.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH\tENABLED\tACTION")
	for _, r := range rules {
		action := "block"
		if !r.Blocked {
			action = "allow"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", r.ID, r.Name, r.Path, r.Enabled, action)
	}
	return w.Flush()
}

func runFirewallAdd(a *app, cmd *cobra.Command, args []string) error {
	r := domain.NewFirewallRule(args[0], args[1])
	r.Blocked = !fwAllow
	r.LogAttempts = fwLog
	r.Enabled = !fwDisabled

	created, err := a.firewall.Add(r)
	if err != nil {
		return err
	}
	fmt.Printf("Added firewall rule %s (%s)\n", created.Name, created.ID)
	fmt.Println("Run 'zayproxy firewall apply' to enforce it.")
	return nil
}

func runFirewallUpdate(a *app, cmd *cobra.Command, args []string) error {
	r, err := a.firewall.Get(args[0])
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		r.Name = fwName
	}
	if flags.Changed("path") {
		r.Path = fwPath
	}
	if flags.Changed("allow") {
		r.Blocked = !fwAllow
	}
	if flags.Changed("log") {
		r.LogAttempts = fwLog
	}
	if _, err := a.firewall.Update(r); err != nil {
		return err
	}
	fmt.Printf("Updated firewall rule %s\n", r.ID)
	return nil
}

func runFirewallDelete(a *app, cmd *cobra.Command, args []string) error {
	if err := a.firewall.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted firewall rule %s\n", args[0])
	return nil
}

func runFirewallToggle(a *app, cmd *cobra.Command, args []string) error {
	r, err := a.firewall.Toggle(args[0])
	if err != nil {
		return err
	}
	state := "disabled"
	if r.Enabled {
		state = "enabled"
	}
	fmt.Printf("Firewall rule %s %s\n", r.Name, state)
	return nil
}

func printFirewallResult(result *domain.FirewallApplyResult) {
	for _, r := range result.Results {
		switch {
		case r.Instruction != "":
			fmt.Printf("  [%s] %s\n      run: %s\n", r.Name, r.Status, r.Instruction)
		case r.Success:
			fmt.Printf("  [%s] %s\n", r.Name, r.Status)
		case r.NeedsElevation:
			fmt.Printf("  [%s] FAILED: %s (run as administrator)\n", r.Name, r.Error)
		default:
			fmt.Printf("  [%s] FAILED: %s\n", r.Name, r.Error)
		}
	}
	fmt.Printf("%d/%d succeeded", result.AppliedCount, result.TotalCount)
	if result.ManualCount > 0 {
		fmt.Printf(", %d need a manual step", result.ManualCount)
	}
	fmt.Println()
}

func runFirewallApply(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.firewall.ApplyAll(cmd.Context())
	if err != nil {
		return err
	}
	printFirewallResult(result)
	if !result.Success() {
		return fmt.Errorf("%d firewall rule(s) failed", result.TotalCount-result.AppliedCount)
	}
	return nil
}

func runFirewallRemoveAll(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.firewall.RemoveAll(cmd.Context())
	if err != nil {
		return err
	}
	printFirewallResult(result)
	return nil
}

func runFirewallEnableAll(a *app, cmd *cobra.Command, args []string) error {
	n, err := a.firewall.EnableAll()
	if err != nil {
		return err
	}
	fmt.Printf("Enabled %d rule(s)\n", n)
	return nil
}

func runFirewallDisableAll(a *app, cmd *cobra.Command, args []string) error {
	n, err := a.firewall.DisableAll()
	if err != nil {
		return err
	}
	fmt.Printf("Disabled %d rule(s)\n", n)
	return nil
}

func runFirewallStatus(a *app, cmd *cobra.Command, args []string) error {
	status, err := a.firewall.Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Platform: %s\n", status.Platform)
	fmt.Printf("Rules: %d total, %d active, %d blocking, %d enforced, %d pending\n",
		status.Total, status.Active, status.Blocked, status.Enforced, status.Pending)
	if len(status.Rules) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPATH\tRUNNING")
	for _, r := range status.Rules {
		path := r.Path
		if !r.PathExists {
			path += " (missing)"
		}
		running := "-"
		if len(r.RunningPIDs) > 0 {
			running = fmt.Sprint(r.RunningPIDs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Status, path, running)
	}
	return w.Flush()
}
