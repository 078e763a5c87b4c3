package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/usecase"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export profiles, rules, firewall rules and settings as JSON",
	Long:  `Writes the configuration document to file, or to stdout when no file is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runExport),
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a configuration document",
	Long: `Replaces every section present in the document. Sections that are
absent keep their current value. The current configuration is saved as a
backup first; see 'zayproxy backup list'. An imported active profile is
never applied; run 'zayproxy enable' afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runImport),
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change preferences",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show settings as JSON",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSettingsShow),
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings; only the given flags change",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSettingsSet),
}

var pacCmd = &cobra.Command{
	Use:   "pac",
	Short: "Print a proxy auto-config script for the current rules",
	Args:  cobra.NoArgs,
	RunE:  withApp(runPAC),
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage configuration backups taken before each import",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  withApp(runBackupList),
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [name]",
	Short: "Restore a backup (default: the newest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runBackupRestore),
}

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage reconciliation at login (macOS LaunchAgent)",
}

var autostartEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Install the LaunchAgent",
	Args:  cobra.NoArgs,
	RunE:  withApp(func(a *app, cmd *cobra.Command, args []string) error { return runAutostart(a, true) }),
}

var autostartDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the LaunchAgent",
	Args:  cobra.NoArgs,
	RunE:  withApp(func(a *app, cmd *cobra.Command, args []string) error { return runAutostart(a, false) }),
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the LaunchAgent is installed",
	Args:  cobra.NoArgs,
	RunE:  withApp(runAutostartStatus),
}

var (
	setTheme              string
	setAutoStart          bool
	setPasswordProtection bool
	setAutoProxy          bool
	setMinimizeToTray     bool
)

func init() {
	f := settingsSetCmd.Flags()
	f.StringVar(&setTheme, "theme", "", "Theme: light, dark or system")
	f.BoolVar(&setAutoStart, "auto-start", false, "Reconcile the proxy at login")
	f.BoolVar(&setPasswordProtection, "password-protection", false, "Require a password in the UI")
	f.BoolVar(&setAutoProxy, "auto-proxy", false, "Route with the rule set")
	f.BoolVar(&setMinimizeToTray, "minimize-to-tray", false, "Minimize to the tray")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	autostartCmd.AddCommand(autostartEnableCmd)
	autostartCmd.AddCommand(autostartDisableCmd)
	autostartCmd.AddCommand(autostartStatusCmd)

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(pacCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(autostartCmd)
}

func runExport(a *app, cmd *cobra.Command, args []string) error {
	data, err := a.transfer.ExportJSON()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(args[0], data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[0], err)
	}
	fmt.Printf("Exported configuration to %s\n", args[0])
	return nil
}

func runImport(a *app, cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	if err := a.transfer.ImportJSON(cmd.Context(), data); err != nil {
		return err
	}
	fmt.Printf("Imported configuration from %s\n", args[0])
	return nil
}

func runSettingsShow(a *app, cmd *cobra.Command, args []string) error {
	s, err := a.settings.Get()
	if err != nil {
		return err
	}
	return printJSON(s)
}

func runSettingsSet(a *app, cmd *cobra.Command, args []string) error {
	var patch usecase.SettingsPatch
	flags := cmd.Flags()
	if flags.Changed("theme") {
		patch.Theme = &setTheme
	}
	if flags.Changed("auto-start") {
		patch.AutoStart = &setAutoStart
	}
	if flags.Changed("password-protection") {
		patch.PasswordProtection = &setPasswordProtection
	}
	if flags.Changed("auto-proxy") {
		patch.AutoProxy = &setAutoProxy
	}
	if flags.Changed("minimize-to-tray") {
		patch.MinimizeToTray = &setMinimizeToTray
	}

	s, err := a.settings.Update(patch)
	if err != nil {
		return err
	}
	if patch.AutoStart != nil {
		if err := syncAutostart(a, s.AutoStart); err != nil {
			return err
		}
	}
	return printJSON(s)
}

func runPAC(a *app, cmd *cobra.Command, args []string) error {
	script, err := a.rules.PAC()
	if err != nil {
		return err
	}
	fmt.Print(script)
	return nil
}

func runBackupList(a *app, cmd *cobra.Command, args []string) error {
	snapshots, err := a.backups.List()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Println("No backups.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tSIZE\tSHA256")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.12s\n", s.Name, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.Size, s.SHA256)
	}
	return w.Flush()
}

func runBackupRestore(a *app, cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	if err := a.transfer.Restore(cmd.Context(), name); err != nil {
		return err
	}
	if name == "" {
		name = "latest backup"
	}
	fmt.Printf("Restored %s\n", name)
	return nil
}

// syncAutostart installs or removes the LaunchAgent to match enabled.
func syncAutostart(a *app, enabled bool) error {
	if !enabled {
		if !a.launchd.IsInstalled() {
			return nil
		}
		return a.launchd.Uninstall()
	}
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	return a.launchd.Install(execPath)
}

func runAutostart(a *app, enabled bool) error {
	if err := syncAutostart(a, enabled); err != nil {
		return err
	}
	if _, err := a.settings.Update(usecase.SettingsPatch{AutoStart: &enabled}); err != nil {
		return err
	}
	a.logger.Info("autostart changed", zap.Bool("enabled", enabled))
	if enabled {
		fmt.Printf("Autostart enabled (%s)\n", a.launchd.GetPlistPath())
	} else {
		fmt.Println("Autostart disabled")
	}
	return nil
}

func runAutostartStatus(a *app, cmd *cobra.Command, args []string) error {
	s, err := a.settings.Get()
	if err != nil {
		return err
	}
	fmt.Printf("Setting:   %t\n", s.AutoStart)
	fmt.Printf("Installed: %t\n", a.launchd.IsInstalled())
	fmt.Printf("Plist:     %s\n", a.launchd.GetPlistPath())
	return nil
}
