package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// withApp wires the application for one command and closes it afterwards.
func withApp(run func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(a, cmd, args)
	}
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage proxy profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE:  withApp(runProfileList),
}

var profileShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runProfileShow),
}

var profileAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a profile",
	Args:  cobra.NoArgs,
	RunE:  withApp(runProfileAdd),
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a profile; only the given flags change",
	Long: `Updates a profile. Flags that are not given keep their current value.
If the profile is the active profile and the proxy is enabled, the new
settings are applied to the system immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runProfileUpdate),
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a profile (disables the proxy first if it is active)",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runProfileDelete),
}

var profileUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a profile active (same as switch)",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSwitch),
}

var (
	profileName     string
	profileType     string
	profileHost     string
	profilePort     int
	profileUsername string
	profilePassword string
	profileBypass   []string
	profilePACURL   string
)

func addProfileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&profileName, "name", "", "Profile name")
	cmd.Flags().StringVar(&profileType, "type", string(domain.ProfileHTTP), "HTTP, HTTPS, SOCKS4, SOCKS5 or PAC")
	cmd.Flags().StringVar(&profileHost, "host", "", "Proxy host")
	cmd.Flags().IntVar(&profilePort, "port", 0, "Proxy port (1-65535)")
	cmd.Flags().StringVar(&profileUsername, "username", "", "Proxy username")
	cmd.Flags().StringVar(&profilePassword, "password", "", "Proxy password")
	cmd.Flags().StringSliceVar(&profileBypass, "bypass", nil, "Hosts that bypass the proxy (repeatable)")
	cmd.Flags().StringVar(&profilePACURL, "pac-url", "", "PAC script URL (PAC profiles)")
}

func init() {
	addProfileFlags(profileAddCmd)
	addProfileFlags(profileUpdateCmd)

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileUpdateCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	profileCmd.AddCommand(profileUseCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileList(a *app, cmd *cobra.Command, args []string) error {
	profiles, err := a.profiles.List()
	if err != nil {
		return err
	}
	state, err := a.orch.State()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles. Add one with 'zayproxy profile add'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tTYPE\tADDRESS")
	for _, p := range profiles {
		marker := ""
		if p.ID == state.ActiveProfileID() {
			marker = "*"
			if state.Enabled {
				marker = "ON"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s:%d\n", marker, p.ID, p.Name, p.Type, p.Host, p.Port)
	}
	return w.Flush()
}

func runProfileShow(a *app, cmd *cobra.Command, args []string) error {
	p, err := a.profiles.Get(args[0])
	if err != nil {
		return err
	}
	if p.Password != "" {
		p.Password = "********"
	}
	return printJSON(p)
}

func runProfileAdd(a *app, cmd *cobra.Command, args []string) error {
	p := domain.Profile{
		Name:       profileName,
		Type:       domain.ProfileType(strings.ToUpper(profileType)),
		Host:       profileHost,
		Port:       profilePort,
		Username:   profileUsername,
		Password:   profilePassword,
		BypassList: profileBypass,
		PACURL:     profilePACURL,
	}
	created, err := a.profiles.Add(p)
	if err != nil {
		return err
	}
	fmt.Printf("Added profile %s (%s)\n", created.Name, created.ID)
	return nil
}

func runProfileUpdate(a *app, cmd *cobra.Command, args []string) error {
	p, err := a.profiles.Get(args[0])
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		p.Name = profileName
	}
	if flags.Changed("type") {
		p.Type = domain.ProfileType(strings.ToUpper(profileType))
	}
	if flags.Changed("host") {
		p.Host = profileHost
	}
	if flags.Changed("port") {
		p.Port = profilePort
	}
	if flags.Changed("username") {
		p.Username = profileUsername
	}
	if flags.Changed("password") {
		p.Password = profilePassword
	}
	if flags.Changed("bypass") {
		p.BypassList = profileBypass
	}
	if flags.Changed("pac-url") {
		p.PACURL = profilePACURL
	}

	updated, result, err := a.orch.UpdateProfile(cmd.Context(), p)
	if err != nil {
		printApplyResult(result)
		return err
	}
	fmt.Printf("Updated profile %s (%s)\n", updated.Name, updated.ID)
	if result != nil {
		fmt.Println("Active profile re-applied:")
		printApplyResult(result)
	}
	return nil
}

func runProfileDelete(a *app, cmd *cobra.Command, args []string) error {
	if err := a.orch.DeleteProfile(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %s\n", args[0])
	return nil
}
