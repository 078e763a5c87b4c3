package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage URL routing rules",
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in match order",
	Args:  cobra.NoArgs,
	RunE:  withApp(runRuleList),
}

var ruleAddCmd = &cobra.Command{
	Use:   "add <pattern> <profile-id>",
	Short: "Add a rule routing URLs matching pattern to a profile",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(runRuleAdd),
}

var ruleUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a rule; only the given flags change",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runRuleUpdate),
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runRuleDelete),
}

var ruleTestCmd = &cobra.Command{
	Use:   "test <url>",
	Short: "Show which rule and profile a URL routes to",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runRuleTest),
}

var (
	ruleName      string
	ruleType      string
	rulePriority  int
	ruleDisabled  bool
	rulePattern   string
	ruleProfileID string
	ruleForProf   string
)

func init() {
	ruleAddCmd.Flags().StringVar(&ruleName, "name", "", "Rule name")
	ruleAddCmd.Flags().StringVar(&ruleType, "type", string(domain.MatchWildcard), "wildcard or regex")
	ruleAddCmd.Flags().IntVar(&rulePriority, "priority", 0, "Higher priority rules match first")
	ruleAddCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "Add the rule disabled")

	ruleUpdateCmd.Flags().StringVar(&ruleName, "name", "", "Rule name")
	ruleUpdateCmd.Flags().StringVar(&ruleType, "type", "", "wildcard or regex")
	ruleUpdateCmd.Flags().IntVar(&rulePriority, "priority", 0, "Higher priority rules match first")
	ruleUpdateCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "Disable the rule")
	ruleUpdateCmd.Flags().StringVar(&rulePattern, "pattern", "", "Match pattern")
	ruleUpdateCmd.Flags().StringVar(&ruleProfileID, "profile", "", "Target profile id")

	ruleListCmd.Flags().StringVar(&ruleForProf, "profile", "", "Only rules for this profile id")

	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleUpdateCmd)
	ruleCmd.AddCommand(ruleDeleteCmd)
	ruleCmd.AddCommand(ruleTestCmd)
	rootCmd.AddCommand(ruleCmd)
}

func runRuleList(a *app, cmd *cobra.Command, args []string) error {
	var (
		rules []domain.Rule
		err   error
	)
	if ruleForProf != "" {
		rules, err = a.rules.ForProfile(ruleForProf)
	} else {
		rules, err = a.rules.List()
	}
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println("No rules.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATTERN\tTYPE\tPRIORITY\tPROFILE\tENABLED")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%t\n", r.ID, r.Pattern, r.Type, r.Priority, r.ProfileID, r.Enabled)
	}
	return w.Flush()
}

func runRuleAdd(a *app, cmd *cobra.Command, args []string) error {
	r := domain.NewRule(args[0], args[1])
	r.Name = ruleName
	r.Type = domain.MatchType(ruleType)
	r.Priority = rulePriority
	r.Enabled = !ruleDisabled

	created, err := a.rules.Add(r)
	if err != nil {
		return err
	}
	fmt.Printf("Added rule %s\n", created.ID)
	return nil
}

func runRuleUpdate(a *app, cmd *cobra.Command, args []string) error {
	r, err := a.rules.Get(args[0])
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		r.Name = ruleName
	}
	if flags.Changed("type") {
		r.Type = domain.MatchType(ruleType)
	}
	if flags.Changed("priority") {
		r.Priority = rulePriority
	}
	if flags.Changed("disabled") {
		r.Enabled = !ruleDisabled
	}
	if flags.Changed("pattern") {
		r.Pattern = rulePattern
	}
	if flags.Changed("profile") {
		r.ProfileID = ruleProfileID
	}

	if _, err := a.rules.Update(r); err != nil {
		return err
	}
	fmt.Printf("Updated rule %s\n", r.ID)
	return nil
}

func runRuleDelete(a *app, cmd *cobra.Command, args []string) error {
	if err := a.rules.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted rule %s\n", args[0])
	return nil
}

func runRuleTest(a *app, cmd *cobra.Command, args []string) error {
	result, err := a.rules.Test(args[0])
	if err != nil {
		return err
	}
	if !result.Matched {
		fmt.Printf("%s -> DIRECT (no rule matched)\n", args[0])
		return nil
	}
	via := result.ProxyURL
	if via == "" {
		via = "DIRECT (bypassed)"
	}
	fmt.Printf("%s -> rule %s, profile %s, via %s\n", args[0], result.RuleID, result.ProfileID, via)
	return nil
}
