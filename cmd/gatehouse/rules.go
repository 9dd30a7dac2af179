package main

import (
	"fmt"
	"sort"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and lint rule files",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective rule set (built-ins plus --rules layers)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := mustBuildLogger(logLevel)
		defer logger.Sync() //nolint:errcheck // best-effort flush

		rules, err := loadRuleLayers(logger)
		if err != nil {
			return err
		}
		sort.SliceStable(rules, func(i, j int) bool {
			if rules[i].Priority != rules[j].Priority {
				return rules[i].Priority > rules[j].Priority
			}
			return rules[i].Name < rules[j].Name
		})

		out := cmd.OutOrStdout()
		for _, r := range rules {
			state := ""
			if !r.Enabled {
				state = " (disabled)"
			}
			fmt.Fprintf(out, "%4d  %-28s %-10s %-8s pattern=%q%s\n",
				r.Priority, r.Name, r.Supervision, r.Risk, r.Pattern, state)
		}
		return nil
	},
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint <file>...",
	Short: "Parse rule files and report malformed entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := mustBuildLogger(logLevel)
		defer logger.Sync() //nolint:errcheck // best-effort flush

		var failed bool
		for _, path := range args {
			rules, err := policy.LoadRuleFile(path, logger)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
				failed = true
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rule(s) loaded\n", path, len(rules))
		}
		if failed {
			return fmt.Errorf("one or more rule files failed to parse")
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesLintCmd)
	rootCmd.AddCommand(rulesCmd)
}
