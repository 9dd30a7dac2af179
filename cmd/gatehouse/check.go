package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/ridgeline-ai/gatehouse/audit"
	"github.com/ridgeline-ai/gatehouse/gate"
	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
	"github.com/ridgeline-ai/gatehouse/safety/checkers"
	"github.com/ridgeline-ai/gatehouse/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	checkParams []string
	checkAgent  string
	checkUser   string
	dryRun      bool
)

var checkCmd = &cobra.Command{
	Use:   "check <tool-name>",
	Short: "Evaluate and gate a single tool call",
	Long: `check builds the full gating stack in-process, evaluates the tool call
against the loaded rules, runs the selected safety checks, prompts on
stdin when confirmation is required, and runs a no-op handler that
echoes the (possibly modified) parameters.

With --dry-run only the policy decision is printed; nothing executes.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringArrayVarP(&checkParams, "param", "p", nil, "Tool parameter as key=value (repeatable)")
	checkCmd.Flags().StringVar(&checkAgent, "agent", "", "Requesting agent name")
	checkCmd.Flags().StringVar(&checkUser, "user", "", "User id recorded in the audit trail")
	checkCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the policy decision without executing")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := mustBuildLogger(logLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	toolName := args[0]
	params, err := parseParams(checkParams)
	if err != nil {
		return err
	}

	var db *sql.DB
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		db, err = store.Open(cmd.Context(), dsn)
		if err != nil {
			logger.Warn("postgres connection failed, using file sources only", zap.Error(err))
			db = nil
		} else {
			defer db.Close() //nolint:errcheck
		}
	}

	rules, err := loadRuleLayers(logger)
	if err != nil {
		return err
	}
	if db != nil {
		source := store.NewPostgresRuleSource(store.PostgresRuleSourceConfig{DB: db, Logger: logger})
		dbRules, err := source.Load(cmd.Context())
		if err != nil {
			logger.Warn("skipping database rule layer", zap.Error(err))
		} else {
			rules = policy.MergeRules(rules, dbRules)
		}
	}

	prefs, err := loadPreferences(logger)
	if err != nil {
		return err
	}
	if prefs == nil && db != nil && checkUser != "" {
		source := store.NewPostgresPreferenceSource(store.PostgresPreferenceSourceConfig{DB: db, Logger: logger})
		prefs, err = source.Get(cmd.Context(), checkUser)
		if err != nil {
			logger.Warn("skipping database preferences", zap.Error(err))
			prefs = nil
		}
	}

	engine := policy.NewEngine(policy.EngineConfig{
		Rules:       rules,
		Preferences: prefs,
		Logger:      logger,
	})

	if dryRun {
		call := &policy.ToolCall{Name: toolName, Parameters: params, AgentName: checkAgent}
		printDecision(cmd, engine.Evaluate(call))
		return nil
	}

	registry := safety.NewRegistry()
	checkers.RegisterBuiltins(registry)

	var tracker *gate.Tracker
	tracker = gate.NewTracker(gate.TrackerConfig{
		Logger: logger,
		Callbacks: gate.Callbacks{
			OnConfirmationRequired: func(info gate.ExecutionInfo, decision *policy.Decision) {
				promptConfirmation(tracker, info, decision)
			},
		},
	})
	checkers.RegisterRateLimit(registry, tracker)

	var sink audit.Sink
	if dsn := os.Getenv("CLICKHOUSE_DSN"); dsn != "" {
		chSink, err := audit.NewClickHouseSink(dsn, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log sink", zap.Error(err))
			sink = audit.NewLogSink(logger)
		} else {
			sink = chSink
		}
	} else {
		sink = audit.NewLogSink(logger)
	}
	defer sink.Close()

	coordinator := gate.NewCoordinator(gate.Config{
		Engine:          engine,
		Pipeline:        safety.NewPipeline(registry, logger),
		Tracker:         tracker,
		Sink:            sink,
		OverrideHandler: promptOverride,
		Logger:          logger,
	})

	result := coordinator.Execute(context.Background(), toolName, params,
		policy.ExecutionContext{UserID: checkUser, AgentName: checkAgent},
		func(_ context.Context, p map[string]any) (any, error) {
			return fmt.Sprintf("would execute %s with %v", toolName, p), nil
		},
	)

	if result.Success {
		fmt.Fprintf(cmd.OutOrStdout(), "OK (%s): %v\n", result.Duration.Round(0), result.Result)
		return nil
	}
	return fmt.Errorf("%s: %s", result.ErrorKind, result.Error)
}

// promptConfirmation resolves the confirmation gate from stdin. The
// tracker fires the callback outside its lock, so calling Confirm or
// Cancel from here is safe; the resolved value waits in the gate until
// the coordinator consumes it.
func promptConfirmation(tracker *gate.Tracker, info gate.ExecutionInfo, decision *policy.Decision) {
	fmt.Fprintln(os.Stderr, decision.ConfirmationMessage)
	fmt.Fprint(os.Stderr, "Proceed? [y/N]: ")
	if readYes() {
		tracker.Confirm(info.ID)
	} else {
		tracker.Cancel(info.ID)
	}
}

func promptOverride(_ context.Context, _ gate.ExecutionInfo, pr *safety.PipelineResult) bool {
	fmt.Fprintln(os.Stderr, "Safety warnings:")
	for _, w := range pr.Warnings {
		fmt.Fprintf(os.Stderr, "  - %s\n", w)
	}
	fmt.Fprintf(os.Stderr, "Override and continue (%s)? [y/N]: ", pr.RiskBand())
	return readYes()
}

func readYes() bool {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printDecision(cmd *cobra.Command, d *policy.Decision) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "allowed:      %t\n", d.Allowed)
	fmt.Fprintf(out, "supervision:  %s\n", d.Supervision)
	fmt.Fprintf(out, "risk:         %s\n", d.Risk)
	if d.Reason != "" {
		fmt.Fprintf(out, "reason:       %s\n", d.Reason)
	}
	if len(d.SafetyChecks) > 0 {
		names := make([]string, len(d.SafetyChecks))
		for i, c := range d.SafetyChecks {
			names[i] = c.Name
		}
		fmt.Fprintf(out, "checks:       %s\n", strings.Join(names, ", "))
	}
	if d.RequiresConfirmation {
		fmt.Fprintf(out, "confirmation: required\n")
	}
}

func parseParams(kvs []string) (map[string]any, error) {
	params := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", kv)
		}
		params[key] = value
	}
	return params, nil
}

func loadRuleLayers(logger *zap.Logger) ([]policy.Rule, error) {
	layers := [][]policy.Rule{policy.BuiltinRules(logger)}
	for _, path := range ruleFiles {
		rules, err := policy.LoadRuleFile(path, logger)
		if err != nil {
			// A bad rule source is skipped, never fatal.
			logger.Warn("skipping rule file", zap.String("path", path), zap.Error(err))
			continue
		}
		layers = append(layers, rules)
	}
	return policy.MergeRules(layers...), nil
}

func loadPreferences(logger *zap.Logger) (*policy.Preferences, error) {
	if prefsFile == "" {
		return nil, nil
	}
	prefs, err := policy.LoadPreferences(prefsFile, logger)
	if err != nil {
		logger.Warn("skipping preference file", zap.String("path", prefsFile), zap.Error(err))
		return nil, nil
	}
	return prefs, nil
}
