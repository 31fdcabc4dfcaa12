package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/config"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/license"
	"github.com/zen-systems/modelgate/pkg/logging"
	"github.com/zen-systems/modelgate/pkg/selector"
	"github.com/zen-systems/modelgate/pkg/service"
)

var (
	configFile string
	tierFlag   string
	subject    string
	jsonOutput bool
)

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "modelgate",
		Short: "Multi-model LLM execution engine",
		Long: `Modelgate sends one request to one or more LLM providers, alone, in
	parallel or as a chain, and runs a planner/executor/reviewer workflow with
	models picked per role.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.modelgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&tierFlag, "tier", "free", "user tier (free, pro)")
	rootCmd.PersistentFlags().StringVar(&subject, "subject", "local", "subject charged for quota and usage")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the full result as JSON")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(usageCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and builds the runtime. The caller must Close it.
func setup() (*service.Runtime, zerolog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)})
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	rt, err := service.Build(cfg, logger, nil)
	if err != nil {
		return nil, logger, err
	}
	return rt, logger, nil
}

func caller() (service.Caller, error) {
	tier, err := catalog.ParseTier(tierFlag)
	if err != nil {
		return service.Caller{}, err
	}
	return service.Caller{Subject: subject, Tier: tier}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func askCmd() *cobra.Command {
	var (
		models      []string
		mode        string
		system      string
		codeFile    string
		temperature float64
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a prompt to one or more models",
		Long: `Sends the prompt to the models given with --model.

	With one model the mode defaults to single; with several it defaults to
	parallel. Use --mode chain to feed each output into the next model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.Request{
				Models:    models,
				Prompt:    args[0],
				System:    system,
				MaxTokens: maxTokens,
			}
			if mode == "" {
				req.Mode = engine.ModeSingle
				if len(models) > 1 {
					req.Mode = engine.ModeParallel
				}
			} else {
				m, err := engine.ParseMode(mode)
				if err != nil {
					return err
				}
				req.Mode = m
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}
			if codeFile != "" {
				code, err := readInput(codeFile)
				if err != nil {
					return err
				}
				req.Code = code
			}
			return execute(req)
		},
	}

	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "model id or alias (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "", "execution mode (single, parallel, chain)")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringVar(&codeFile, "code", "", "file with code context (- for stdin)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token limit")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [request.yaml]",
		Short: "Execute a request manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := engine.LoadRequest(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("tier") && req.Tier != "" {
				tierFlag = string(req.Tier)
			}
			return execute(*req)
		},
	}
}

func execute(req engine.Request) error {
	rt, _, err := setup()
	if err != nil {
		return err
	}
	defer rt.Close()

	c, err := caller()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := rt.Service.Execute(ctx, c, req)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, res)
}

func agentCmd() *cobra.Command {
	var (
		taskType   string
		preference string
		codeFile   string
	)

	cmd := &cobra.Command{
		Use:   "agent [goal]",
		Short: "Run the planner, executor and reviewer workflow",
		Long: `Picks a model for each role from the catalog, then plans, implements and
	reviews the goal. A review that asks for changes triggers one revision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := caller()
			if err != nil {
				return err
			}
			task := selector.Task{
				Goal:       args[0],
				TaskType:   selector.TaskType(taskType),
				Preference: selector.Preference(preference),
			}
			if codeFile != "" {
				if task.Code, err = readInput(codeFile); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, err := rt.Service.PlanAgentic(ctx, c, nil, task)
			if err != nil {
				return err
			}
			return printResult(os.Stdout, res)
		},
	}

	cmd.Flags().StringVar(&taskType, "task", "", "task type (code-review, refactor, debug, test, reasoning, general)")
	cmd.Flags().StringVar(&preference, "preference", "", "cost-optimized, balanced, quality-optimized or speed-optimized")
	cmd.Flags().StringVar(&codeFile, "code", "", "file with code context (- for stdin)")

	return cmd
}

func modelsCmd() *cobra.Command {
	var capability, provider string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			var tier catalog.Tier
			if cmd.Flags().Changed("tier") {
				if tier, err = catalog.ParseTier(tierFlag); err != nil {
					return err
				}
			}
			models := rt.Service.ListModels(service.ModelFilter{
				Tier:       tier,
				Capability: capability,
				Provider:   catalog.Provider(provider),
			})
			if jsonOutput {
				return writeJSON(os.Stdout, models)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOST\tSPEED\tTIERS\tCAPABILITIES\tSTATUS")
			for _, m := range models {
				status := "no key"
				if m.Available {
					status = "ready"
				}
				tiers := make([]string, len(m.Tiers))
				for i, t := range m.Tiers {
					tiers[i] = string(t)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.CostTier, m.SpeedTier, strings.Join(tiers, ","), strings.Join(m.Capabilities, ","), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&capability, "capability", "", "only models with this capability")
	cmd.Flags().StringVar(&provider, "provider", "", "only models served by this provider")
	return cmd
}

func recommendCmd() *cobra.Command {
	var (
		taskType   string
		preference string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Rank models for a task type and preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := caller()
			if err != nil {
				return err
			}
			ranked, err := rt.Service.Recommend(selector.Task{
				TaskType:   selector.TaskType(taskType),
				Preference: selector.Preference(preference),
				Tier:       c.Tier,
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(ranked) > limit {
				ranked = ranked[:limit]
			}
			if jsonOutput {
				return writeJSON(os.Stdout, ranked)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tMODEL\tSCORE\tREASONS")
			for i, r := range ranked {
				id := r.Model.ID
				if !r.Model.Available {
					id += " (no key)"
				}
				fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\n", i+1, id, r.Score, strings.Join(r.Reasons, "; "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&taskType, "task", "", "task type")
	cmd.Flags().StringVar(&preference, "preference", "", "selection preference")
	cmd.Flags().IntVar(&limit, "limit", 5, "number of models to show (0 for all)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var lifetime time.Duration

	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue a license token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			tier, err := catalog.ParseTier(tierFlag)
			if err != nil {
				return err
			}
			token, err := license.Issue(cfg.License.Secret, args[0], tier, lifetime)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&lifetime, "lifetime", license.DefaultLifetime, "token lifetime")
	return cmd
}

func usageCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage recorded for a subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			q, ok := rt.Querier()
			if !ok {
				return fmt.Errorf("ledger backend %q does not support usage queries", rt.Config.Ledger.Backend)
			}
			usage, err := q.Usage(cmd.Context(), subject, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(os.Stdout, usage)
			}
			fmt.Printf("%s since %s: %d prompt + %d completion = %d tokens\n",
				subject, time.Now().Add(-since).Format(time.RFC3339), usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look-back window")
	return cmd
}

// printResult shows the final output on w and per-call details on stderr.
func printResult(w io.Writer, res *engine.Result) error {
	if jsonOutput {
		return writeJSON(w, res)
	}

	for _, o := range res.Results {
		if o.Success {
			fmt.Fprintf(os.Stderr, "%s: ok (%d tokens, %dms)\n", callLabel(o), o.Usage.TotalTokens, o.DurationMillis)
		}
	}
	failed := res.Failed()
	for _, o := range failed {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", callLabel(o), o.Error.Kind, o.Error.Message)
		if o.Error.Hint != "" {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", o.Error.Hint)
		}
		if o.Error.Retryable {
			fmt.Fprintln(os.Stderr, "  this failure is transient; retrying may succeed")
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d calls failed\n", len(failed), len(res.Results))
	}

	switch {
	case res.Agentic != nil:
		d := res.Agentic
		fmt.Fprintf(w, "## Plan (%s)\n\n%s\n\n", d.Assignment.Planner.ModelID, d.Plan)
		fmt.Fprintf(w, "## Implementation (%s)\n\n%s\n\n", d.Assignment.Executor.ModelID, d.Implementation)
		fmt.Fprintf(w, "## Review (%s)\n\n%s\n", d.Assignment.Reviewer.ModelID, d.Review)
	case res.Mode == engine.ModeParallel:
		for _, o := range res.Results {
			if o.Success {
				fmt.Fprintf(w, "## %s\n\n%s\n\n", o.ModelID, o.Output)
			}
		}
	default:
		fmt.Fprintln(w, res.FinalOutput)
	}

	fmt.Fprintf(os.Stderr, "%d tokens, ~$%.4f, %dms\n", res.AggregateUsage.TotalTokens, res.AggregateCost.Amount, res.DurationMillis)
	if !res.Success {
		return fmt.Errorf("execution %s failed", res.ID)
	}
	return nil
}

func callLabel(o engine.CallOutcome) string {
	if o.Stage != "" {
		return o.Stage + " " + o.ModelID
	}
	return o.ModelID
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
