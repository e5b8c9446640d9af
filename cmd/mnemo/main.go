package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/a-marczewski/mnemo/internal/app"
	"github.com/a-marczewski/mnemo/internal/assemble"
	"github.com/a-marczewski/mnemo/internal/doctor"
	"github.com/a-marczewski/mnemo/internal/logging"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/recall"
	"github.com/a-marczewski/mnemo/internal/reflect"
)

var version = "dev"

var (
	flagDataDir string
	flagUser    string
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "mnemo - long-term memory engine for AI assistants",
	Long:  `mnemo stores per-user facts, episodes and behavioral rules, retrieves them with hybrid search, and maintains them through scheduled reflection.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.mnemo)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "default", "user id")

	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(episodeCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(reflectCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func withApp(run func(ctx context.Context, a *app.App) error) error {
	a, err := app.NewApp(flagDataDir)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := logging.ContextWithLogger(context.Background(), a.Core.Logger)
	return run(ctx, a)
}

var (
	rememberContext  string
	rememberFactKey  string
	rememberStrength float64
	rememberSource   string
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store an observation about the user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			mem, err := a.Engine.Memory.Remember(ctx, flagUser, memory.Observation{
				Content:  args[0],
				Context:  rememberContext,
				FactKey:  rememberFactKey,
				Strength: rememberStrength,
				Source:   rememberSource,
			})
			if err != nil {
				return err
			}
			fmt.Printf("stored %s (confidence %.2f, evidence %d)\n", mem.ID, mem.Confidence, mem.EvidenceCount)
			return nil
		})
	},
}

var (
	recallContext string
	recallLimit   int
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Retrieve memories relevant to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			results, err := a.Engine.Recall.Recall(ctx, flagUser, recall.Query{
				Text:    args[0],
				Context: recallContext,
				Limit:   recallLimit,
			})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no matching memories")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.4f  %s  (confidence %.2f)\n", r.Score, r.Memory.Content, r.Memory.Confidence)
			}
			return nil
		})
	},
}

var contextAgent string

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Assemble prompt context for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			bundle, err := a.Engine.Assembler.Assemble(ctx, flagUser, assemble.Request{
				Query:     args[0],
				AgentType: contextAgent,
			})
			if err != nil {
				return err
			}
			stats := bundle.Stats()
			fmt.Print(bundle.Render())
			fmt.Printf("\n[%d memories, %d episodes, %d rules, ~%d tokens]\n",
				stats.Memories, stats.Episodes, stats.Rules, stats.EstimatedTokens)
			return nil
		})
	},
}

var (
	episodeAgent     string
	episodeSituation string
	episodeReasoning string
	episodeOutcome   string
	episodeFeedback  string
)

var episodeCmd = &cobra.Command{
	Use:   "episode <action>",
	Short: "Record an agent interaction episode",
	Long:  `Records an episode and notifies the reflection scheduler. When enough episodes have accumulated, a reflection pass runs immediately.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			ep := &memory.Episode{
				AgentType:    episodeAgent,
				Situation:    episodeSituation,
				Reasoning:    episodeReasoning,
				Action:       args[0],
				Outcome:      memory.Outcome(episodeOutcome),
				UserFeedback: episodeFeedback,
			}
			if err := a.Engine.Memory.RecordEpisode(ctx, flagUser, ep); err != nil {
				return err
			}
			fmt.Printf("recorded episode %s\n", ep.ID)

			trigger, err := a.Engine.Triggers.OnEpisodeSaved(ctx, flagUser)
			if err != nil {
				return err
			}
			if trigger != nil {
				return runReflection(ctx, a, *trigger)
			}
			return nil
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <episode-id>",
	Short: "Report negative feedback on an episode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			trigger, err := a.Engine.Triggers.OnNegativeFeedback(ctx, flagUser, args[0])
			if err != nil {
				return err
			}
			return runReflection(ctx, a, *trigger)
		})
	},
}

var reflectTrigger string

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Run a reflection pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			kind := reflect.TriggerKind(reflectTrigger)
			switch kind {
			case reflect.TriggerDailyIdle, reflect.TriggerWeeklyMaintenance,
				reflect.TriggerAfterEpisodes, reflect.TriggerAfterNegativeFeedback:
			default:
				return fmt.Errorf("unknown trigger %q", reflectTrigger)
			}
			return runReflection(ctx, a, reflect.Trigger{Kind: kind, FiredAt: time.Now()})
		})
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Evaluate the wall-clock schedule and reflect if due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			trigger, err := a.Engine.Triggers.Tick(ctx, flagUser, time.Now())
			if err != nil {
				return err
			}
			if trigger == nil {
				fmt.Println("nothing due")
				return nil
			}
			return runReflection(ctx, a, *trigger)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory counts and scheduler state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			memories, err := a.Engine.Memory.ListMemories(ctx, flagUser, false)
			if err != nil {
				return err
			}
			episodes, err := a.Engine.Memory.ListEpisodes(ctx, flagUser)
			if err != nil {
				return err
			}
			rules, err := a.Engine.Memory.ListRules(ctx, flagUser)
			if err != nil {
				return err
			}
			entities, err := a.Engine.Memory.ListEntities(ctx, flagUser)
			if err != nil {
				return err
			}
			state, err := a.Engine.Triggers.State(ctx, flagUser)
			if err != nil {
				return err
			}

			fmt.Printf("user: %s\n", flagUser)
			fmt.Printf("memories: %d  episodes: %d  rules: %d  entities: %d\n",
				len(memories), len(episodes), len(rules), len(entities))
			fmt.Printf("episodes since last reflection: %d\n", state.EpisodesSinceLastReflection)
			if !state.LastReflectionTime.IsZero() {
				fmt.Printf("last reflection: %s\n", state.LastReflectionTime.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run environment health checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			diag := doctor.NewRunner(a.Core.Config, a.Core.Store).RunAll(ctx)
			for _, check := range diag.Checks {
				fmt.Printf("[%s] %s: %s\n", check.Status, check.Name, check.Message)
			}
			fmt.Printf("status: %s\n", diag.Status)
			if diag.Status != "healthy" {
				return fmt.Errorf("%d issue(s) found", len(diag.Issues))
			}
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mnemo %s\n", version)
	},
}

func runReflection(ctx context.Context, a *app.App, trigger reflect.Trigger) error {
	result, err := a.Engine.Orchestrator.Reflect(ctx, flagUser, trigger)
	if err != nil {
		return err
	}
	fmt.Printf("reflection (%s): pruned %d, rules %d, invalidated %d, flagged %d, entities %d, summaries %d in %s\n",
		result.Trigger.Kind, result.Pruned, result.RulesGenerated, result.Invalidated,
		result.Flagged, result.EntitiesExtracted, result.Summaries, result.Duration.Round(time.Millisecond))
	return nil
}

func init() {
	rememberCmd.Flags().StringVar(&rememberContext, "context", "general", "fact context (e.g. dining, location)")
	rememberCmd.Flags().StringVar(&rememberFactKey, "fact-key", "", "stable key for reconciliation (e.g. home_city)")
	rememberCmd.Flags().Float64Var(&rememberStrength, "strength", 0, "evidence strength in (0,1]")
	rememberCmd.Flags().StringVar(&rememberSource, "source", "", "provenance id")

	recallCmd.Flags().StringVar(&recallContext, "context", "", "restrict to one fact context")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 0, "maximum results")

	contextCmd.Flags().StringVar(&contextAgent, "agent", "", "agent type for episodes and rules")

	episodeCmd.Flags().StringVar(&episodeAgent, "agent", "", "agent type (required)")
	episodeCmd.Flags().StringVar(&episodeSituation, "situation", "", "what the agent faced")
	episodeCmd.Flags().StringVar(&episodeReasoning, "reasoning", "", "why the action was chosen")
	episodeCmd.Flags().StringVar(&episodeOutcome, "outcome", "success", "success or failure")
	episodeCmd.Flags().StringVar(&episodeFeedback, "feedback", "", "user feedback text")
	episodeCmd.MarkFlagRequired("agent")

	reflectCmd.Flags().StringVar(&reflectTrigger, "trigger", string(reflect.TriggerDailyIdle), "trigger kind to run as")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
