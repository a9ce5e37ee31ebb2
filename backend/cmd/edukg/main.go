// Package main provides the edukg command line for running pipeline stages
// one at a time or as a full cycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/graph"
	"edukg/backend/internal/pipeline"
	"edukg/backend/pkg/config"
	"edukg/backend/pkg/logger"
)

type app struct {
	cfg        *config.Config
	store      graph.Store
	closeStore func() error
	pipeline   *pipeline.Pipeline
	log        *zap.Logger
	out        io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var a app
	var storeFlag, modeFlag string

	rootCmd := &cobra.Command{
		Use:           "edukg",
		Short:         "EduKG knowledge graph and module recommender",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if storeFlag != "" {
				cfg.StoreBackend = storeFlag
			}
			if modeFlag != "" {
				cfg.MergeMode = modeFlag
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.out = cmd.OutOrStdout()
			return a.open(cmd.Context(), cfg)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			logger.Sync()
			if a.closeStore != nil {
				return a.closeStore()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Graph store backend (neo4j, memory)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Merge mode (binary, intersection)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "mastery",
		Short: "Compute quiz and module mastery tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(a.pipeline.Mastery(cmd.Context()))
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build the graph working set and write nodes, edges and triples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(a.pipeline.Build(a.pipeline.NewCycle()))
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Build and import the working set into the graph store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(a.pipeline.Import(cmd.Context(), a.pipeline.NewCycle()))
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "embed-modules",
		Short: "Store module embeddings from a file or the embeddings service",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.prepare(cmd.Context(), 1)
			if err != nil {
				return err
			}
			n, skipped, err := a.pipeline.EmbedModules(cmd.Context(), c)
			return a.print(map[string]any{"updated": n, "skipped": skipped}, err)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "aggregate",
		Short: "Recompute student embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.prepare(cmd.Context(), 2)
			if err != nil {
				return err
			}
			return a.print(a.pipeline.Aggregate(cmd.Context(), c))
		},
	})

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend the next module for one student or all students",
		RunE: func(cmd *cobra.Command, args []string) error {
			student, _ := cmd.Flags().GetString("student")
			topK, _ := cmd.Flags().GetInt("topk")

			c, err := a.prepare(cmd.Context(), 3)
			if err != nil {
				return err
			}
			if student != "" {
				return a.print(a.pipeline.Recommend(cmd.Context(), student, topK, a.cfg.MergeMode))
			}
			if topK > 0 {
				a.cfg.TopK = topK
			}
			return a.print(a.pipeline.RecommendAll(cmd.Context(), c))
		},
	}
	recommendCmd.Flags().String("student", "", "Student id (all students when empty)")
	recommendCmd.Flags().Int("topk", 0, "Number of candidates (config default when 0)")
	rootCmd.AddCommand(recommendCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "extract-competencies",
		Short: "Extract module competencies from lesson bodies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(a.pipeline.ExtractCompetencies(cmd.Context()))
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "map-skills",
		Short: "Classify competency domains and map modules to skill groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.prepare(cmd.Context(), 1); err != nil {
				return err
			}
			return a.print(a.pipeline.MapSkills(cmd.Context()))
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run a full pipeline cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(a.pipeline.Run(cmd.Context(), func(stage string, percent int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", percent, stage)
			}))
		},
	})

	return rootCmd
}

func (a *app) open(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.log = logger.Get()

	store, closeStore, err := graph.Open(ctx, cfg)
	if err != nil {
		return err
	}
	a.store = store
	a.closeStore = closeStore

	var opts []pipeline.Option
	if cfg.LiteLLMURL != "" && cfg.ModelID != "" {
		llm := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.APIKey, cfg.ModelID, cfg.EmbeddingModel)
		opts = append(opts, pipeline.WithCompleter(llm), pipeline.WithEmbedder(llm))
	}
	a.pipeline = pipeline.New(cfg, store, logger.Named("pipeline"), opts...)
	return nil
}

// prepare starts a cycle. The in-memory store starts empty on every
// invocation, so the first depth stages (import, embed-modules, aggregate)
// are replayed into it before the requested one.
func (a *app) prepare(ctx context.Context, depth int) (*pipeline.Cycle, error) {
	c := a.pipeline.NewCycle()
	if a.cfg.StoreBackend != config.StoreMemory {
		return c, nil
	}
	a.log.Info("In-memory store, replaying earlier stages", zap.Int("stages", depth))
	if _, err := a.pipeline.Import(ctx, c); err != nil {
		return nil, err
	}
	if depth > 1 {
		if _, _, err := a.pipeline.EmbedModules(ctx, c); err != nil {
			return nil, err
		}
	}
	if depth > 2 {
		if _, err := a.pipeline.Aggregate(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// print writes v as indented JSON unless err is set
func (a *app) print(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
