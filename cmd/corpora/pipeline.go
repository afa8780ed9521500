package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/app"
	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core/pipeline"
	"github.com/corpora-hq/corpora/internal/logger"
)

var (
	pipelineJSON     bool
	pipelineStage    string
	pipelineDocument string
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run one ingestion pipeline pass and exit",
	Long: `Selects every document eligible for extraction, chunking or embedding
and advances each at most one stage. Intended to run from cron alongside the
HTTP continue-processing trigger.

With --stage and --document, runs that single stage for that document instead.`,
	RunE: runPipeline,
}

func init() {
	pipelineCmd.Flags().BoolVar(&pipelineJSON, "json", false, "print the run summary as JSON")
	pipelineCmd.Flags().StringVar(&pipelineStage, "stage", "", "run a single stage (extract, chunk, embed)")
	pipelineCmd.Flags().StringVar(&pipelineDocument, "document", "", "document id for --stage")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cmd.Context(), &cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if pipelineStage != "" || pipelineDocument != "" {
		if pipelineStage == "" || pipelineDocument == "" {
			return fmt.Errorf("--stage and --document must be set together")
		}
		stage, ok := pipeline.ParseStage(pipelineStage)
		if !ok {
			return fmt.Errorf("unknown stage %q", pipelineStage)
		}
		if err := a.Orchestrator.ProcessStage(cmd.Context(), stage, pipelineDocument); err != nil {
			return fmt.Errorf("%s %s: %w", stage, pipelineDocument, err)
		}
		log.Info("stage complete",
			zap.String("stage", string(stage)),
			zap.String("document_id", pipelineDocument),
		)
		return nil
	}

	summary, err := a.Orchestrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	if pipelineJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	log.Info("run summary",
		zap.Strings("extracted", summary.Extracted),
		zap.Strings("chunked", summary.Chunked),
		zap.Strings("embedded", summary.Embedded),
		zap.Int("failures", len(summary.Failures)),
	)
	for _, f := range summary.Failures {
		log.Warn("document failed",
			zap.String("document_id", f.DocumentID),
			zap.String("stage", string(f.Stage)),
			zap.String("message", f.Message),
		)
	}
	return nil
}
