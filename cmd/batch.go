package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/pipeline"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Audita todos los radicados pendientes con concurrencia acotada",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Batch.MaxConcurrentRadicados
		}

		result, err := env.Auditor.AuditBatch(ctx, pipeline.BatchConfig{
			Concurrency: concurrency,
			MaxRetries:  cfg.Batch.MaxRetries,
			Backoff:     time.Duration(cfg.Batch.BackoffSecs) * time.Second,
		})
		if err != nil {
			return eris.Wrap(err, "audit batch")
		}

		zap.L().Info("batch complete",
			zap.Int("total", result.Total),
			zap.Int("liquidados", result.Liquidados),
			zap.Int("con_glosas", result.ConGlosas),
			zap.Int("rechazados", result.Rechazados),
			zap.Int("fallidos", len(result.Fallidos)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent radicados (default from config)")
	rootCmd.AddCommand(batchCmd)
}
