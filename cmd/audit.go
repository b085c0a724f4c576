package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var auditCmd = &cobra.Command{
	Use:   "audit <radicado-id>",
	Short: "Audita un radicado y genera glosas y liquidación",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rad, err := env.Auditor.Audit(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "audit radicado")
		}

		zap.L().Info("audit complete",
			zap.String("radicado", rad.Numero),
			zap.String("estado", string(rad.Estado)),
			zap.Int("glosas", len(rad.Glosas)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rad)
	},
}

var finalizarCmd = &cobra.Command{
	Use:   "finalizar <radicado-id>",
	Short: "Finaliza un radicado liquidado o con glosas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rad, err := env.Auditor.Finalizar(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "finalizar radicado")
		}

		zap.L().Info("radicado finalized", zap.String("radicado", rad.Numero))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rad)
	},
}

var rechazarMotivo string

var rechazarCmd = &cobra.Command{
	Use:   "rechazar <radicado-id>",
	Short: "Rechaza un radicado no terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rad, err := env.Auditor.Rechazar(ctx, args[0], rechazarMotivo)
		if err != nil {
			return eris.Wrap(err, "rechazar radicado")
		}

		zap.L().Info("radicado rejected", zap.String("radicado", rad.Numero))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rad)
	},
}

func init() {
	rechazarCmd.Flags().StringVar(&rechazarMotivo, "motivo", "", "motivo del rechazo (required)")
	_ = rechazarCmd.MarkFlagRequired("motivo")
	rootCmd.AddCommand(auditCmd, finalizarCmd, rechazarCmd)
}
