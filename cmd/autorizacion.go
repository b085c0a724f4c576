package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/andina-health/glosas-cli/internal/ledger"
)

var autorizacionCmd = &cobra.Command{
	Use:   "autorizacion",
	Short: "Consulta y valida autorizaciones de la EPS",
}

var autorizacionGetCmd = &cobra.Command{
	Use:   "get <numero>",
	Short: "Muestra una autorización con sus saldos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		aut, err := ledger.New(env.Store).Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get autorizacion")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(aut)
	},
}

var (
	validarCUPS     string
	validarCantidad int
)

var autorizacionValidarCmd = &cobra.Command{
	Use:   "validar <numero>",
	Short: "Verifica vigencia y saldo sin consumir cantidades",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		led := ledger.New(env.Store)
		resultado, err := led.Validar(ctx, args[0], validarCUPS, validarCantidad, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "validar autorizacion")
		}

		if resultado.Valida {
			fmt.Fprintf(os.Stdout, "Autorización %s válida para %s (disponible: %d)\n",
				args[0], validarCUPS, resultado.Disponible)
		} else {
			fmt.Fprintf(os.Stdout, "Autorización %s NO válida: %s\n", args[0], resultado.Motivo)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resultado)
	},
}

var autorizacionAnularCmd = &cobra.Command{
	Use:   "anular <numero>",
	Short: "Anula una autorización activa",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := ledger.New(env.Store).Anular(ctx, args[0]); err != nil {
			return eris.Wrap(err, "anular autorizacion")
		}
		fmt.Fprintf(os.Stdout, "Autorización %s anulada\n", args[0])
		return nil
	},
}

func init() {
	autorizacionValidarCmd.Flags().StringVar(&validarCUPS, "cups", "", "código del procedimiento (required)")
	autorizacionValidarCmd.Flags().IntVar(&validarCantidad, "cantidad", 1, "cantidad solicitada")
	_ = autorizacionValidarCmd.MarkFlagRequired("cups")

	autorizacionCmd.AddCommand(autorizacionGetCmd, autorizacionValidarCmd, autorizacionAnularCmd)
	rootCmd.AddCommand(autorizacionCmd)
}
