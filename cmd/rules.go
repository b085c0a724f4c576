package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/andina-health/glosas-cli/internal/model"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Administra las reglas personalizadas de auditoría",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lista las reglas en orden de aplicación",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reglas, err := repo.List(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reglas)
	},
}

var (
	ruleNombre      string
	ruleDescripcion string
	ruleTipo        string
	rulePrioridad   int
	ruleActiva      bool
)

var rulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Crea una regla a partir de su descripción en lenguaje natural",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		regla, err := repo.Create(ctx, ruleNombre, ruleDescripcion, model.TipoRegla(ruleTipo), rulePrioridad)
		if err != nil {
			return eris.Wrap(err, "create regla")
		}

		if regla.Valida() {
			fmt.Fprintf(os.Stdout, "Regla %s creada y lista para aplicarse\n", regla.ID)
		} else {
			fmt.Fprintf(os.Stdout, "Regla %s creada pero su interpretación no es aplicable todavía\n", regla.ID)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(regla)
	},
}

var rulesUpdateCmd = &cobra.Command{
	Use:   "update <regla-id>",
	Short: "Edita una regla; reinterpretada solo si cambia la descripción o el tipo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		regla, err := repo.Update(ctx, args[0], ruleNombre, ruleDescripcion, model.TipoRegla(ruleTipo), rulePrioridad, ruleActiva)
		if err != nil {
			return eris.Wrap(err, "update regla")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(regla)
	},
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle <regla-id>",
	Short: "Activa o desactiva una regla sin tocar su interpretación",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		regla, err := repo.Activar(ctx, args[0], ruleActiva)
		if err != nil {
			return eris.Wrap(err, "toggle regla")
		}

		fmt.Fprintf(os.Stdout, "Regla %s activa=%t\n", regla.ID, regla.Activa)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <regla-id>",
	Short: "Elimina una regla",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := repo.Delete(ctx, args[0]); err != nil {
			return eris.Wrap(err, "delete regla")
		}
		fmt.Fprintf(os.Stdout, "Regla %s eliminada\n", args[0])
		return nil
	},
}

var rulesPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Interpreta una descripción sin guardar nada",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		interp, aplicable, err := repo.Preview(ctx, ruleDescripcion, model.TipoRegla(ruleTipo))
		if err != nil {
			return eris.Wrap(err, "preview regla")
		}

		out := struct {
			Interpretacion *model.Interpretacion `json:"interpretacion"`
			Aplicable      bool                  `json:"aplicable"`
		}{interp, aplicable}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var rulesStatsCmd = &cobra.Command{
	Use:   "stats <regla-id>",
	Short: "Muestra las estadísticas de uso de una regla",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, st, err := initRules(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := repo.Estadisticas(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "estadisticas regla")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	for _, c := range []*cobra.Command{rulesCreateCmd, rulesUpdateCmd} {
		c.Flags().StringVar(&ruleNombre, "nombre", "", "nombre de la regla (required)")
		c.Flags().StringVar(&ruleDescripcion, "descripcion", "", "descripción en lenguaje natural (required)")
		c.Flags().StringVar(&ruleTipo, "tipo", string(model.ReglaGeneral), "tipo: glosa|authorization|value|date|service|general")
		c.Flags().IntVar(&rulePrioridad, "prioridad", 0, "prioridad de aplicación (menor primero)")
		_ = c.MarkFlagRequired("nombre")
		_ = c.MarkFlagRequired("descripcion")
	}
	rulesUpdateCmd.Flags().BoolVar(&ruleActiva, "activa", true, "regla activa")
	rulesToggleCmd.Flags().BoolVar(&ruleActiva, "activa", true, "regla activa")
	rulesPreviewCmd.Flags().StringVar(&ruleDescripcion, "descripcion", "", "descripción a interpretar (required)")
	rulesPreviewCmd.Flags().StringVar(&ruleTipo, "tipo", string(model.ReglaGeneral), "tipo declarado")
	_ = rulesPreviewCmd.MarkFlagRequired("descripcion")

	rulesCmd.AddCommand(rulesListCmd, rulesCreateCmd, rulesUpdateCmd, rulesToggleCmd, rulesDeleteCmd, rulesPreviewCmd, rulesStatsCmd)
	rootCmd.AddCommand(rulesCmd)
}
