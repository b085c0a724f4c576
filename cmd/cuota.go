package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/tariff"
)

var (
	cuotaRegimen    string
	cuotaCategoria  string
	cuotaServicio   string
	cuotaEmbarazada bool
	cuotaDesplazado bool
	cuotaNacimiento string
)

var cuotaCmd = &cobra.Command{
	Use:   "cuota",
	Short: "Calcula la cuota moderadora para un perfil de paciente",
	Long: `Busca la fila de cuota moderadora configurada para el régimen, la
categoría de ingreso y el tipo de servicio indicados, y calcula el valor
a cobrar según el perfil del paciente y el salario mínimo vigente.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		paciente := model.PerfilPaciente{
			Regimen:          model.Regimen(cuotaRegimen),
			CategoriaIngreso: cuotaCategoria,
			Embarazada:       cuotaEmbarazada,
			Desplazado:       cuotaDesplazado,
		}
		if cuotaNacimiento != "" {
			fn, err := time.Parse("2006-01-02", cuotaNacimiento)
			if err != nil {
				return eris.Wrap(err, "fecha de nacimiento inválida, use AAAA-MM-DD")
			}
			paciente.FechaNacimiento = &fn
		}

		cuotas, err := env.Store.ListCuotas(ctx)
		if err != nil {
			return eris.Wrap(err, "listar cuotas moderadoras")
		}

		for _, c := range cuotas {
			if c.Regimen != paciente.Regimen ||
				c.CategoriaIngreso != cuotaCategoria ||
				c.TipoServicio != cuotaServicio {
				continue
			}
			valor := tariff.ModeratingFee(c, paciente, cfg.Audit.SalarioMinimo, time.Now().UTC())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Cuota model.CuotaModeradora `json:"cuota"`
				Valor float64               `json:"valor"`
			}{c, valor})
		}
		return fmt.Errorf("sin cuota configurada para %s/%s/%s",
			cuotaRegimen, cuotaCategoria, cuotaServicio)
	},
}

func init() {
	cuotaCmd.Flags().StringVar(&cuotaRegimen, "regimen", "", "régimen del paciente (CONTRIBUTIVO, SUBSIDIADO)")
	cuotaCmd.Flags().StringVar(&cuotaCategoria, "categoria", "", "categoría de ingreso (A, B, C)")
	cuotaCmd.Flags().StringVar(&cuotaServicio, "servicio", "", "tipo de servicio (p. ej. CONSULTA_MEDICINA_GENERAL)")
	cuotaCmd.Flags().BoolVar(&cuotaEmbarazada, "embarazada", false, "la paciente está embarazada")
	cuotaCmd.Flags().BoolVar(&cuotaDesplazado, "desplazado", false, "paciente en condición de desplazamiento")
	cuotaCmd.Flags().StringVar(&cuotaNacimiento, "nacimiento", "", "fecha de nacimiento (AAAA-MM-DD)")
	_ = cuotaCmd.MarkFlagRequired("regimen")
	_ = cuotaCmd.MarkFlagRequired("categoria")
	_ = cuotaCmd.MarkFlagRequired("servicio")

	rootCmd.AddCommand(cuotaCmd)
}
