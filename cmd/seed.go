package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/db"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/store"
)

var (
	seedXLSX string
	seedDemo bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Carga el tarifario de referencia y datos de demostración",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		cat := catalog.NewMemory()
		if seedXLSX != "" {
			n, err := catalog.LoadXLSX(cat, seedXLSX, catalog.XLSXOptions{})
			if err != nil {
				return eris.Wrap(err, "load tarifario workbook")
			}
			zap.L().Info("tarifario parsed", zap.String("path", seedXLSX), zap.Int("rows", n))
		} else {
			for _, t := range catalog.ISS2004Sample() {
				cat.Add(t)
			}
			zap.L().Info("using built-in ISS-2004 sample", zap.Int("rows", cat.Len()))
		}

		if ps, ok := st.(*store.PostgresStore); ok {
			if err := seedTarifas(cmd, ps, cat); err != nil {
				return err
			}
		} else {
			zap.L().Info("sqlite driver: tariff warehouse load skipped, catalog stays file-backed")
		}

		if seedDemo {
			if err := seedDemoData(cmd, st); err != nil {
				return err
			}
		}

		zap.L().Info("seed complete")
		return nil
	},
}

// seedTarifas bulk-merges the parsed schedule into the tarifas table so
// warehouse queries can join billed items against reference values.
func seedTarifas(cmd *cobra.Command, ps *store.PostgresStore, cat *catalog.MemoryCatalog) error {
	ctx := cmd.Context()

	rows := make([][]any, 0, cat.Len())
	for _, t := range cat.Tarifas() {
		rows = append(rows, []any{t.CUPS, t.Descripcion, t.Categoria, t.Valor})
	}

	n, err := db.BulkUpsert(ctx, ps.Pool(), db.UpsertConfig{
		Table:        "tarifas",
		Columns:      []string{"cups", "descripcion", "categoria", "valor"},
		ConflictKeys: []string{"cups"},
	}, rows)
	if err != nil {
		return eris.Wrap(err, "seed tarifas")
	}

	zap.L().Info("tarifas merged", zap.Int64("rows", n))
	return nil
}

// seedDemoData loads a small self-consistent reference set: one contract,
// habilitations, a moderating fee row and an authorization, enough to audit
// a demo radicado end to end.
func seedDemoData(cmd *cobra.Command, st store.Store) error {
	ctx := cmd.Context()
	hoy := time.Now().UTC()

	convenio := &model.ConvenioTarifa{
		ID:               uuid.New().String(),
		Nombre:           "Convenio demo EPS Vida Sana",
		EPSNit:           "800100200",
		TipoContrato:     "evento",
		TarifaReferencia: "ISS2004",
		FactorGlobal:     1.15,
		Multiplicadores: []model.MultiplicadorCategoria{
			{Categoria: "CIRUGIA", Factor: 1.20},
		},
		VigenciaInicio: hoy.AddDate(-1, 0, 0),
	}
	if err := st.SaveConvenio(ctx, convenio); err != nil {
		return eris.Wrap(err, "seed convenio")
	}

	for _, categoria := range []string{"CONSULTA", "CIRUGIA", "LABORATORIO"} {
		hab := &model.HabilitacionServicio{
			ID:             uuid.New().String(),
			IPSNit:         "900300400",
			Categoria:      categoria,
			VigenciaInicio: hoy.AddDate(-2, 0, 0),
		}
		if err := st.SaveHabilitacion(ctx, hab); err != nil {
			return eris.Wrap(err, "seed habilitacion")
		}
	}

	cuota := &model.CuotaModeradora{
		ID:               uuid.New().String(),
		Regimen:          model.RegimenSubsidiado,
		CategoriaIngreso: "B",
		TipoServicio:     "CONSULTA_MEDICINA_GENERAL",
		Porcentaje:       0.4,
		Exenciones:       []string{model.ExencionTodos},
	}
	if err := st.SaveCuota(ctx, cuota); err != nil {
		return eris.Wrap(err, "seed cuota moderadora")
	}

	aut := &model.Autorizacion{
		ID:     uuid.New().String(),
		Numero: "AUT20240001",
		Paciente: model.PerfilPaciente{
			TipoDocumento: "CC", NumeroDocumento: "1020304050",
		},
		Servicios: []model.ServicioAutorizado{
			{CUPS: "890201", Descripcion: "Consulta medicina general", Cantidad: 3},
		},
		Estado:           model.AutorizacionActiva,
		FechaExpedicion:  hoy.AddDate(0, -1, 0),
		FechaVencimiento: hoy.AddDate(0, 3, 0),
	}
	if err := st.SaveAutorizacion(ctx, aut); err != nil {
		return eris.Wrap(err, "seed autorizacion")
	}

	zap.L().Info("demo reference data loaded",
		zap.String("convenio", convenio.Nombre),
		zap.String("autorizacion", aut.Numero))
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&seedXLSX, "xlsx", "", "ruta del tarifario .xlsx (default: muestra ISS-2004)")
	seedCmd.Flags().BoolVar(&seedDemo, "demo", false, "carga convenio, habilitaciones y autorización de demostración")
	rootCmd.AddCommand(seedCmd)
}
