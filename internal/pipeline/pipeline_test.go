package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/glosa"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/store"
)

var hoy = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestAuditor(t *testing.T, s *store.SQLiteStore) *Auditor {
	t.Helper()
	cat := catalog.NewMemory()
	cat.Add(catalog.Tarifa{CUPS: "890201", Descripcion: "Consulta medicina general", Categoria: "CONSULTA", Valor: 54000})
	cat.Add(catalog.Tarifa{CUPS: "873101", Descripcion: "Colecistectomía", Categoria: "CIRUGIA", Valor: 1200000})

	a := New(s, cat)
	a.nowFunc = func() time.Time { return hoy }
	return a
}

func sembrarReferencia(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveHabilitacion(ctx, &model.HabilitacionServicio{
		ID: "hab-1", IPSNit: "900300400", Categoria: "CONSULTA",
		VigenciaInicio: hoy.AddDate(-2, 0, 0),
	}))
	require.NoError(t, s.SaveAutorizacion(ctx, &model.Autorizacion{
		ID:     "aut-1",
		Numero: "AUT-001",
		Paciente: model.PerfilPaciente{
			TipoDocumento: "CC", NumeroDocumento: "1020304050",
		},
		Servicios: []model.ServicioAutorizado{
			{CUPS: "890201", Cantidad: 2},
		},
		Estado:           model.AutorizacionActiva,
		FechaExpedicion:  hoy.AddDate(0, -1, 0),
		FechaVencimiento: hoy.AddDate(0, 2, 0),
	}))
}

func radicadoCompleto() *model.Radicado {
	return &model.Radicado{
		ID:        "rad-1",
		Numero:    "RAD-2026-001",
		IPSNit:    "900300400",
		EPSNit:    "800100200",
		EPSNombre: "EPS Salud Total",
		Paciente: model.PerfilPaciente{
			TipoDocumento: "CC", NumeroDocumento: "1020304050", Nombre: "Ana Pérez",
			Regimen: model.RegimenContributivo,
		},
		Documentos: []model.DocumentoAdjunto{
			{Tipo: model.DocumentoFactura, NombreOriginal: "factura.pdf", Procesado: true},
		},
		Items: []model.ItemFactura{
			{
				ID: "i1", CUPS: "890201", Descripcion: "Consulta", Cantidad: 1,
				ValorUnitario: 54000, ValorTotal: 54000,
				FechaServicio:        hoy.AddDate(0, 0, -5),
				DiagnosticoPrincipal: "J00",
				NumeroAutorizacion:   "AUT-001",
				Categoria:            "Consulta",
			},
		},
		Estado:    model.EstadoPendiente,
		CreatedAt: hoy,
		UpdatedAt: hoy,
	}
}

func TestAuditRadicadoLimpioLiquidado(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))

	rad, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoLiquidado, rad.Estado)
	assert.Empty(t, rad.Glosas)
	require.NotNil(t, rad.Liquidacion)
	assert.InDelta(t, 54000, rad.Liquidacion.ValorAPagar, 0.01)
	assert.InDelta(t, 0, rad.Liquidacion.ValorGlosado, 0.01)

	persistido, err := s.GetRadicado(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoLiquidado, persistido.Estado)
	assert.Equal(t, 1, persistido.Version)
	assert.NotEmpty(t, persistido.Validaciones)
}

func TestAuditConsumeAutorizacionSoloEnPrimeraPasada(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))

	_, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)

	aut, err := s.GetAutorizacion(ctx, "AUT-001")
	require.NoError(t, err)
	require.NotNil(t, aut)
	assert.Equal(t, 1, aut.Servicios[0].CantidadUsada)

	// Re-auditing must not debit the budget again.
	rad, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoLiquidado, rad.Estado)

	aut, err = s.GetAutorizacion(ctx, "AUT-001")
	require.NoError(t, err)
	assert.Equal(t, 1, aut.Servicios[0].CantidadUsada)
}

func TestAuditResuelveContratoALaFechaDeServicio(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	// Pacted value covering the service date, lapsed two days before the
	// audit runs. Billing exactly the pacted value must not raise glosas
	// even though the reference tariff says 54,000.
	fin := hoy.AddDate(0, 0, -2)
	require.NoError(t, s.SaveConvenio(ctx, &model.ConvenioTarifa{
		ID:             "conv-vencido",
		EPSNit:         "800100200",
		FactorGlobal:   1.0,
		VigenciaInicio: hoy.AddDate(-1, 0, 0),
		VigenciaFin:    &fin,
		ValoresPactados: []model.ValorPactado{
			{CUPS: "890201", Valor: 60000, VigenciaInicio: hoy.AddDate(-1, 0, 0)},
		},
	}))
	rad := radicadoCompleto()
	rad.Items[0].ValorUnitario = 60000
	rad.Items[0].ValorTotal = 60000
	require.NoError(t, s.CreateRadicado(ctx, rad))

	rad, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoLiquidado, rad.Estado)
	assert.Empty(t, rad.Glosas)
	assert.Equal(t, 60000.0, rad.Liquidacion.ValorAPagar)
}

func TestAuditSinAutorizacionGeneraGlosa(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	rad := radicadoCompleto()
	rad.Items[0].NumeroAutorizacion = ""
	require.NoError(t, s.CreateRadicado(ctx, rad))

	out, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoConGlosas, out.Estado)

	codigos := make([]string, 0, len(out.Glosas))
	for _, g := range out.Glosas {
		codigos = append(codigos, g.Codigo)
	}
	assert.Contains(t, codigos, glosa.CodigoSinAutorizacion)
	require.NotNil(t, out.Liquidacion)
	assert.Greater(t, out.Liquidacion.ValorGlosado, 0.0)
	assert.Less(t, out.Liquidacion.ValorAPagar, rad.Items[0].ValorTotal)
}

func TestAuditReAuditadoEsIdempotente(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveRegla(ctx, &model.Regla{
		ID: "reg-1", Nombre: "suprimir menores", Activa: true, Prioridad: 10,
		Interpretacion: &model.Interpretacion{
			Accion:    model.Accion{Kind: model.AccionSuprimirGlosaBajo, Umbral: 100000},
			Confianza: 90,
		},
		CreatedAt: hoy,
	}))

	// Without an authorization number the item draws a glosa, which the
	// rule then suppresses.
	rad := radicadoCompleto()
	rad.Items[0].NumeroAutorizacion = ""
	require.NoError(t, s.CreateRadicado(ctx, rad))

	primera, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	statsPrimera, err := s.EstadisticasRegla(ctx, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, statsPrimera.VecesAplicada)

	segunda, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)

	// An unchanged radicado re-audits to the same verdicts, the same
	// settlement and zero usage delta.
	assert.Equal(t, primera.Estado, segunda.Estado)
	assert.Len(t, segunda.Glosas, len(primera.Glosas))
	assert.Equal(t, primera.Liquidacion.ValorGlosado, segunda.Liquidacion.ValorGlosado)
	assert.Equal(t, primera.Liquidacion.ValorAPagar, segunda.Liquidacion.ValorAPagar)

	statsSegunda, err := s.EstadisticasRegla(ctx, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, statsPrimera.VecesAplicada, statsSegunda.VecesAplicada)
	assert.Equal(t, statsPrimera.ValorAfectado, statsSegunda.ValorAfectado)
	assert.Equal(t, statsPrimera.GlosasEvitadas, statsSegunda.GlosasEvitadas)
}

func TestAuditMarcaAutorizacionVencida(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveAutorizacion(ctx, &model.Autorizacion{
		ID: "aut-2", Numero: "AUT-002",
		Servicios:        []model.ServicioAutorizado{{CUPS: "890201", Cantidad: 1}},
		Estado:           model.AutorizacionActiva,
		FechaExpedicion:  hoy.AddDate(0, -3, 0),
		FechaVencimiento: hoy.AddDate(0, -1, 0),
	}))

	rad := radicadoCompleto()
	rad.Items[0].NumeroAutorizacion = "AUT-002"
	require.NoError(t, s.CreateRadicado(ctx, rad))

	out, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoConGlosas, out.Estado)

	aut, err := s.GetAutorizacion(ctx, "AUT-002")
	require.NoError(t, err)
	assert.Equal(t, model.AutorizacionVencida, aut.Estado)
}

func TestAuditRechazaDocumentacionIncompleta(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	ctx := context.Background()

	rad := radicadoCompleto()
	rad.Documentos = []model.DocumentoAdjunto{
		{Tipo: model.DocumentoFactura, NombreOriginal: "factura.pdf", Procesado: false},
	}
	require.NoError(t, s.CreateRadicado(ctx, rad))

	out, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoRechazado, out.Estado)
	assert.Contains(t, out.Observaciones, "documentación")
	assert.Empty(t, out.Glosas)
}

func TestAuditRadicadoInexistente(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)

	_, err := a.Audit(context.Background(), "no-existe")
	assert.ErrorIs(t, err, ErrRadicadoNoEncontrado)
}

func TestAuditRadicadoRechazadoFalla(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	ctx := context.Background()

	rad := radicadoCompleto()
	rad.Estado = model.EstadoRechazado
	require.NoError(t, s.CreateRadicado(ctx, rad))

	_, err := a.Audit(ctx, "rad-1")
	assert.ErrorIs(t, err, ErrRadicadoRechazado)
}

func TestFinalizarDesdeLiquidado(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))
	_, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)

	out, err := a.Finalizar(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoFinalizado, out.Estado)
	assert.True(t, out.ExcelGenerado)

	persistido, err := s.GetRadicado(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoFinalizado, persistido.Estado)
}

func TestAuditSobreFinalizadoConservaEstadoYExportacion(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))
	_, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	_, err = a.Finalizar(ctx, "rad-1")
	require.NoError(t, err)

	rad, err := a.Audit(ctx, "rad-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoFinalizado, rad.Estado)
	assert.True(t, rad.ExcelGenerado)
	assert.True(t, rad.Liquidacion.ExcelGenerado)
	assert.Equal(t, 54000.0, rad.Liquidacion.ValorAPagar)
}

func TestFinalizarDesdePendienteFalla(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))

	_, err := a.Finalizar(ctx, "rad-1")
	assert.Error(t, err)
}

func TestRechazarConMotivo(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))

	out, err := a.Rechazar(ctx, "rad-1", "soportes ilegibles")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoRechazado, out.Estado)
	assert.Contains(t, out.Observaciones, "soportes ilegibles")
}

func TestRechazarFinalizadoFalla(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	ctx := context.Background()

	rad := radicadoCompleto()
	rad.Estado = model.EstadoFinalizado
	require.NoError(t, s.CreateRadicado(ctx, rad))

	_, err := a.Rechazar(ctx, "rad-1", "tarde")
	assert.Error(t, err)
}

func TestAuditBatchProcesaPendientes(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)
	sembrarReferencia(t, s)
	ctx := context.Background()

	limpio := radicadoCompleto()
	require.NoError(t, s.CreateRadicado(ctx, limpio))

	conGlosa := radicadoCompleto()
	conGlosa.ID = "rad-2"
	conGlosa.Numero = "RAD-2026-002"
	conGlosa.Items[0].NumeroAutorizacion = ""
	require.NoError(t, s.CreateRadicado(ctx, conGlosa))

	incompleto := radicadoCompleto()
	incompleto.ID = "rad-3"
	incompleto.Numero = "RAD-2026-003"
	incompleto.Documentos = nil
	require.NoError(t, s.CreateRadicado(ctx, incompleto))

	result, err := a.AuditBatch(ctx, BatchConfig{Concurrency: 2, MaxRetries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Liquidados)
	assert.Equal(t, 1, result.ConGlosas)
	assert.Equal(t, 1, result.Rechazados)
	assert.Empty(t, result.Fallidos)
}

func TestAuditBatchSinPendientes(t *testing.T) {
	s := newTestStore(t)
	a := newTestAuditor(t, s)

	result, err := a.AuditBatch(context.Background(), DefaultBatchConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.Fallidos)
}

// fallaGuardado rejects pass persists so the rollback path is observable.
type fallaGuardado struct {
	*store.SQLiteStore
}

func (f *fallaGuardado) SavePassResult(ctx context.Context, rad *model.Radicado, loadedVersion int) error {
	if rad.Estado == model.EstadoLiquidado || rad.Estado == model.EstadoConGlosas {
		return eris.New("disco lleno")
	}
	return f.SQLiteStore.SavePassResult(ctx, rad, loadedVersion)
}

func TestAuditLiberaConsumosSiPersistirFalla(t *testing.T) {
	s := newTestStore(t)
	sembrarReferencia(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateRadicado(ctx, radicadoCompleto()))

	cat := catalog.NewMemory()
	cat.Add(catalog.Tarifa{CUPS: "890201", Descripcion: "Consulta medicina general", Categoria: "CONSULTA", Valor: 54000})
	a := New(&fallaGuardado{s}, cat)
	a.nowFunc = func() time.Time { return hoy }

	_, err := a.Audit(ctx, "rad-1")
	require.Error(t, err)

	aut, err := s.GetAutorizacion(ctx, "AUT-001")
	require.NoError(t, err)
	assert.Equal(t, 0, aut.Servicios[0].CantidadUsada)
}
