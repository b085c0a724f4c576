// Package pipeline orchestrates a full audit pass over a radicado: the
// validator set, custom rules, glosa generation and the settlement, all
// persisted as one atomic, version-guarded write.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/glosa"
	"github.com/andina-health/glosas-cli/internal/ledger"
	"github.com/andina-health/glosas-cli/internal/liquidation"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/payer"
	"github.com/andina-health/glosas-cli/internal/rules"
	"github.com/andina-health/glosas-cli/internal/store"
	"github.com/andina-health/glosas-cli/internal/validator"
)

// ErrRadicadoNoEncontrado is returned when the radicado ID does not resolve.
var ErrRadicadoNoEncontrado = eris.New("pipeline: radicado no encontrado")

// ErrRadicadoRechazado is returned when a pass is requested on a rejected
// radicado.
var ErrRadicadoRechazado = eris.New("pipeline: el radicado está rechazado")

// Auditor runs audit passes. Safe for concurrent use; passes over the same
// radicado serialize on a per-radicado lock, and the version guard in the
// store catches interleaving across processes.
type Auditor struct {
	store       store.Store
	catalogo    catalog.Catalog
	ledger      *ledger.Ledger
	payer       payer.Client // nil disables the affiliation lookup
	validadores []validator.Validator
	engine      rules.Engine
	compat      validator.CompatTable
	tolerancia  float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// nowFunc allows test injection of the evaluation date.
	nowFunc func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithPayer enables best-effort affiliation verification.
func WithPayer(client payer.Client) Option {
	return func(a *Auditor) { a.payer = client }
}

// WithTolerancia overrides the tariff variance tolerance.
func WithTolerancia(t float64) Option {
	return func(a *Auditor) { a.tolerancia = t }
}

// WithCompatibilidad installs the procedure-diagnosis compatibility table.
func WithCompatibilidad(tabla validator.CompatTable) Option {
	return func(a *Auditor) { a.compat = tabla }
}

// New creates an Auditor over the given store and tariff catalog.
func New(st store.Store, cat catalog.Catalog, opts ...Option) *Auditor {
	a := &Auditor{
		store:       st,
		catalogo:    cat,
		ledger:      ledger.New(st),
		validadores: validator.DefaultSet(),
		locks:       make(map[string]*sync.Mutex),
		nowFunc:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Auditor) lockFor(radicadoID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mu, ok := a.locks[radicadoID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	a.locks[radicadoID] = mu
	return mu
}

// Audit runs one complete pass and persists the result. Re-running on an
// already audited radicado recomputes everything from the same inputs and
// overwrites the previous artifacts; authorization quantities are consumed
// only on the first pass.
func (a *Auditor) Audit(ctx context.Context, radicadoID string) (*model.Radicado, error) {
	mu := a.lockFor(radicadoID)
	mu.Lock()
	defer mu.Unlock()

	rad, err := a.store.GetRadicado(ctx, radicadoID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load radicado")
	}
	if rad == nil {
		return nil, ErrRadicadoNoEncontrado
	}
	if rad.Estado == model.EstadoRechazado {
		return nil, ErrRadicadoRechazado
	}

	loadedVersion := rad.Version
	log := zap.L().With(zap.String("radicado", rad.Numero), zap.Int("version", loadedVersion))
	log.Info("pipeline: starting audit pass", zap.String("estado", string(rad.Estado)))

	if !rad.DocumentosCompletos() {
		rad.Estado = model.EstadoRechazado
		rad.Observaciones = "Radicado rechazado: documentación de soporte incompleta o sin procesar"
		if err := a.store.SavePassResult(ctx, rad, loadedVersion); err != nil {
			return nil, eris.Wrap(err, "pipeline: persist rejection")
		}
		log.Warn("pipeline: radicado rejected, incomplete documents")
		return rad, nil
	}

	primeraPasada := rad.Estado == model.EstadoPendiente || rad.Estado == model.EstadoEnProceso
	if rad.Estado == model.EstadoPendiente {
		rad.Estado = model.EstadoEnProceso
	}

	ref, err := a.buildRef(ctx, rad)
	if err != nil {
		return nil, err
	}

	if a.payer != nil {
		rad.ConsultasExternas = append(rad.ConsultasExternas, payer.Consultar(ctx, a.payer, rad))
	}

	validaciones := validator.RunAll(ctx, rad, ref, a.validadores)
	a.persistirVencimientos(ctx, validaciones, ref.Hoy)

	draft := rules.Draft{
		Validaciones: validaciones,
		Glosas:       glosa.Generate(rad, validaciones),
	}

	reglas, err := a.store.ListReglas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list reglas")
	}
	draft, aplicaciones := a.engine.Apply(rad, reglas, draft)

	liq := liquidation.Build(rad, draft.Glosas, aplicaciones)

	var consumos []consumo
	if primeraPasada {
		consumos = a.consumirAutorizaciones(ctx, rad, draft.Validaciones, ref.Hoy)
	}

	rad.Validaciones = draft.Validaciones
	rad.Glosas = draft.Glosas
	rad.ReglasAplicadas = aplicaciones
	if rad.Estado == model.EstadoFinalizado {
		// A finalized radicado re-audits in place: artifacts refresh but
		// the closed state and the export flag survive.
		liq.ExcelGenerado = rad.ExcelGenerado
	} else if len(draft.Glosas) > 0 {
		rad.Estado = model.EstadoConGlosas
	} else {
		rad.Estado = model.EstadoLiquidado
	}
	rad.Liquidacion = &liq

	if err := a.store.SavePassResult(ctx, rad, loadedVersion); err != nil {
		a.liberarConsumos(ctx, consumos)
		return nil, eris.Wrap(err, "pipeline: persist pass")
	}
	// Always replace, even with zero applications: a re-run whose rules no
	// longer fire must also clear the previous pass from the usage log.
	if err := a.store.ReplaceAplicaciones(ctx, rad.ID, aplicaciones); err != nil {
		log.Warn("pipeline: replace rule usage log failed", zap.Error(err))
	}

	log.Info("pipeline: audit pass complete",
		zap.String("estado", string(rad.Estado)),
		zap.Int("validaciones", len(rad.Validaciones)),
		zap.Int("glosas", len(rad.Glosas)),
		zap.Float64("a_pagar", liq.ValorAPagar),
	)
	return rad, nil
}

// Finalizar closes an audited radicado. Only liquidated or glosed
// radicados can finalize.
func (a *Auditor) Finalizar(ctx context.Context, radicadoID string) (*model.Radicado, error) {
	mu := a.lockFor(radicadoID)
	mu.Lock()
	defer mu.Unlock()

	rad, err := a.store.GetRadicado(ctx, radicadoID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load radicado")
	}
	if rad == nil {
		return nil, ErrRadicadoNoEncontrado
	}
	if !rad.CanTransition(model.EstadoFinalizado) {
		return nil, eris.Errorf("pipeline: el radicado %s no puede finalizar desde %s", rad.Numero, rad.Estado)
	}

	loadedVersion := rad.Version
	rad.Estado = model.EstadoFinalizado
	rad.ExcelGenerado = true
	if rad.Liquidacion != nil {
		rad.Liquidacion.ExcelGenerado = true
	}
	if err := a.store.SavePassResult(ctx, rad, loadedVersion); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist finalize")
	}
	return rad, nil
}

// Rechazar rejects a radicado with a reason. Allowed from any non-terminal
// state.
func (a *Auditor) Rechazar(ctx context.Context, radicadoID, motivo string) (*model.Radicado, error) {
	mu := a.lockFor(radicadoID)
	mu.Lock()
	defer mu.Unlock()

	rad, err := a.store.GetRadicado(ctx, radicadoID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load radicado")
	}
	if rad == nil {
		return nil, ErrRadicadoNoEncontrado
	}
	if !rad.CanTransition(model.EstadoRechazado) {
		return nil, eris.Errorf("pipeline: el radicado %s no puede rechazarse desde %s", rad.Numero, rad.Estado)
	}

	loadedVersion := rad.Version
	rad.Estado = model.EstadoRechazado
	rad.Observaciones = fmt.Sprintf("Radicado rechazado: %s", motivo)
	if err := a.store.SavePassResult(ctx, rad, loadedVersion); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist rejection")
	}
	return rad, nil
}

// buildRef assembles the read-only reference snapshot for one pass.
func (a *Auditor) buildRef(ctx context.Context, rad *model.Radicado) (validator.RefData, error) {
	ref := validator.RefData{
		Catalogo:       a.catalogo,
		EPSNit:         rad.EPSNit,
		IPSNit:         rad.IPSNit,
		Autorizaciones: make(map[string]*model.Autorizacion),
		Compatibilidad: a.compat,
		Tolerancia:     a.tolerancia,
		Hoy:            a.nowFunc(),
	}

	convenios, err := a.store.ListConvenios(ctx, rad.EPSNit)
	if err != nil {
		return ref, eris.Wrap(err, "pipeline: list convenios")
	}
	ref.Convenios = convenios

	for _, item := range rad.Items {
		if item.NumeroAutorizacion == "" {
			continue
		}
		if _, ok := ref.Autorizaciones[item.NumeroAutorizacion]; ok {
			continue
		}
		aut, err := a.store.GetAutorizacion(ctx, item.NumeroAutorizacion)
		if err != nil {
			return ref, eris.Wrap(err, "pipeline: load autorizacion")
		}
		if aut != nil {
			ref.Autorizaciones[item.NumeroAutorizacion] = aut
		}
	}

	ref.Habilitaciones, err = a.store.ListHabilitaciones(ctx, rad.IPSNit)
	if err != nil {
		return ref, eris.Wrap(err, "pipeline: list habilitaciones")
	}
	return ref, nil
}

// persistirVencimientos stores the expired state for authorizations the
// validators flagged. Expiry detection is a pure read; this is the single
// place where it becomes a write.
func (a *Auditor) persistirVencimientos(ctx context.Context, validaciones []model.Validacion, hoy time.Time) {
	vistas := make(map[string]bool)
	for _, v := range validaciones {
		vencida, _ := v.Detalles["vencida"].(bool)
		if !vencida {
			continue
		}
		numero, _ := v.Detalles["numero"].(string)
		if numero == "" || vistas[numero] {
			continue
		}
		vistas[numero] = true
		if err := a.ledger.MarcarVencida(ctx, numero, hoy); err != nil {
			zap.L().Warn("pipeline: persist expired authorization failed",
				zap.String("numero", numero), zap.Error(err))
		}
	}
}

// consumo records a successful quantity debit so a failed pass persist
// can hand the budget back.
type consumo struct {
	numero   string
	cups     string
	cantidad int
}

// consumirAutorizaciones debits quantity budgets for every item whose
// authorization check approved. Runs only on the first pass so re-audits
// never double-consume.
func (a *Auditor) consumirAutorizaciones(ctx context.Context, rad *model.Radicado, validaciones []model.Validacion, hoy time.Time) []consumo {
	aprobados := make(map[string]bool)
	for _, v := range validaciones {
		if v.Tipo == model.ValidacionAutorizacion && v.Veredicto == model.VeredictoAprobado {
			aprobados[v.ItemID] = true
		}
	}

	var hechos []consumo
	for _, item := range rad.Items {
		if !aprobados[item.ID] || item.NumeroAutorizacion == "" {
			continue
		}
		if err := a.ledger.Consume(ctx, item.NumeroAutorizacion, item.CUPS, item.Cantidad, hoy); err != nil {
			zap.L().Warn("pipeline: consume authorization failed",
				zap.String("numero", item.NumeroAutorizacion),
				zap.String("cups", item.CUPS),
				zap.Error(err))
			continue
		}
		hechos = append(hechos, consumo{item.NumeroAutorizacion, item.CUPS, item.Cantidad})
	}
	return hechos
}

// liberarConsumos returns debited quantities after a pass that could not
// persist, so the budget matches what the stored radicado reflects.
func (a *Auditor) liberarConsumos(ctx context.Context, consumos []consumo) {
	for _, c := range consumos {
		if err := a.ledger.Release(ctx, c.numero, c.cups, c.cantidad); err != nil {
			zap.L().Warn("pipeline: release authorization failed",
				zap.String("numero", c.numero),
				zap.String("cups", c.cups),
				zap.Error(err))
		}
	}
}
