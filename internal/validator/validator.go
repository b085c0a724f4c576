// Package validator runs the independent checks that audit each billed
// line item. Validators are pure over shared reference data; within one
// pass no validator ever observes another's result.
package validator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/contract"
	"github.com/andina-health/glosas-cli/internal/model"
)

// ToleranciaTarifaDefecto is the default tariff variance tolerance (5%).
const ToleranciaTarifaDefecto = 0.05

// CompatTable maps a CUPS code to the CIE-10 prefixes it is clinically
// consistent with. Codes absent from the table are not checked.
type CompatTable map[string][]string

// Compatible reports whether the diagnosis fits the procedure. An empty
// table or an unlisted procedure never fails the check.
func (t CompatTable) Compatible(cups, cie10 string) bool {
	prefijos, ok := t[cups]
	if !ok || len(prefijos) == 0 {
		return true
	}
	for _, p := range prefijos {
		if len(cie10) >= len(p) && cie10[:len(p)] == p {
			return true
		}
	}
	return false
}

// RefData is the read-only reference snapshot a pass validates against.
// The orchestrator assembles it once; validators only read it.
type RefData struct {
	Catalogo       catalog.Catalog
	Convenios      []model.ConvenioTarifa // candidate contracts for the payer
	EPSNit         string
	IPSNit         string
	Autorizaciones map[string]*model.Autorizacion
	Habilitaciones []model.HabilitacionServicio
	Compatibilidad CompatTable
	Tolerancia     float64   // tariff variance tolerance, 0 ⇒ default
	Hoy            time.Time // evaluation date for expiry checks
}

// ContratoPara resolves the contract valid as of the given service date.
// Items in one radicado can carry different service dates, so resolution
// happens per item, never per pass. Nil when no contract covers the date.
func (r RefData) ContratoPara(fecha time.Time) *model.ConvenioTarifa {
	contrato, ok := contract.Resolve(r.Convenios, r.EPSNit, r.IPSNit, fecha)
	if !ok {
		return nil
	}
	return contrato
}

// Validator is one independent check over one line item.
type Validator interface {
	Name() model.TipoValidacion
	Check(item model.ItemFactura, paciente model.PerfilPaciente, ipsNit string, ref RefData) model.Validacion
}

// DefaultSet returns the full validator set in its canonical order.
func DefaultSet() []Validator {
	return []Validator{
		AutorizacionValidator{},
		TarifaValidator{},
		ServicioValidator{},
		CoherenciaValidator{},
		FechasValidator{},
	}
}

// RunAll fans the validator set out over every line item concurrently and
// joins before returning, so rule application always sees the complete
// draft. Output order is deterministic (item order, then validator order)
// regardless of scheduling.
func RunAll(ctx context.Context, rad *model.Radicado, ref RefData, set []Validator) []model.Validacion {
	type slot struct {
		idx int
		val model.Validacion
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)

	var mu sync.Mutex
	results := make([]slot, 0, len(rad.Items)*len(set))

	for i, item := range rad.Items {
		for j, v := range set {
			idx := i*len(set) + j
			g.Go(func() error {
				val := v.Check(item, rad.Paciente, rad.IPSNit, ref)
				val.ID = uuid.New().String()
				val.ItemID = item.ID
				val.Tipo = v.Name()
				val.CreatedAt = time.Now().UTC()
				mu.Lock()
				results = append(results, slot{idx: idx, val: val})
				mu.Unlock()
				return nil
			})
		}
	}
	// Validators never return errors; failures are verdicts.
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].idx < results[b].idx })

	out := make([]model.Validacion, len(results))
	rechazadas := 0
	for i, s := range results {
		out[i] = s.val
		if s.val.Veredicto != model.VeredictoAprobado {
			rechazadas++
		}
	}

	zap.L().Info("validator: pass complete",
		zap.String("radicado", rad.Numero),
		zap.Int("items", len(rad.Items)),
		zap.Int("validaciones", len(out)),
		zap.Int("no_aprobadas", rechazadas),
	)
	return out
}

func aprobada(mensaje string) model.Validacion {
	return model.Validacion{Veredicto: model.VeredictoAprobado, Mensaje: mensaje}
}

func rechazada(mensaje string, detalles map[string]any) model.Validacion {
	return model.Validacion{Veredicto: model.VeredictoRechazado, Mensaje: mensaje, Detalles: detalles}
}
