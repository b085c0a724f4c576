// Package rules owns user-authored audit rules: their interpretation into
// structured actions, their persistence, and their application to the
// draft produced by the validator set.
package rules

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/glosa"
	"github.com/andina-health/glosas-cli/internal/model"
)

// Draft is the working set a pipeline pass mutates: the validator output
// plus the glosas generated from it. Rules edit this set only.
type Draft struct {
	Validaciones []model.Validacion
	Glosas       []model.Glosa
}

// Engine applies active rules to a draft in strict priority order.
// Application is monotonic within a pass: a later rule can only undo an
// earlier rule's effect through an explicit opposing action, and the
// engine performs no conflict detection between rules.
type Engine struct{}

// Sort orders rules by ascending priority, ties broken by creation time
// (earliest first) and then ID for full determinism.
func Sort(reglas []model.Regla) []model.Regla {
	out := append([]model.Regla(nil), reglas...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Prioridad != out[j].Prioridad {
			return out[i].Prioridad < out[j].Prioridad
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Aplicables filters to active rules carrying a valid interpretation and
// returns them in application order.
func Aplicables(reglas []model.Regla) []model.Regla {
	var out []model.Regla
	for _, r := range reglas {
		if r.Activa && r.Valida() {
			out = append(out, r)
		}
	}
	return Sort(out)
}

// Apply runs every applicable rule against the draft and returns the
// mutated draft plus one usage-log entry per rule that actually did
// something. Incrementing usage stats is the rules' only persistent side
// effect and happens via these append-only entries.
func (Engine) Apply(rad *model.Radicado, reglas []model.Regla, draft Draft) (Draft, []model.AplicacionRegla) {
	var aplicaciones []model.AplicacionRegla

	for _, regla := range Aplicables(reglas) {
		accion := regla.Interpretacion.Accion
		var app *model.AplicacionRegla

		switch accion.Kind {
		case model.AccionSuprimirGlosaBajo:
			draft, app = suprimirGlosasBajo(draft, accion.Umbral)
		case model.AccionLimitarGlosa:
			draft, app = limitarGlosas(draft, accion.Maximo)
		case model.AccionExentarPerfil:
			draft, app = exentarPerfil(rad, draft, accion.Perfil)
		case model.AccionRequerirAutorizacion:
			draft, app = requerirAutorizacion(rad, regla.ID, draft, accion.Categoria)
		}

		if app == nil {
			continue
		}
		app.ID = uuid.New().String()
		app.ReglaID = regla.ID
		app.RadicadoID = rad.ID
		app.Kind = accion.Kind
		app.CreatedAt = time.Now().UTC()
		aplicaciones = append(aplicaciones, *app)

		zap.L().Info("rules: rule applied",
			zap.String("regla", regla.Nombre),
			zap.String("kind", string(accion.Kind)),
			zap.Int("veces", app.VecesAplicada),
			zap.Float64("valor_afectado", app.ValorAfectado),
			zap.Int("glosas_evitadas", app.GlosasEvitadas),
		)
	}

	return draft, aplicaciones
}

func suprimirGlosasBajo(draft Draft, umbral float64) (Draft, *model.AplicacionRegla) {
	var kept []model.Glosa
	app := &model.AplicacionRegla{}
	for _, g := range draft.Glosas {
		if g.Valor < umbral {
			app.VecesAplicada++
			app.GlosasEvitadas++
			app.ValorAfectado += g.Valor
			continue
		}
		kept = append(kept, g)
	}
	if app.VecesAplicada == 0 {
		return draft, nil
	}
	draft.Glosas = kept
	return draft, app
}

func limitarGlosas(draft Draft, maximo float64) (Draft, *model.AplicacionRegla) {
	app := &model.AplicacionRegla{}
	for i := range draft.Glosas {
		if draft.Glosas[i].Valor > maximo {
			app.VecesAplicada++
			app.ValorAfectado += draft.Glosas[i].Valor - maximo
			draft.Glosas[i].Valor = maximo
		}
	}
	if app.VecesAplicada == 0 {
		return draft, nil
	}
	return draft, app
}

func exentarPerfil(rad *model.Radicado, draft Draft, perfil model.PerfilPredicado) (Draft, *model.AplicacionRegla) {
	edad := rad.Paciente.EdadA(time.Now().UTC())
	if !perfil.Matches(rad.Paciente, edad) {
		return draft, nil
	}

	app := &model.AplicacionRegla{}
	exentas := make(map[string]bool)
	for i := range draft.Validaciones {
		v := &draft.Validaciones[i]
		if v.Exenta || v.Veredicto == model.VeredictoAprobado {
			continue
		}
		v.Exenta = true
		exentas[v.ID] = true
		app.VecesAplicada++
	}
	if app.VecesAplicada == 0 {
		return draft, nil
	}

	var kept []model.Glosa
	for _, g := range draft.Glosas {
		if g.ValidacionID != "" && exentas[g.ValidacionID] {
			app.GlosasEvitadas++
			app.ValorAfectado += g.Valor
			continue
		}
		kept = append(kept, g)
	}
	draft.Glosas = kept
	return draft, app
}

func requerirAutorizacion(rad *model.Radicado, reglaID string, draft Draft, categoria string) (Draft, *model.AplicacionRegla) {
	categoria = catalog.NormalizeCategoria(categoria)

	// Items that already carry an authorization rejection are left alone.
	yaRechazados := make(map[string]bool)
	for _, v := range draft.Validaciones {
		if v.Tipo == model.ValidacionAutorizacion && v.Veredicto == model.VeredictoRechazado {
			yaRechazados[v.ItemID] = true
		}
	}

	app := &model.AplicacionRegla{}
	ahora := time.Now().UTC()
	for _, item := range rad.Items {
		if catalog.NormalizeCategoria(item.Categoria) != categoria {
			continue
		}
		if item.NumeroAutorizacion != "" || yaRechazados[item.ID] {
			continue
		}

		val := model.Validacion{
			ID:        uuid.New().String(),
			ItemID:    item.ID,
			Tipo:      model.ValidacionAutorizacion,
			Veredicto: model.VeredictoRechazado,
			Mensaje:   "Regla personalizada: el servicio " + item.CUPS + " requiere autorización previa",
			Detalles:  map[string]any{"regla_id": reglaID, "categoria": categoria},
			CreatedAt: ahora,
		}
		draft.Validaciones = append(draft.Validaciones, val)
		draft.Glosas = append(draft.Glosas, model.Glosa{
			ID:           uuid.New().String(),
			ItemID:       item.ID,
			Codigo:       glosa.CodigoSinAutorizacion,
			Descripcion:  "Servicio sin autorización exigida por regla personalizada",
			Tipo:         model.GlosaAutorizacion,
			Valor:        item.ValorTotal,
			ValidacionID: val.ID,
			ReglaID:      reglaID,
			CreatedAt:    ahora,
		})
		app.VecesAplicada++
		app.ValorAfectado += item.ValorTotal
	}
	if app.VecesAplicada == 0 {
		return draft, nil
	}
	return draft, app
}
