package rules

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/model"
)

// Store is the persistence surface the repository needs. The application
// stores implement it alongside the radicado operations.
type Store interface {
	SaveRegla(ctx context.Context, regla *model.Regla) error
	GetRegla(ctx context.Context, id string) (*model.Regla, error)
	ListReglas(ctx context.Context) ([]model.Regla, error)
	DeleteRegla(ctx context.Context, id string) error
	EstadisticasRegla(ctx context.Context, reglaID string) (*model.EstadisticasRegla, error)
}

// ErrReglaNoEncontrada is returned when a rule ID does not resolve.
var ErrReglaNoEncontrada = eris.New("rules: regla no encontrada")

// Repository owns the rule lifecycle. Interpretation happens exactly once
// per text change, at authoring time, never during a pipeline pass.
type Repository struct {
	store  Store
	interp Interpreter
}

func NewRepository(store Store, interp Interpreter) *Repository {
	return &Repository{store: store, interp: interp}
}

// Create interprets the description and persists the rule. A low-confidence
// or failed interpretation does not block creation; the rule is stored
// inactive-for-application until its interpretation clears the floor.
func (r *Repository) Create(ctx context.Context, nombre, descripcion string, tipo model.TipoRegla, prioridad int) (*model.Regla, error) {
	if prioridad == 0 {
		prioridad = model.PrioridadDefecto
	}
	now := time.Now().UTC()
	regla := &model.Regla{
		ID:          uuid.New().String(),
		Nombre:      nombre,
		Descripcion: descripcion,
		Tipo:        tipo,
		Activa:      true,
		Prioridad:   prioridad,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	interp, err := r.interp.Interpret(ctx, descripcion, tipo)
	if err != nil {
		zap.L().Warn("rules: interpretation failed, storing rule without action",
			zap.String("nombre", nombre), zap.Error(err))
	} else {
		regla.Interpretacion = interp
	}

	if err := r.store.SaveRegla(ctx, regla); err != nil {
		return nil, eris.Wrap(err, "rules: save regla")
	}
	return regla, nil
}

// Update edits a rule in place. The description is reinterpreted only when
// the description or declared type actually changed; priority and activation
// edits keep the existing interpretation untouched.
func (r *Repository) Update(ctx context.Context, id string, nombre, descripcion string, tipo model.TipoRegla, prioridad int, activa bool) (*model.Regla, error) {
	regla, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reinterpretar := descripcion != regla.Descripcion || tipo != regla.Tipo

	regla.Nombre = nombre
	regla.Descripcion = descripcion
	regla.Tipo = tipo
	regla.Prioridad = prioridad
	regla.Activa = activa
	regla.UpdatedAt = time.Now().UTC()

	if reinterpretar {
		interp, err := r.interp.Interpret(ctx, descripcion, tipo)
		if err != nil {
			zap.L().Warn("rules: reinterpretation failed, clearing action",
				zap.String("id", id), zap.Error(err))
			regla.Interpretacion = nil
		} else {
			regla.Interpretacion = interp
		}
	}

	if err := r.store.SaveRegla(ctx, regla); err != nil {
		return nil, eris.Wrap(err, "rules: save regla")
	}
	return regla, nil
}

// Activar flips only the activation flag, preserving the interpretation.
func (r *Repository) Activar(ctx context.Context, id string, activa bool) (*model.Regla, error) {
	regla, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	regla.Activa = activa
	regla.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveRegla(ctx, regla); err != nil {
		return nil, eris.Wrap(err, "rules: save regla")
	}
	return regla, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*model.Regla, error) {
	regla, err := r.store.GetRegla(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "rules: get regla")
	}
	if regla == nil {
		return nil, ErrReglaNoEncontrada
	}
	return regla, nil
}

func (r *Repository) List(ctx context.Context) ([]model.Regla, error) {
	reglas, err := r.store.ListReglas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "rules: list reglas")
	}
	return Sort(reglas), nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteRegla(ctx, id); err != nil {
		return eris.Wrap(err, "rules: delete regla")
	}
	return nil
}

// Preview interprets a description without persisting anything, so an
// author can see the structured action and confidence before saving.
func (r *Repository) Preview(ctx context.Context, descripcion string, tipo model.TipoRegla) (*model.Interpretacion, bool, error) {
	interp, err := r.interp.Interpret(ctx, descripcion, tipo)
	if err != nil {
		return nil, false, eris.Wrap(err, "rules: preview")
	}
	aplicable := interp.Confianza >= model.ConfianzaMinima && interp.Accion.Validate() == nil
	return interp, aplicable, nil
}

// Estadisticas aggregates the usage log for one rule.
func (r *Repository) Estadisticas(ctx context.Context, id string) (*model.EstadisticasRegla, error) {
	stats, err := r.store.EstadisticasRegla(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "rules: estadisticas regla")
	}
	return stats, nil
}
