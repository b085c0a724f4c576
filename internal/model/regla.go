package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// TipoRegla is the author-declared scope of a custom rule.
type TipoRegla string

const (
	ReglaGlosa        TipoRegla = "glosa"
	ReglaAutorizacion TipoRegla = "authorization"
	ReglaValor        TipoRegla = "value"
	ReglaFecha        TipoRegla = "date"
	ReglaServicio     TipoRegla = "service"
	ReglaGeneral      TipoRegla = "general"
)

// PrioridadDefecto is assigned when the author does not set a priority.
// Lower values are applied first.
const PrioridadDefecto = 100

// ConfianzaMinima is the interpretation confidence floor (0-100). A rule
// below it is invalid until an administrator edits it.
const ConfianzaMinima = 50.0

// AccionKind enumerates the closed set of interpreted rule actions.
type AccionKind string

const (
	AccionSuprimirGlosaBajo    AccionKind = "suppress_glosa_below"
	AccionLimitarGlosa         AccionKind = "cap_glosa_amount"
	AccionRequerirAutorizacion AccionKind = "require_authorization_for"
	AccionExentarPerfil        AccionKind = "exempt_patient_profile"
)

// PerfilPredicado selects patient profiles for exempt_patient_profile.
// Zero-valued fields do not constrain the match.
type PerfilPredicado struct {
	Regimen    Regimen `json:"regimen,omitempty"`
	Embarazada bool    `json:"embarazada,omitempty"`
	Desplazado bool    `json:"desplazado,omitempty"`
	EdadMenor  int     `json:"edad_menor,omitempty"` // matches age < EdadMenor
	EdadMayor  int     `json:"edad_mayor,omitempty"` // matches age >= EdadMayor
}

// Matches reports whether the patient profile satisfies every set constraint.
func (p PerfilPredicado) Matches(perfil PerfilPaciente, edad int) bool {
	if p.Regimen != "" && perfil.Regimen != p.Regimen {
		return false
	}
	if p.Embarazada && !perfil.Embarazada {
		return false
	}
	if p.Desplazado && !perfil.Desplazado {
		return false
	}
	if p.EdadMenor > 0 && (edad < 0 || edad >= p.EdadMenor) {
		return false
	}
	if p.EdadMayor > 0 && (edad < 0 || edad < p.EdadMayor) {
		return false
	}
	return true
}

// Vacio reports whether no constraint is set at all.
func (p PerfilPredicado) Vacio() bool {
	return p.Regimen == "" && !p.Embarazada && !p.Desplazado && p.EdadMenor == 0 && p.EdadMayor == 0
}

// Accion is the structured, replayable action a rule interprets into.
// It is a closed tagged union: Kind selects which fields are meaningful,
// and Validate enforces the required fields per kind. The pipeline never
// applies an action that does not validate.
type Accion struct {
	Kind      AccionKind      `json:"kind"`
	Umbral    float64         `json:"umbral,omitempty"`    // suppress_glosa_below
	Maximo    float64         `json:"maximo,omitempty"`    // cap_glosa_amount
	Categoria string          `json:"categoria,omitempty"` // require_authorization_for
	Perfil    PerfilPredicado `json:"perfil,omitempty"`    // exempt_patient_profile
}

// Validate checks the action against the closed union contract.
func (a Accion) Validate() error {
	switch a.Kind {
	case AccionSuprimirGlosaBajo:
		if a.Umbral <= 0 {
			return eris.New("accion: suppress_glosa_below requires a positive umbral")
		}
	case AccionLimitarGlosa:
		if a.Maximo <= 0 {
			return eris.New("accion: cap_glosa_amount requires a positive maximo")
		}
	case AccionRequerirAutorizacion:
		if a.Categoria == "" {
			return eris.New("accion: require_authorization_for requires a categoria")
		}
	case AccionExentarPerfil:
		if a.Perfil.Vacio() {
			return eris.New("accion: exempt_patient_profile requires at least one perfil constraint")
		}
	default:
		return eris.Errorf("accion: unknown kind %q", string(a.Kind))
	}
	return nil
}

// Interpretacion is the persisted result of interpreting a rule's free-text
// description. It is recomputed only when the description or type changes,
// never by the pipeline.
type Interpretacion struct {
	Accion         Accion    `json:"accion"`
	Confianza      float64   `json:"confianza"` // 0-100
	Explicacion    string    `json:"explicacion"`
	InterpretadaEn time.Time `json:"interpretada_en"`
}

// Regla is a user-authored constraint applied to draft validations and
// glosas after the validator set runs.
type Regla struct {
	ID             string          `json:"id"`
	Nombre         string          `json:"nombre"`
	Descripcion    string          `json:"descripcion"`
	Tipo           TipoRegla       `json:"tipo"`
	Activa         bool            `json:"activa"`
	Prioridad      int             `json:"prioridad"`
	Interpretacion *Interpretacion `json:"interpretacion,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Valida reports whether the rule carries an applicable interpretation:
// present, above the confidence floor and structurally valid.
func (r *Regla) Valida() bool {
	if r.Interpretacion == nil {
		return false
	}
	if r.Interpretacion.Confianza < ConfianzaMinima {
		return false
	}
	return r.Interpretacion.Accion.Validate() == nil
}

// AplicacionRegla is one usage-log entry recording what a rule did during
// the latest pass over a radicado. Aggregate stats are derived from these
// entries, never mutated in place on the rule.
type AplicacionRegla struct {
	ID             string     `json:"id"`
	ReglaID        string     `json:"regla_id"`
	RadicadoID     string     `json:"radicado_id"`
	Kind           AccionKind `json:"kind"`
	VecesAplicada  int        `json:"veces_aplicada"`
	ValorAfectado  float64    `json:"valor_afectado"`
	GlosasEvitadas int        `json:"glosas_evitadas"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EstadisticasRegla aggregates the usage log for one rule.
type EstadisticasRegla struct {
	ReglaID        string  `json:"regla_id"`
	VecesAplicada  int     `json:"veces_aplicada"`
	ValorAfectado  float64 `json:"valor_afectado"`
	GlosasEvitadas int     `json:"glosas_evitadas"`
}
