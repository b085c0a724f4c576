package model

import "time"

// TipoValidacion identifies which validator produced a verdict.
type TipoValidacion string

const (
	ValidacionAutorizacion TipoValidacion = "authorization"
	ValidacionTarifa       TipoValidacion = "tariff"
	ValidacionServicio     TipoValidacion = "service"
	ValidacionCoherencia   TipoValidacion = "clinical-coherence"
	ValidacionFechas       TipoValidacion = "date"
)

// Veredicto is the outcome of a single validation.
type Veredicto string

const (
	VeredictoAprobado  Veredicto = "approved"
	VeredictoRechazado Veredicto = "rejected"
	VeredictoAlerta    Veredicto = "warning"
)

// Validacion is one verdict from one validator over one line item.
// A validation is immutable once rule application has run for its pass;
// re-evaluation supersedes the whole set, it never edits one in place.
type Validacion struct {
	ID       string         `json:"id"`
	ItemID   string         `json:"item_id"`
	Tipo     TipoValidacion `json:"tipo"`
	Veredicto Veredicto     `json:"veredicto"`
	Mensaje  string         `json:"mensaje"`
	Detalles map[string]any `json:"detalles,omitempty"`

	// Exenta is set by a rule action; an exempt validation produces no glosa.
	Exenta    bool      `json:"exenta,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Fallida reports whether the validation should produce a glosa
// (rejected or warning, and not exempted by a rule).
func (v Validacion) Fallida() bool {
	return !v.Exenta && (v.Veredicto == VeredictoRechazado || v.Veredicto == VeredictoAlerta)
}
