package model

import "time"

// TipoGlosa classifies a denial.
type TipoGlosa string

const (
	GlosaAdministrativa TipoGlosa = "administrativa"
	GlosaTecnica        TipoGlosa = "tecnica"
	GlosaTarifaria      TipoGlosa = "tarifaria"
	GlosaAutorizacion   TipoGlosa = "autorizacion"
)

// Glosa is a monetary objection against one billed line item. Glosas are
// created only by the generator or by a rule action, never by validators.
type Glosa struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	Codigo       string    `json:"codigo"`
	Descripcion  string    `json:"descripcion"`
	Tipo         TipoGlosa `json:"tipo"`
	Valor        float64   `json:"valor"`
	ValidacionID string    `json:"validacion_id,omitempty"`
	ReglaID      string    `json:"regla_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Liquidacion is the terminal financial summary of one radicado pass.
// A later re-run replaces it, it is never appended to.
type Liquidacion struct {
	ID            string    `json:"id"`
	RadicadoID    string    `json:"radicado_id"`
	ValorAceptado float64   `json:"valor_aceptado"`
	ValorGlosado  float64   `json:"valor_glosado"`
	ValorAPagar   float64   `json:"valor_a_pagar"`
	Observaciones []string  `json:"observaciones,omitempty"`
	ExcelGenerado bool      `json:"excel_generado"`
	CreatedAt     time.Time `json:"created_at"`
}
