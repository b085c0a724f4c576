package model

import "time"

// ValorPactado is a procedure-specific agreed value that overrides every
// other pricing source while its validity window covers the service date.
type ValorPactado struct {
	CUPS           string     `json:"cups"`
	Valor          float64    `json:"valor"`
	VigenciaInicio time.Time  `json:"vigencia_inicio"`
	VigenciaFin    *time.Time `json:"vigencia_fin,omitempty"`
}

// VigenteA reports whether the pacted value covers the given date.
func (v ValorPactado) VigenteA(fecha time.Time) bool {
	if fecha.Before(v.VigenciaInicio) {
		return false
	}
	return v.VigenciaFin == nil || !fecha.After(*v.VigenciaFin)
}

// MultiplicadorCategoria scales the reference tariff for a whole service
// category (e.g. "CIRUGIA" ×1.20) when no pacted value applies.
type MultiplicadorCategoria struct {
	Categoria string  `json:"categoria"`
	Factor    float64 `json:"factor"`
}

// Copago is a percentage-based patient co-payment row with an optional cap.
type Copago struct {
	Regimen          Regimen  `json:"regimen"`
	CategoriaIngreso string   `json:"categoria_ingreso"`
	Porcentaje       float64  `json:"porcentaje"`
	Tope             *float64 `json:"tope,omitempty"`
}

// ConvenioTarifa is a payer-provider pricing agreement. An empty IPSNit
// marks the payer-wide default; a provider-scoped contract wins over it
// when both cover the same date.
type ConvenioTarifa struct {
	ID                string                   `json:"id"`
	Nombre            string                   `json:"nombre"`
	EPSNit            string                   `json:"eps_nit"`
	IPSNit            string                   `json:"ips_nit,omitempty"`
	TipoContrato      string                   `json:"tipo_contrato"`
	TarifaReferencia  string                   `json:"tarifa_referencia"` // e.g. "ISS2004"
	FactorGlobal      float64                  `json:"factor_global"`
	ValoresPactados   []ValorPactado           `json:"valores_pactados,omitempty"`
	Multiplicadores   []MultiplicadorCategoria `json:"multiplicadores,omitempty"`
	Copagos           []Copago                 `json:"copagos,omitempty"`
	VigenciaInicio    time.Time                `json:"vigencia_inicio"`
	VigenciaFin       *time.Time               `json:"vigencia_fin,omitempty"`
}

// VigenteA reports whether the contract covers the given date.
func (c *ConvenioTarifa) VigenteA(fecha time.Time) bool {
	if fecha.Before(c.VigenciaInicio) {
		return false
	}
	return c.VigenciaFin == nil || !fecha.After(*c.VigenciaFin)
}

// ValorPactadoPara returns the pacted value for the procedure valid on the
// given date, if any.
func (c *ConvenioTarifa) ValorPactadoPara(cups string, fecha time.Time) (float64, bool) {
	for _, vp := range c.ValoresPactados {
		if vp.CUPS == cups && vp.VigenteA(fecha) {
			return vp.Valor, true
		}
	}
	return 0, false
}

// MultiplicadorPara returns the category multiplier for the given service
// category, if configured.
func (c *ConvenioTarifa) MultiplicadorPara(categoria string) (float64, bool) {
	for _, m := range c.Multiplicadores {
		if m.Categoria == categoria {
			return m.Factor, true
		}
	}
	return 0, false
}

// CopagoPara returns the copay row matching the regimen and income category.
func (c *ConvenioTarifa) CopagoPara(regimen Regimen, categoria string) (*Copago, bool) {
	for i := range c.Copagos {
		if c.Copagos[i].Regimen == regimen && c.Copagos[i].CategoriaIngreso == categoria {
			return &c.Copagos[i], true
		}
	}
	return nil, false
}

// HabilitacionServicio is a provider's authorization to render a service
// category, versioned by validity window.
type HabilitacionServicio struct {
	ID             string     `json:"id"`
	IPSNit         string     `json:"ips_nit"`
	Categoria      string     `json:"categoria"`
	VigenciaInicio time.Time  `json:"vigencia_inicio"`
	VigenciaFin    *time.Time `json:"vigencia_fin,omitempty"`
}

// VigenteA reports whether the habilitation covers the given date.
func (h HabilitacionServicio) VigenteA(fecha time.Time) bool {
	if fecha.Before(h.VigenciaInicio) {
		return false
	}
	return h.VigenciaFin == nil || !fecha.After(*h.VigenciaFin)
}
