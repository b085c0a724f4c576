package model

import (
	"time"
)

// EstadoRadicado represents the lifecycle state of a claim bundle.
type EstadoRadicado string

const (
	EstadoPendiente  EstadoRadicado = "pending"
	EstadoEnProceso  EstadoRadicado = "in_process"
	EstadoValidado   EstadoRadicado = "validated"
	EstadoLiquidado  EstadoRadicado = "liquidated"
	EstadoConGlosas  EstadoRadicado = "with_glosas"
	EstadoFinalizado EstadoRadicado = "finalized"
	EstadoRechazado  EstadoRadicado = "rejected"
)

// radicadoTransitions lists the allowed forward transitions per state.
// EstadoRechazado is reachable from any non-terminal state and is handled
// separately in CanTransition.
var radicadoTransitions = map[EstadoRadicado][]EstadoRadicado{
	EstadoPendiente:  {EstadoEnProceso},
	EstadoEnProceso:  {EstadoValidado},
	EstadoValidado:   {EstadoLiquidado, EstadoConGlosas},
	EstadoLiquidado:  {EstadoFinalizado},
	EstadoConGlosas:  {EstadoFinalizado},
	EstadoFinalizado: {},
	EstadoRechazado:  {},
}

// Terminal reports whether the state admits no further transitions other
// than a full pipeline re-run (allowed on finalized radicados).
func (e EstadoRadicado) Terminal() bool {
	return e == EstadoFinalizado || e == EstadoRechazado
}

// TipoDocumentoSoporte classifies an attached support document.
type TipoDocumentoSoporte string

const (
	DocumentoFactura      TipoDocumentoSoporte = "factura"
	DocumentoHistoria     TipoDocumentoSoporte = "historia_clinica"
	DocumentoAutorizacion TipoDocumentoSoporte = "autorizacion"
	DocumentoSoporte      TipoDocumentoSoporte = "soporte"
)

// DocumentoAdjunto is one uploaded support document. The engine never parses
// file contents; extraction happens upstream and only the metadata arrives here.
type DocumentoAdjunto struct {
	Tipo           TipoDocumentoSoporte `json:"tipo"`
	NombreOriginal string               `json:"nombre_original"`
	TamanoBytes    int64                `json:"tamano_bytes"`
	Procesado      bool                 `json:"procesado"`
}

// ItemFactura is one billed line item inside a radicado.
type ItemFactura struct {
	ID                   string    `json:"id"`
	CUPS                 string    `json:"cups"`
	Descripcion          string    `json:"descripcion"`
	Cantidad             int       `json:"cantidad"`
	ValorUnitario        float64   `json:"valor_unitario"`
	ValorTotal           float64   `json:"valor_total"`
	FechaServicio        time.Time `json:"fecha_servicio"`
	DiagnosticoPrincipal string    `json:"diagnostico_principal"` // CIE-10
	NumeroAutorizacion   string    `json:"numero_autorizacion,omitempty"`
	Categoria            string    `json:"categoria,omitempty"` // service category, e.g. "CIRUGIA"
}

// Regimen is the patient's affiliation regimen in the Colombian system.
type Regimen string

const (
	RegimenContributivo Regimen = "CONTRIBUTIVO"
	RegimenSubsidiado   Regimen = "SUBSIDIADO"
)

// PerfilPaciente holds the patient attributes the calculators and
// exemption checks need.
type PerfilPaciente struct {
	TipoDocumento    string     `json:"tipo_documento"`
	NumeroDocumento  string     `json:"numero_documento"`
	Nombre           string     `json:"nombre"`
	FechaNacimiento  *time.Time `json:"fecha_nacimiento,omitempty"`
	Regimen          Regimen    `json:"regimen"`
	CategoriaIngreso string     `json:"categoria_ingreso"` // A, B, C
	Embarazada       bool       `json:"embarazada,omitempty"`
	Desplazado       bool       `json:"desplazado,omitempty"`
}

// EdadA returns the patient's age in whole years as of the given date,
// or -1 when the birth date is unknown.
func (p PerfilPaciente) EdadA(fecha time.Time) int {
	if p.FechaNacimiento == nil {
		return -1
	}
	years := fecha.Year() - p.FechaNacimiento.Year()
	if fecha.YearDay() < p.FechaNacimiento.YearDay() {
		years--
	}
	return years
}

// ConsultaExterna records one best-effort external lookup attempt
// (e.g. payer affiliation verification). Failures are observations,
// never pipeline errors.
type ConsultaExterna struct {
	ID         string    `json:"id"`
	RadicadoID string    `json:"radicado_id"`
	Tipo       string    `json:"tipo"`
	Exitosa    bool      `json:"exitosa"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Radicado is one claim bundle submitted by a provider (IPS) to a payer (EPS).
// It owns every artifact the pipeline produces for it. A radicado is never
// deleted, only transitioned.
type Radicado struct {
	ID             string             `json:"id"`
	Numero         string             `json:"numero"`
	IPSNit         string             `json:"ips_nit"`
	EPSNit         string             `json:"eps_nit"`
	EPSNombre      string             `json:"eps_nombre"`
	NumeroFactura  string             `json:"numero_factura"`
	ValorFacturado float64            `json:"valor_facturado"`
	Paciente       PerfilPaciente     `json:"paciente"`
	Documentos     []DocumentoAdjunto `json:"documentos,omitempty"`
	Items          []ItemFactura      `json:"items"`
	Estado         EstadoRadicado     `json:"estado"`
	Observaciones  string             `json:"observaciones,omitempty"`
	ExcelGenerado  bool               `json:"excel_generado"`

	Validaciones      []Validacion      `json:"validaciones,omitempty"`
	Glosas            []Glosa           `json:"glosas,omitempty"`
	ReglasAplicadas   []AplicacionRegla `json:"reglas_aplicadas,omitempty"`
	Liquidacion       *Liquidacion      `json:"liquidacion,omitempty"`
	ConsultasExternas []ConsultaExterna `json:"consultas_externas,omitempty"`

	// Version guards against interleaved pipeline passes. Every persisted
	// pass increments it; a pass that loaded a stale version must abort.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransition reports whether the state machine admits estado as the
// next state. Rejection is allowed from any non-terminal state.
func (r *Radicado) CanTransition(estado EstadoRadicado) bool {
	if estado == EstadoRechazado {
		return !r.Estado.Terminal()
	}
	for _, next := range radicadoTransitions[r.Estado] {
		if next == estado {
			return true
		}
	}
	return false
}

// DocumentosCompletos reports whether every required document type is
// present and processed. Intake requires at least the invoice.
func (r *Radicado) DocumentosCompletos() bool {
	tieneFactura := false
	for _, d := range r.Documentos {
		if !d.Procesado {
			return false
		}
		if d.Tipo == DocumentoFactura {
			tieneFactura = true
		}
	}
	return tieneFactura
}

// Item returns the line item with the given ID.
func (r *Radicado) Item(id string) (*ItemFactura, bool) {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i], true
		}
	}
	return nil, false
}
