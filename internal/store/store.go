// Package store persists radicados, rules and reference data behind a
// driver-neutral interface. Postgres backs production; SQLite serves
// single-user and offline setups.
package store

import (
	"context"

	"github.com/andina-health/glosas-cli/internal/model"
)

// RadicadoFilter specifies criteria for listing radicados.
type RadicadoFilter struct {
	Estado model.EstadoRadicado `json:"estado,omitempty"`
	EPSNit string               `json:"eps_nit,omitempty"`
	IPSNit string               `json:"ips_nit,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the audit pipeline.
type Store interface {
	// Radicados
	CreateRadicado(ctx context.Context, rad *model.Radicado) error
	GetRadicado(ctx context.Context, id string) (*model.Radicado, error)
	ListRadicados(ctx context.Context, filter RadicadoFilter) ([]model.Radicado, error)
	// SavePassResult persists a completed pass atomically, guarded by the
	// version the pass loaded. A stale version yields
	// resilience.ErrConflictoConcurrencia and writes nothing.
	SavePassResult(ctx context.Context, rad *model.Radicado, loadedVersion int) error

	// Reglas
	SaveRegla(ctx context.Context, regla *model.Regla) error
	GetRegla(ctx context.Context, id string) (*model.Regla, error)
	ListReglas(ctx context.Context) ([]model.Regla, error)
	DeleteRegla(ctx context.Context, id string) error
	// ReplaceAplicaciones swaps the radicado's rule usage log entries for
	// the latest pass, so re-audits never double-count in the stats.
	ReplaceAplicaciones(ctx context.Context, radicadoID string, aplicaciones []model.AplicacionRegla) error
	EstadisticasRegla(ctx context.Context, reglaID string) (*model.EstadisticasRegla, error)

	// Autorizaciones
	SaveAutorizacion(ctx context.Context, aut *model.Autorizacion) error
	GetAutorizacion(ctx context.Context, numero string) (*model.Autorizacion, error)
	ListAutorizaciones(ctx context.Context, numeroDocumento string) ([]model.Autorizacion, error)

	// Reference data
	SaveConvenio(ctx context.Context, conv *model.ConvenioTarifa) error
	ListConvenios(ctx context.Context, epsNit string) ([]model.ConvenioTarifa, error)
	SaveCuota(ctx context.Context, cuota *model.CuotaModeradora) error
	ListCuotas(ctx context.Context) ([]model.CuotaModeradora, error)
	SaveHabilitacion(ctx context.Context, hab *model.HabilitacionServicio) error
	ListHabilitaciones(ctx context.Context, ipsNit string) ([]model.HabilitacionServicio, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
