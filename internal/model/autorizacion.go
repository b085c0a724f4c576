package model

import "time"

// EstadoAutorizacion is the lifecycle state of a payer-issued authorization.
type EstadoAutorizacion string

const (
	AutorizacionActiva      EstadoAutorizacion = "active"
	AutorizacionVencida     EstadoAutorizacion = "expired"
	AutorizacionAnulada     EstadoAutorizacion = "voided"
	AutorizacionUsada       EstadoAutorizacion = "used"
	AutorizacionParcialUso  EstadoAutorizacion = "partially-used"
)

// ServicioAutorizado is one procedure the authorization covers, with a
// quantity budget. Invariant: CantidadUsada never exceeds Cantidad.
type ServicioAutorizado struct {
	CUPS            string  `json:"cups"`
	Descripcion     string  `json:"descripcion,omitempty"`
	Cantidad        int     `json:"cantidad"`
	CantidadUsada   int     `json:"cantidad_usada"`
	ValorAutorizado float64 `json:"valor_autorizado"`
}

// Disponible returns the remaining quantity budget.
func (s ServicioAutorizado) Disponible() int {
	return s.Cantidad - s.CantidadUsada
}

// Autorizacion is a payer-issued permission to bill specific procedures
// for a specific patient. Expiry is a pure predicate evaluated by callers;
// persistence of the expired state is an explicit orchestrator decision,
// never a read side effect.
type Autorizacion struct {
	ID                      string               `json:"id"`
	Numero                  string               `json:"numero"`
	Paciente                PerfilPaciente       `json:"paciente"`
	DiagnosticoPrincipal    string               `json:"diagnostico_principal"`
	DiagnosticosSecundarios []string             `json:"diagnosticos_secundarios,omitempty"`
	Servicios               []ServicioAutorizado `json:"servicios"`
	Estado                  EstadoAutorizacion   `json:"estado"`
	FechaExpedicion         time.Time            `json:"fecha_expedicion"`
	FechaVencimiento        time.Time            `json:"fecha_vencimiento"`
	FechaUso                *time.Time           `json:"fecha_uso,omitempty"`
	Version                 int                  `json:"version"`
}

// Vencida reports whether the authorization is past its expiry date.
func (a *Autorizacion) Vencida(fecha time.Time) bool {
	return fecha.After(a.FechaVencimiento)
}

// ActivaA reports whether the authorization can cover services as of the
// given date: not voided, not fully used, and not expired.
func (a *Autorizacion) ActivaA(fecha time.Time) bool {
	switch a.Estado {
	case AutorizacionAnulada, AutorizacionUsada, AutorizacionVencida:
		return false
	}
	return !a.Vencida(fecha)
}

// Servicio returns the authorized service for the given procedure code.
func (a *Autorizacion) Servicio(cups string) (*ServicioAutorizado, bool) {
	for i := range a.Servicios {
		if a.Servicios[i].CUPS == cups {
			return &a.Servicios[i], true
		}
	}
	return nil, false
}

// EstadoDerivado returns the consumption-driven state: used when every
// service budget is exhausted, partially-used when any has been consumed,
// otherwise the current state. Voided and expired are sticky.
func (a *Autorizacion) EstadoDerivado() EstadoAutorizacion {
	if a.Estado == AutorizacionAnulada || a.Estado == AutorizacionVencida {
		return a.Estado
	}
	agotados := 0
	consumidos := 0
	for _, s := range a.Servicios {
		if s.CantidadUsada >= s.Cantidad {
			agotados++
		}
		if s.CantidadUsada > 0 {
			consumidos++
		}
	}
	switch {
	case len(a.Servicios) > 0 && agotados == len(a.Servicios):
		return AutorizacionUsada
	case consumidos > 0:
		return AutorizacionParcialUso
	default:
		return AutorizacionActiva
	}
}
