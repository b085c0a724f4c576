// Package ledger owns authorization quantity budgets. It is the only
// component with cross-radicado mutable state: consumption of a single
// authorization is serialized through a per-authorization lock so two
// concurrent claims can never jointly over-consume a budget.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/model"
)

// Store is the narrow persistence surface the ledger needs.
type Store interface {
	GetAutorizacion(ctx context.Context, numero string) (*model.Autorizacion, error)
	SaveAutorizacion(ctx context.Context, aut *model.Autorizacion) error
}

// ErrAutorizacionNoEncontrada marks a lookup miss.
var ErrAutorizacionNoEncontrada = eris.New("ledger: authorization not found")

// ErrCantidadInsuficiente marks a consumption request exceeding the
// remaining budget.
var ErrCantidadInsuficiente = eris.New("ledger: insufficient authorized quantity")

// ErrAutorizacionInactiva marks consumption against a voided, used or
// expired authorization.
var ErrAutorizacionInactiva = eris.New("ledger: authorization not active")

// Ledger serializes consumption per authorization number.
type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex dedicated to one authorization number.
func (l *Ledger) lockFor(numero string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[numero]
	if !ok {
		m = &sync.Mutex{}
		l.locks[numero] = m
	}
	return m
}

// Get loads an authorization by number.
func (l *Ledger) Get(ctx context.Context, numero string) (*model.Autorizacion, error) {
	aut, err := l.store.GetAutorizacion(ctx, numero)
	if err != nil {
		return nil, err
	}
	if aut == nil {
		return nil, eris.Wrapf(ErrAutorizacionNoEncontrada, "numero %s", numero)
	}
	return aut, nil
}

// ResultadoValidacion is the outcome of a read-only authorization check.
type ResultadoValidacion struct {
	Valida     bool   `json:"valida"`
	Disponible int    `json:"disponible"`
	Motivo     string `json:"motivo,omitempty"`
}

// Validar checks whether the authorization could cover a request as of the
// given date without consuming anything. A pure read; the outcome is
// advisory and may race with concurrent consumption.
func (l *Ledger) Validar(ctx context.Context, numero, cups string, cantidad int, fecha time.Time) (*ResultadoValidacion, error) {
	aut, err := l.Get(ctx, numero)
	if err != nil {
		return nil, err
	}

	if !aut.ActivaA(fecha) {
		motivo := "vencida"
		if !aut.Vencida(fecha) {
			motivo = string(aut.Estado)
		}
		return &ResultadoValidacion{Motivo: "autorización " + motivo}, nil
	}

	servicio, ok := aut.Servicio(cups)
	if !ok {
		return &ResultadoValidacion{Motivo: "no cubre el procedimiento " + cups}, nil
	}
	if cantidad > servicio.Disponible() {
		return &ResultadoValidacion{
			Disponible: servicio.Disponible(),
			Motivo:     "cantidad disponible insuficiente",
		}, nil
	}

	return &ResultadoValidacion{Valida: true, Disponible: servicio.Disponible()}, nil
}

// Consume decrements the remaining budget for one procedure under the
// authorization. The whole read-check-write runs under the authorization's
// lock; the quantity invariant cantidad_usada ≤ cantidad holds even under
// concurrent claims. The consumption-driven state (partially-used / used)
// is recomputed and persisted together with the counters.
func (l *Ledger) Consume(ctx context.Context, numero, cups string, cantidad int, fecha time.Time) error {
	if cantidad <= 0 {
		return eris.Errorf("ledger: invalid consumption quantity %d", cantidad)
	}

	lock := l.lockFor(numero)
	lock.Lock()
	defer lock.Unlock()

	aut, err := l.Get(ctx, numero)
	if err != nil {
		return err
	}
	if !aut.ActivaA(fecha) {
		return eris.Wrapf(ErrAutorizacionInactiva, "numero %s estado %s", numero, aut.Estado)
	}

	servicio, ok := aut.Servicio(cups)
	if !ok {
		return eris.Wrapf(ErrCantidadInsuficiente, "numero %s no cubre cups %s", numero, cups)
	}
	if cantidad > servicio.Disponible() {
		return eris.Wrapf(ErrCantidadInsuficiente,
			"numero %s cups %s disponible %d solicitado %d",
			numero, cups, servicio.Disponible(), cantidad)
	}

	servicio.CantidadUsada += cantidad
	ahora := fecha
	aut.FechaUso = &ahora
	aut.Estado = aut.EstadoDerivado()
	aut.Version++

	if err := l.store.SaveAutorizacion(ctx, aut); err != nil {
		// Roll the in-memory mutation back so a retry sees clean state.
		servicio.CantidadUsada -= cantidad
		return eris.Wrap(err, "ledger: save consumption")
	}

	zap.L().Info("ledger: quantity consumed",
		zap.String("numero", numero),
		zap.String("cups", cups),
		zap.Int("cantidad", cantidad),
		zap.Int("disponible", servicio.Disponible()),
		zap.String("estado", string(aut.Estado)),
	)
	return nil
}

// Release returns previously consumed quantity, used when a pipeline pass
// fails after consumption so no partial effect survives.
func (l *Ledger) Release(ctx context.Context, numero, cups string, cantidad int) error {
	if cantidad <= 0 {
		return eris.Errorf("ledger: invalid release quantity %d", cantidad)
	}

	lock := l.lockFor(numero)
	lock.Lock()
	defer lock.Unlock()

	aut, err := l.Get(ctx, numero)
	if err != nil {
		return err
	}
	servicio, ok := aut.Servicio(cups)
	if !ok {
		return eris.Errorf("ledger: release for unknown cups %s on %s", cups, numero)
	}
	if cantidad > servicio.CantidadUsada {
		cantidad = servicio.CantidadUsada
	}
	servicio.CantidadUsada -= cantidad
	aut.Estado = aut.EstadoDerivado()
	aut.Version++

	return eris.Wrap(l.store.SaveAutorizacion(ctx, aut), "ledger: save release")
}

// Anular voids an authorization. Voiding is explicit and terminal.
func (l *Ledger) Anular(ctx context.Context, numero string) error {
	lock := l.lockFor(numero)
	lock.Lock()
	defer lock.Unlock()

	aut, err := l.Get(ctx, numero)
	if err != nil {
		return err
	}
	switch aut.Estado {
	case model.AutorizacionActiva, model.AutorizacionParcialUso:
	default:
		return eris.Errorf("ledger: cannot void authorization in state %s", aut.Estado)
	}
	aut.Estado = model.AutorizacionAnulada
	aut.Version++
	return eris.Wrap(l.store.SaveAutorizacion(ctx, aut), "ledger: save void")
}

// MarcarVencida persists the expired state for an authorization whose
// expiry date has passed. Callers detect expiry through the pure
// Vencida predicate; this is the explicit persistence step.
func (l *Ledger) MarcarVencida(ctx context.Context, numero string, fecha time.Time) error {
	lock := l.lockFor(numero)
	lock.Lock()
	defer lock.Unlock()

	aut, err := l.Get(ctx, numero)
	if err != nil {
		return err
	}
	if !aut.Vencida(fecha) || aut.Estado == model.AutorizacionAnulada || aut.Estado == model.AutorizacionVencida {
		return nil
	}
	aut.Estado = model.AutorizacionVencida
	aut.Version++
	return eris.Wrap(l.store.SaveAutorizacion(ctx, aut), "ledger: save expiry")
}
