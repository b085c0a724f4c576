package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func autorizacionVigente() *Autorizacion {
	return &Autorizacion{
		Numero: "AUT20240001",
		Estado: AutorizacionActiva,
		Servicios: []ServicioAutorizado{
			{CUPS: "890201", Cantidad: 3, CantidadUsada: 0},
			{CUPS: "890301", Cantidad: 1, CantidadUsada: 0},
		},
		FechaExpedicion:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FechaVencimiento: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestActivaA(t *testing.T) {
	a := autorizacionVigente()
	assert.True(t, a.ActivaA(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, a.ActivaA(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestActivaA_Anulada(t *testing.T) {
	a := autorizacionVigente()
	a.Estado = AutorizacionAnulada
	assert.False(t, a.ActivaA(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestServicio_Disponible(t *testing.T) {
	a := autorizacionVigente()
	s, ok := a.Servicio("890201")
	assert.True(t, ok)
	assert.Equal(t, 3, s.Disponible())

	s.CantidadUsada = 2
	assert.Equal(t, 1, s.Disponible())

	_, ok = a.Servicio("999999")
	assert.False(t, ok)
}

func TestEstadoDerivado_Activa(t *testing.T) {
	a := autorizacionVigente()
	assert.Equal(t, AutorizacionActiva, a.EstadoDerivado())
}

func TestEstadoDerivado_ParcialmenteUsada(t *testing.T) {
	a := autorizacionVigente()
	a.Servicios[0].CantidadUsada = 1
	assert.Equal(t, AutorizacionParcialUso, a.EstadoDerivado())
}

func TestEstadoDerivado_Usada(t *testing.T) {
	a := autorizacionVigente()
	a.Servicios[0].CantidadUsada = 3
	a.Servicios[1].CantidadUsada = 1
	assert.Equal(t, AutorizacionUsada, a.EstadoDerivado())
}

func TestEstadoDerivado_AnuladaEsSticky(t *testing.T) {
	a := autorizacionVigente()
	a.Estado = AutorizacionAnulada
	a.Servicios[0].CantidadUsada = 3
	a.Servicios[1].CantidadUsada = 1
	assert.Equal(t, AutorizacionAnulada, a.EstadoDerivado())
}
