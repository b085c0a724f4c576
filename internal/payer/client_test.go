package payer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-health/glosas-cli/internal/model"
)

func TestVerifyAfiliacionActiva(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/afiliados/123456", r.URL.Path)
		assert.Equal(t, "800100200", r.URL.Query().Get("eps"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"numero_documento":"123456","eps_nit":"800100200","activa":true,"regimen":"CONTRIBUTIVO"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	af, err := client.VerifyAfiliacion(context.Background(), "800100200", "123456")

	require.NoError(t, err)
	assert.True(t, af.Activa)
	assert.Equal(t, model.RegimenContributivo, af.Regimen)
}

func TestVerifyAfiliacionNoEncontrado(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.VerifyAfiliacion(context.Background(), "800100200", "999")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no encontrado")
}

func TestVerifyAfiliacionReintentaTransitorios(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"numero_documento":"123456","activa":true,"regimen":"SUBSIDIADO"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRateLimit(1000))
	af, err := client.VerifyAfiliacion(context.Background(), "800100200", "123456")

	require.NoError(t, err)
	assert.True(t, af.Activa)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConsultarRegistraExito(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"numero_documento":"123456","activa":true,"regimen":"CONTRIBUTIVO"}`))
	}))
	defer srv.Close()

	rad := &model.Radicado{
		ID:       "rad-1",
		EPSNit:   "800100200",
		Paciente: model.PerfilPaciente{NumeroDocumento: "123456"},
	}

	consulta := Consultar(context.Background(), NewClient(srv.URL), rad)

	assert.True(t, consulta.Exitosa)
	assert.Empty(t, consulta.Error)
	assert.Equal(t, "rad-1", consulta.RadicadoID)
	assert.Equal(t, "verificacion_afiliacion", consulta.Tipo)
}

type fallaClient struct{}

func (fallaClient) VerifyAfiliacion(context.Context, string, string) (*Afiliacion, error) {
	return nil, eris.New("payer caido")
}

func TestConsultarNuncaFalla(t *testing.T) {
	rad := &model.Radicado{ID: "rad-1", EPSNit: "800100200"}

	consulta := Consultar(context.Background(), fallaClient{}, rad)

	assert.False(t, consulta.Exitosa)
	assert.Contains(t, consulta.Error, "payer caido")
}

func TestConsultarAfiliacionInactiva(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"numero_documento":"123456","activa":false,"regimen":"SUBSIDIADO"}`))
	}))
	defer srv.Close()

	rad := &model.Radicado{ID: "rad-1", EPSNit: "800100200", Paciente: model.PerfilPaciente{NumeroDocumento: "123456"}}

	consulta := Consultar(context.Background(), NewClient(srv.URL), rad)

	assert.True(t, consulta.Exitosa)
	assert.Contains(t, consulta.Error, "afiliación activa")
}
