package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/ledger"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/pipeline"
	"github.com/andina-health/glosas-cli/internal/rules"
	"github.com/andina-health/glosas-cli/internal/store"
)

type fixedInterpreter struct {
	interp *model.Interpretacion
}

func (f fixedInterpreter) Interpret(_ context.Context, _ string, _ model.TipoRegla) (*model.Interpretacion, error) {
	return f.interp, nil
}

func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	cat := catalog.NewMemory()
	cat.Add(catalog.Tarifa{CUPS: "890201", Categoria: "CONSULTA", Valor: 54000})

	env := &auditEnv{
		Store:    st,
		Catalogo: cat,
		Auditor:  pipeline.New(st, cat),
	}
	repo := rules.NewRepository(st, fixedInterpreter{interp: &model.Interpretacion{
		Accion:         model.Accion{Kind: model.AccionSuprimirGlosaBajo, Umbral: 5000},
		Confianza:      90,
		Explicacion:    "suprime glosas menores",
		InterpretadaEn: time.Now().UTC(),
	}})
	return newRouter(env, repo, ledger.New(st)), st
}

func TestRouterHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRouterGetRadicadoNoEncontrado(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/radicados/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterGetRadicado(t *testing.T) {
	r, st := newTestRouter(t)

	rad := &model.Radicado{
		ID: "rad-1", Numero: "RAD-001", IPSNit: "900300400", EPSNit: "800100200",
		Estado: model.EstadoPendiente,
	}
	require.NoError(t, st.CreateRadicado(context.Background(), rad))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/radicados/rad-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out model.Radicado
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "RAD-001", out.Numero)
}

func TestRouterEvaluarNoEncontrado(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/radicados/nope/evaluar", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterCrearYListarReglas(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"nombre":"minimas","descripcion":"no glosar montos menores a 5000 pesos","tipo":"glosa"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reglas", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var regla model.Regla
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regla))
	assert.True(t, regla.Valida())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reglas", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var reglas []model.Regla
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reglas))
	assert.Len(t, reglas, 1)
}

func TestRouterPreviewRegla(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"descripcion":"no glosar montos menores a 5000 pesos","tipo":"glosa"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reglas/preview", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Aplicable bool `json:"aplicable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Aplicable)
}

func TestRouterValidarAutorizacion(t *testing.T) {
	r, st := newTestRouter(t)

	hoy := time.Now().UTC()
	require.NoError(t, st.SaveAutorizacion(context.Background(), &model.Autorizacion{
		ID: "aut-1", Numero: "AUT-001",
		Servicios:        []model.ServicioAutorizado{{CUPS: "890201", Cantidad: 3}},
		Estado:           model.AutorizacionActiva,
		FechaExpedicion:  hoy.AddDate(0, -1, 0),
		FechaVencimiento: hoy.AddDate(0, 1, 0),
	}))

	body := `{"cups":"890201","cantidad":2}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autorizaciones/AUT-001/validar", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var out ledger.ResultadoValidacion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Valida)
	assert.Equal(t, 3, out.Disponible)
}

func TestRouterAutorizacionNoEncontrada(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/autorizaciones/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
