package rules

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-health/glosas-cli/internal/model"
)

type fakeInterpreter struct {
	interp  *model.Interpretacion
	err     error
	llamadas int
}

func (f *fakeInterpreter) Interpret(_ context.Context, _ string, _ model.TipoRegla) (*model.Interpretacion, error) {
	f.llamadas++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.interp
	return &cp, nil
}

type fakeReglaStore struct {
	reglas map[string]*model.Regla
	stats  map[string]*model.EstadisticasRegla
	errSave error
}

func newFakeReglaStore() *fakeReglaStore {
	return &fakeReglaStore{
		reglas: make(map[string]*model.Regla),
		stats:  make(map[string]*model.EstadisticasRegla),
	}
}

func (s *fakeReglaStore) SaveRegla(_ context.Context, regla *model.Regla) error {
	if s.errSave != nil {
		return s.errSave
	}
	cp := *regla
	s.reglas[regla.ID] = &cp
	return nil
}

func (s *fakeReglaStore) GetRegla(_ context.Context, id string) (*model.Regla, error) {
	r, ok := s.reglas[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeReglaStore) ListReglas(_ context.Context) ([]model.Regla, error) {
	var out []model.Regla
	for _, r := range s.reglas {
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeReglaStore) DeleteRegla(_ context.Context, id string) error {
	delete(s.reglas, id)
	return nil
}

func (s *fakeReglaStore) EstadisticasRegla(_ context.Context, reglaID string) (*model.EstadisticasRegla, error) {
	if st, ok := s.stats[reglaID]; ok {
		return st, nil
	}
	return &model.EstadisticasRegla{ReglaID: reglaID}, nil
}

func interpValida() *model.Interpretacion {
	return &model.Interpretacion{
		Accion:      model.Accion{Kind: model.AccionSuprimirGlosaBajo, Umbral: 5000},
		Confianza:   88,
		Explicacion: "Suprime glosas menores al umbral",
	}
}

func TestCreateInterpretaYPersiste(t *testing.T) {
	store := newFakeReglaStore()
	interp := &fakeInterpreter{interp: interpValida()}
	repo := NewRepository(store, interp)

	regla, err := repo.Create(context.Background(), "umbral minimo", "No glosar montos menores a $5.000", model.ReglaGlosa, 0)

	require.NoError(t, err)
	assert.NotEmpty(t, regla.ID)
	assert.Equal(t, model.PrioridadDefecto, regla.Prioridad)
	assert.True(t, regla.Activa)
	require.NotNil(t, regla.Interpretacion)
	assert.True(t, regla.Valida())
	assert.Equal(t, 1, interp.llamadas)
	assert.Contains(t, store.reglas, regla.ID)
}

func TestCreateConInterpretacionFallidaGuardaSinAccion(t *testing.T) {
	store := newFakeReglaStore()
	interp := &fakeInterpreter{err: eris.New("modelo no disponible")}
	repo := NewRepository(store, interp)

	regla, err := repo.Create(context.Background(), "x", "texto ambiguo", model.ReglaGeneral, 50)

	require.NoError(t, err)
	assert.Nil(t, regla.Interpretacion)
	assert.False(t, regla.Valida())
}

func TestUpdateReinterpretaSoloSiCambiaTexto(t *testing.T) {
	store := newFakeReglaStore()
	interp := &fakeInterpreter{interp: interpValida()}
	repo := NewRepository(store, interp)

	regla, err := repo.Create(context.Background(), "r", "descripcion original", model.ReglaGlosa, 10)
	require.NoError(t, err)
	require.Equal(t, 1, interp.llamadas)

	// Priority-only edit keeps the interpretation without another call.
	actualizada, err := repo.Update(context.Background(), regla.ID, "r", "descripcion original", model.ReglaGlosa, 99, true)
	require.NoError(t, err)
	assert.Equal(t, 1, interp.llamadas)
	assert.Equal(t, 99, actualizada.Prioridad)
	require.NotNil(t, actualizada.Interpretacion)

	actualizada, err = repo.Update(context.Background(), regla.ID, "r", "descripcion nueva", model.ReglaGlosa, 99, true)
	require.NoError(t, err)
	assert.Equal(t, 2, interp.llamadas)
	require.NotNil(t, actualizada.Interpretacion)
}

func TestUpdateReinterpretaSiCambiaTipo(t *testing.T) {
	store := newFakeReglaStore()
	interp := &fakeInterpreter{interp: interpValida()}
	repo := NewRepository(store, interp)

	regla, err := repo.Create(context.Background(), "r", "misma descripcion", model.ReglaGlosa, 10)
	require.NoError(t, err)

	_, err = repo.Update(context.Background(), regla.ID, "r", "misma descripcion", model.ReglaValor, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 2, interp.llamadas)
}

func TestActivarConservaInterpretacion(t *testing.T) {
	store := newFakeReglaStore()
	interp := &fakeInterpreter{interp: interpValida()}
	repo := NewRepository(store, interp)

	regla, err := repo.Create(context.Background(), "r", "d", model.ReglaGlosa, 10)
	require.NoError(t, err)

	apagada, err := repo.Activar(context.Background(), regla.ID, false)
	require.NoError(t, err)
	assert.False(t, apagada.Activa)
	require.NotNil(t, apagada.Interpretacion)
	assert.Equal(t, 1, interp.llamadas)
}

func TestGetNoEncontrada(t *testing.T) {
	repo := NewRepository(newFakeReglaStore(), &fakeInterpreter{interp: interpValida()})

	_, err := repo.Get(context.Background(), "no-existe")

	assert.ErrorIs(t, err, ErrReglaNoEncontrada)
}

func TestPreviewNoPersiste(t *testing.T) {
	store := newFakeReglaStore()
	repo := NewRepository(store, &fakeInterpreter{interp: interpValida()})

	interp, aplicable, err := repo.Preview(context.Background(), "No glosar montos menores a $5.000", model.ReglaGlosa)

	require.NoError(t, err)
	assert.True(t, aplicable)
	assert.Equal(t, model.AccionSuprimirGlosaBajo, interp.Accion.Kind)
	assert.Empty(t, store.reglas)
}

func TestPreviewBajaConfianzaNoAplicable(t *testing.T) {
	baja := interpValida()
	baja.Confianza = 30
	repo := NewRepository(newFakeReglaStore(), &fakeInterpreter{interp: baja})

	_, aplicable, err := repo.Preview(context.Background(), "texto vago", model.ReglaGeneral)

	require.NoError(t, err)
	assert.False(t, aplicable)
}
