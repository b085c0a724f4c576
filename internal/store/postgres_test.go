package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetRadicado_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data, version FROM radicados WHERE id = \$1`).
		WithArgs("no-existe").
		WillReturnError(pgx.ErrNoRows)

	rad, err := s.GetRadicado(context.Background(), "no-existe")
	require.NoError(t, err)
	assert.Nil(t, rad)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRadicado_VersionColumnWins(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	data, err := json.Marshal(&model.Radicado{ID: "rad-1", Numero: "RAD-001", Version: 1})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data, version FROM radicados WHERE id = \$1`).
		WithArgs("rad-1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(data, 3))

	rad, err := s.GetRadicado(context.Background(), "rad-1")
	require.NoError(t, err)
	assert.Equal(t, "RAD-001", rad.Numero)
	assert.Equal(t, 3, rad.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRadicado(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO radicados`).
		WithArgs("rad-1", "RAD-001", "900300400", "800100200", "pending", 0,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	now := time.Now().UTC()
	err := s.CreateRadicado(context.Background(), &model.Radicado{
		ID: "rad-1", Numero: "RAD-001", IPSNit: "900300400", EPSNit: "800100200",
		Estado: model.EstadoPendiente, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePassResult_VersionBump(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE radicados SET estado = \$1, version = \$2`).
		WithArgs("validated", 3, pgxmock.AnyArg(), pgxmock.AnyArg(), "rad-1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rad := &model.Radicado{ID: "rad-1", Estado: model.EstadoValidado}
	err := s.SavePassResult(context.Background(), rad, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, rad.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePassResult_StaleVersionConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE radicados SET estado = \$1, version = \$2`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "rad-1", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SavePassResult(context.Background(), &model.Radicado{ID: "rad-1"}, 1)
	require.Error(t, err)
	assert.True(t, resilience.IsConflicto(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRegla_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO reglas .* ON CONFLICT`).
		WithArgs("reg-1", "umbral", "glosa", true, 100,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRegla(context.Background(), &model.Regla{
		ID: "reg-1", Nombre: "umbral", Tipo: model.ReglaGlosa, Activa: true, Prioridad: 100,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EstadisticasRegla(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(veces_aplicada\), 0\)`).
		WithArgs("reg-1").
		WillReturnRows(pgxmock.NewRows([]string{"veces", "valor", "evitadas"}).AddRow(7, 125000.0, 4))

	stats, err := s.EstadisticasRegla(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, 7, stats.VecesAplicada)
	assert.InDelta(t, 125000, stats.ValorAfectado, 0.01)
	assert.Equal(t, 4, stats.GlosasEvitadas)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceAplicaciones(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM regla_aplicaciones WHERE radicado_id = \$1`).
		WithArgs("rad-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO regla_aplicaciones`).
		WithArgs("app-1", "reg-1", "rad-1", "suppress_glosa_below", 2, 8000.0, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op

	err := s.ReplaceAplicaciones(context.Background(), "rad-1", []model.AplicacionRegla{{
		ID: "app-1", ReglaID: "reg-1", RadicadoID: "rad-1",
		Kind: model.AccionSuprimirGlosaBajo, VecesAplicada: 2, ValorAfectado: 8000, GlosasEvitadas: 2,
		CreatedAt: time.Now().UTC(),
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAutorizacion_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM autorizaciones WHERE numero = \$1`).
		WithArgs("AUT-X").
		WillReturnError(pgx.ErrNoRows)

	aut, err := s.GetAutorizacion(context.Background(), "AUT-X")
	require.NoError(t, err)
	assert.Nil(t, aut)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRadicados_FiltersByEstado(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	data, err := json.Marshal(&model.Radicado{ID: "rad-1", Estado: model.EstadoPendiente})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data, version FROM radicados WHERE true AND estado = \$1`).
		WithArgs("pending", 100).
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(data, 0))

	out, err := s.ListRadicados(context.Background(), RadicadoFilter{Estado: model.EstadoPendiente})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "rad-1", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS radicados`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
