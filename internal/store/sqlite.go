package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite, for single-user
// audit work without a Postgres server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and enables WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS radicados (
	id         TEXT PRIMARY KEY,
	numero     TEXT NOT NULL UNIQUE,
	ips_nit    TEXT NOT NULL,
	eps_nit    TEXT NOT NULL,
	estado     TEXT NOT NULL DEFAULT 'pending',
	version    INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_radicados_estado ON radicados(estado);

CREATE TABLE IF NOT EXISTS reglas (
	id         TEXT PRIMARY KEY,
	nombre     TEXT NOT NULL,
	tipo       TEXT NOT NULL,
	activa     INTEGER NOT NULL DEFAULT 1,
	prioridad  INTEGER NOT NULL DEFAULT 100,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS regla_aplicaciones (
	id              TEXT PRIMARY KEY,
	regla_id        TEXT NOT NULL,
	radicado_id     TEXT NOT NULL,
	kind            TEXT NOT NULL,
	veces_aplicada  INTEGER NOT NULL DEFAULT 0,
	valor_afectado  REAL NOT NULL DEFAULT 0,
	glosas_evitadas INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_aplicaciones_regla ON regla_aplicaciones(regla_id);

CREATE TABLE IF NOT EXISTS autorizaciones (
	id         TEXT PRIMARY KEY,
	numero     TEXT NOT NULL UNIQUE,
	documento  TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS convenios (
	id         TEXT PRIMARY KEY,
	eps_nit    TEXT NOT NULL,
	ips_nit    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cuotas_moderadoras (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS habilitaciones (
	id         TEXT PRIMARY KEY,
	ips_nit    TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRadicado(ctx context.Context, rad *model.Radicado) error {
	data, err := json.Marshal(rad)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal radicado")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO radicados (id, numero, ips_nit, eps_nit, estado, version, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rad.ID, rad.Numero, rad.IPSNit, rad.EPSNit, string(rad.Estado), rad.Version, string(data), rad.CreatedAt, rad.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert radicado")
}

func (s *SQLiteStore) GetRadicado(ctx context.Context, id string) (*model.Radicado, error) {
	var data string
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT data, version FROM radicados WHERE id = ?`, id).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get radicado %s", id)
	}

	var rad model.Radicado
	if err := json.Unmarshal([]byte(data), &rad); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal radicado")
	}
	rad.Version = version
	return &rad, nil
}

func (s *SQLiteStore) ListRadicados(ctx context.Context, filter RadicadoFilter) ([]model.Radicado, error) {
	query := `SELECT data, version FROM radicados WHERE 1=1`
	args := []any{}

	if filter.Estado != "" {
		query += ` AND estado = ?`
		args = append(args, string(filter.Estado))
	}
	if filter.EPSNit != "" {
		query += ` AND eps_nit = ?`
		args = append(args, filter.EPSNit)
	}
	if filter.IPSNit != "" {
		query += ` AND ips_nit = ?`
		args = append(args, filter.IPSNit)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list radicados")
	}
	defer rows.Close()

	var out []model.Radicado
	for rows.Next() {
		var data string
		var version int
		if err := rows.Scan(&data, &version); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan radicado")
		}
		var rad model.Radicado
		if err := json.Unmarshal([]byte(data), &rad); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal radicado")
		}
		rad.Version = version
		out = append(out, rad)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list radicados iterate")
}

func (s *SQLiteStore) SavePassResult(ctx context.Context, rad *model.Radicado, loadedVersion int) error {
	rad.Version = loadedVersion + 1
	rad.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rad)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal radicado")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE radicados SET estado = ?, version = ?, data = ?, updated_at = ? WHERE id = ? AND version = ?`,
		string(rad.Estado), rad.Version, string(data), rad.UpdatedAt, rad.ID, loadedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save pass result %s", rad.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(resilience.ErrConflictoConcurrencia, "sqlite: radicado %s version %d", rad.ID, loadedVersion)
	}
	return nil
}

func (s *SQLiteStore) SaveRegla(ctx context.Context, regla *model.Regla) error {
	data, err := json.Marshal(regla)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal regla")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reglas (id, nombre, tipo, activa, prioridad, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET nombre = excluded.nombre, tipo = excluded.tipo,
			activa = excluded.activa, prioridad = excluded.prioridad, data = excluded.data, updated_at = excluded.updated_at`,
		regla.ID, regla.Nombre, string(regla.Tipo), regla.Activa, regla.Prioridad, string(data), regla.CreatedAt, regla.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save regla")
}

func (s *SQLiteStore) GetRegla(ctx context.Context, id string) (*model.Regla, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM reglas WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get regla %s", id)
	}

	var regla model.Regla
	if err := json.Unmarshal([]byte(data), &regla); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal regla")
	}
	return &regla, nil
}

func (s *SQLiteStore) ListReglas(ctx context.Context) ([]model.Regla, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM reglas ORDER BY prioridad ASC, created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reglas")
	}
	defer rows.Close()

	var out []model.Regla
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan regla")
		}
		var regla model.Regla
		if err := json.Unmarshal([]byte(data), &regla); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal regla")
		}
		out = append(out, regla)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reglas iterate")
}

func (s *SQLiteStore) DeleteRegla(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reglas WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete regla %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("regla no encontrada: %s", id)
	}
	return nil
}

func (s *SQLiteStore) ReplaceAplicaciones(ctx context.Context, radicadoID string, aplicaciones []model.AplicacionRegla) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace aplicaciones")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM regla_aplicaciones WHERE radicado_id = ?`, radicadoID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear aplicaciones radicado %s", radicadoID)
	}
	for _, app := range aplicaciones {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO regla_aplicaciones (id, regla_id, radicado_id, kind, veces_aplicada, valor_afectado, glosas_evitadas, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			app.ID, app.ReglaID, app.RadicadoID, string(app.Kind), app.VecesAplicada, app.ValorAfectado, app.GlosasEvitadas, app.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert aplicacion %s", app.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace aplicaciones")
}

func (s *SQLiteStore) EstadisticasRegla(ctx context.Context, reglaID string) (*model.EstadisticasRegla, error) {
	stats := &model.EstadisticasRegla{ReglaID: reglaID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(veces_aplicada), 0), COALESCE(SUM(valor_afectado), 0), COALESCE(SUM(glosas_evitadas), 0)
		 FROM regla_aplicaciones WHERE regla_id = ?`,
		reglaID,
	).Scan(&stats.VecesAplicada, &stats.ValorAfectado, &stats.GlosasEvitadas)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: estadisticas regla %s", reglaID)
	}
	return stats, nil
}

func (s *SQLiteStore) SaveAutorizacion(ctx context.Context, aut *model.Autorizacion) error {
	data, err := json.Marshal(aut)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal autorizacion")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO autorizaciones (id, numero, documento, version, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (numero) DO UPDATE SET documento = excluded.documento,
			version = excluded.version, data = excluded.data, updated_at = excluded.updated_at`,
		aut.ID, aut.Numero, aut.Paciente.NumeroDocumento, aut.Version, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save autorizacion")
}

func (s *SQLiteStore) GetAutorizacion(ctx context.Context, numero string) (*model.Autorizacion, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM autorizaciones WHERE numero = ?`, numero).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get autorizacion %s", numero)
	}

	var aut model.Autorizacion
	if err := json.Unmarshal([]byte(data), &aut); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal autorizacion")
	}
	return &aut, nil
}

func (s *SQLiteStore) ListAutorizaciones(ctx context.Context, numeroDocumento string) ([]model.Autorizacion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM autorizaciones WHERE documento = ? ORDER BY updated_at DESC`,
		numeroDocumento,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list autorizaciones")
	}
	defer rows.Close()

	var out []model.Autorizacion
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan autorizacion")
		}
		var aut model.Autorizacion
		if err := json.Unmarshal([]byte(data), &aut); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal autorizacion")
		}
		out = append(out, aut)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list autorizaciones iterate")
}

func (s *SQLiteStore) SaveConvenio(ctx context.Context, conv *model.ConvenioTarifa) error {
	return s.saveDoc(ctx, "convenios",
		`INSERT INTO convenios (id, eps_nit, ips_nit, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET eps_nit = excluded.eps_nit, ips_nit = excluded.ips_nit,
			data = excluded.data, updated_at = excluded.updated_at`,
		conv, conv.ID, conv.EPSNit, conv.IPSNit)
}

func (s *SQLiteStore) ListConvenios(ctx context.Context, epsNit string) ([]model.ConvenioTarifa, error) {
	return listDocs[model.ConvenioTarifa](ctx, s, `SELECT data FROM convenios WHERE eps_nit = ?`, "convenios", epsNit)
}

func (s *SQLiteStore) SaveCuota(ctx context.Context, cuota *model.CuotaModeradora) error {
	return s.saveDoc(ctx, "cuotas_moderadoras",
		`INSERT INTO cuotas_moderadoras (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		cuota, cuota.ID)
}

func (s *SQLiteStore) ListCuotas(ctx context.Context) ([]model.CuotaModeradora, error) {
	return listDocs[model.CuotaModeradora](ctx, s, `SELECT data FROM cuotas_moderadoras`, "cuotas_moderadoras")
}

func (s *SQLiteStore) SaveHabilitacion(ctx context.Context, hab *model.HabilitacionServicio) error {
	return s.saveDoc(ctx, "habilitaciones",
		`INSERT INTO habilitaciones (id, ips_nit, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET ips_nit = excluded.ips_nit, data = excluded.data, updated_at = excluded.updated_at`,
		hab, hab.ID, hab.IPSNit)
}

func (s *SQLiteStore) ListHabilitaciones(ctx context.Context, ipsNit string) ([]model.HabilitacionServicio, error) {
	return listDocs[model.HabilitacionServicio](ctx, s, `SELECT data FROM habilitaciones WHERE ips_nit = ?`, "habilitaciones", ipsNit)
}

// saveDoc marshals doc and executes the upsert with keyArgs followed by
// the JSON payload and timestamp.
func (s *SQLiteStore) saveDoc(ctx context.Context, table, query string, doc any, keyArgs ...any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", table)
	}
	args := append(keyArgs, string(data), time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "sqlite: save %s", table)
	}
	return nil
}

func listDocs[T any](ctx context.Context, s *SQLiteStore, query, table string, args ...any) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", table)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}
		var doc T
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal %s", table)
		}
		out = append(out, doc)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: list %s iterate", table)
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
