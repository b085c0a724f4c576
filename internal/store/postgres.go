package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/andina-health/glosas-cli/internal/db"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool. Radicados and reference
// documents live as JSONB alongside the scalar columns the filters need.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new
// connection.
var preparedStatements = map[string]string{
	"get_radicado":      `SELECT data, version FROM radicados WHERE id = $1`,
	"save_pass":         `UPDATE radicados SET estado = $1, version = $2, data = $3, updated_at = $4 WHERE id = $5 AND version = $6`,
	"get_regla":         `SELECT data FROM reglas WHERE id = $1`,
	"get_autorizacion":  `SELECT data FROM autorizaciones WHERE numero = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, mainly for tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for bulk loaders (catalog seeds).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS radicados (
	id         TEXT PRIMARY KEY,
	numero     TEXT NOT NULL UNIQUE,
	ips_nit    TEXT NOT NULL,
	eps_nit    TEXT NOT NULL,
	estado     TEXT NOT NULL DEFAULT 'pending',
	version    INTEGER NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_radicados_estado ON radicados(estado);
CREATE INDEX IF NOT EXISTS idx_radicados_eps ON radicados(eps_nit);
CREATE INDEX IF NOT EXISTS idx_radicados_ips ON radicados(ips_nit);

CREATE TABLE IF NOT EXISTS reglas (
	id         TEXT PRIMARY KEY,
	nombre     TEXT NOT NULL,
	tipo       TEXT NOT NULL,
	activa     BOOLEAN NOT NULL DEFAULT true,
	prioridad  INTEGER NOT NULL DEFAULT 100,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reglas_activa ON reglas(activa);

CREATE TABLE IF NOT EXISTS regla_aplicaciones (
	id              TEXT PRIMARY KEY,
	regla_id        TEXT NOT NULL,
	radicado_id     TEXT NOT NULL,
	kind            TEXT NOT NULL,
	veces_aplicada  INTEGER NOT NULL DEFAULT 0,
	valor_afectado  DOUBLE PRECISION NOT NULL DEFAULT 0,
	glosas_evitadas INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_aplicaciones_regla ON regla_aplicaciones(regla_id);
CREATE INDEX IF NOT EXISTS idx_aplicaciones_radicado ON regla_aplicaciones(radicado_id);

CREATE TABLE IF NOT EXISTS autorizaciones (
	id         TEXT PRIMARY KEY,
	numero     TEXT NOT NULL UNIQUE,
	documento  TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_autorizaciones_documento ON autorizaciones(documento);

CREATE TABLE IF NOT EXISTS convenios (
	id         TEXT PRIMARY KEY,
	eps_nit    TEXT NOT NULL,
	ips_nit    TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_convenios_eps ON convenios(eps_nit);

CREATE TABLE IF NOT EXISTS cuotas_moderadoras (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS habilitaciones (
	id         TEXT PRIMARY KEY,
	ips_nit    TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_habilitaciones_ips ON habilitaciones(ips_nit);

CREATE TABLE IF NOT EXISTS tarifas (
	cups       TEXT PRIMARY KEY,
	descripcion TEXT NOT NULL DEFAULT '',
	categoria  TEXT NOT NULL DEFAULT '',
	valor      DOUBLE PRECISION NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRadicado(ctx context.Context, rad *model.Radicado) error {
	data, err := json.Marshal(rad)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal radicado")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO radicados (id, numero, ips_nit, eps_nit, estado, version, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rad.ID, rad.Numero, rad.IPSNit, rad.EPSNit, string(rad.Estado), rad.Version, data, rad.CreatedAt, rad.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert radicado")
}

func (s *PostgresStore) GetRadicado(ctx context.Context, id string) (*model.Radicado, error) {
	var data []byte
	var version int
	err := s.pool.QueryRow(ctx, `SELECT data, version FROM radicados WHERE id = $1`, id).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get radicado %s", id)
	}

	var rad model.Radicado
	if err := json.Unmarshal(data, &rad); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal radicado")
	}
	// The column is authoritative: the JSONB copy may trail by one write.
	rad.Version = version
	return &rad, nil
}

func (s *PostgresStore) ListRadicados(ctx context.Context, filter RadicadoFilter) ([]model.Radicado, error) {
	query := `SELECT data, version FROM radicados WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Estado != "" {
		query += fmt.Sprintf(` AND estado = $%d`, argIdx)
		args = append(args, string(filter.Estado))
		argIdx++
	}
	if filter.EPSNit != "" {
		query += fmt.Sprintf(` AND eps_nit = $%d`, argIdx)
		args = append(args, filter.EPSNit)
		argIdx++
	}
	if filter.IPSNit != "" {
		query += fmt.Sprintf(` AND ips_nit = $%d`, argIdx)
		args = append(args, filter.IPSNit)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list radicados")
	}
	defer rows.Close()

	var out []model.Radicado
	for rows.Next() {
		var data []byte
		var version int
		if err := rows.Scan(&data, &version); err != nil {
			return nil, eris.Wrap(err, "postgres: scan radicado")
		}
		var rad model.Radicado
		if err := json.Unmarshal(data, &rad); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal radicado")
		}
		rad.Version = version
		out = append(out, rad)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list radicados iterate")
}

// SavePassResult persists the pass output guarded by the version the pass
// loaded. The stored version becomes loadedVersion+1; a mismatch means
// another pass won the race.
func (s *PostgresStore) SavePassResult(ctx context.Context, rad *model.Radicado, loadedVersion int) error {
	rad.Version = loadedVersion + 1
	rad.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rad)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal radicado")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE radicados SET estado = $1, version = $2, data = $3, updated_at = $4 WHERE id = $5 AND version = $6`,
		string(rad.Estado), rad.Version, data, rad.UpdatedAt, rad.ID, loadedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save pass result %s", rad.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(resilience.ErrConflictoConcurrencia, "postgres: radicado %s version %d", rad.ID, loadedVersion)
	}
	return nil
}

func (s *PostgresStore) SaveRegla(ctx context.Context, regla *model.Regla) error {
	data, err := json.Marshal(regla)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal regla")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reglas (id, nombre, tipo, activa, prioridad, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET nombre = $2, tipo = $3, activa = $4, prioridad = $5, data = $6, updated_at = $8`,
		regla.ID, regla.Nombre, string(regla.Tipo), regla.Activa, regla.Prioridad, data, regla.CreatedAt, regla.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save regla")
}

func (s *PostgresStore) GetRegla(ctx context.Context, id string) (*model.Regla, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM reglas WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get regla %s", id)
	}

	var regla model.Regla
	if err := json.Unmarshal(data, &regla); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal regla")
	}
	return &regla, nil
}

func (s *PostgresStore) ListReglas(ctx context.Context) ([]model.Regla, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM reglas ORDER BY prioridad ASC, created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reglas")
	}
	defer rows.Close()

	var out []model.Regla
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan regla")
		}
		var regla model.Regla
		if err := json.Unmarshal(data, &regla); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal regla")
		}
		out = append(out, regla)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reglas iterate")
}

func (s *PostgresStore) DeleteRegla(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reglas WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete regla %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("regla no encontrada: %s", id)
	}
	return nil
}

func (s *PostgresStore) ReplaceAplicaciones(ctx context.Context, radicadoID string, aplicaciones []model.AplicacionRegla) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace aplicaciones")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM regla_aplicaciones WHERE radicado_id = $1`, radicadoID,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear aplicaciones radicado %s", radicadoID)
	}
	for _, app := range aplicaciones {
		_, err := tx.Exec(ctx,
			`INSERT INTO regla_aplicaciones (id, regla_id, radicado_id, kind, veces_aplicada, valor_afectado, glosas_evitadas, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			app.ID, app.ReglaID, app.RadicadoID, string(app.Kind), app.VecesAplicada, app.ValorAfectado, app.GlosasEvitadas, app.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert aplicacion %s", app.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace aplicaciones")
}

func (s *PostgresStore) EstadisticasRegla(ctx context.Context, reglaID string) (*model.EstadisticasRegla, error) {
	stats := &model.EstadisticasRegla{ReglaID: reglaID}
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(veces_aplicada), 0), COALESCE(SUM(valor_afectado), 0), COALESCE(SUM(glosas_evitadas), 0)
		 FROM regla_aplicaciones WHERE regla_id = $1`,
		reglaID,
	).Scan(&stats.VecesAplicada, &stats.ValorAfectado, &stats.GlosasEvitadas)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: estadisticas regla %s", reglaID)
	}
	return stats, nil
}

func (s *PostgresStore) SaveAutorizacion(ctx context.Context, aut *model.Autorizacion) error {
	data, err := json.Marshal(aut)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal autorizacion")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO autorizaciones (id, numero, documento, version, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (numero) DO UPDATE SET documento = $3, version = $4, data = $5, updated_at = $6`,
		aut.ID, aut.Numero, aut.Paciente.NumeroDocumento, aut.Version, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save autorizacion")
}

func (s *PostgresStore) GetAutorizacion(ctx context.Context, numero string) (*model.Autorizacion, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM autorizaciones WHERE numero = $1`, numero).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get autorizacion %s", numero)
	}

	var aut model.Autorizacion
	if err := json.Unmarshal(data, &aut); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal autorizacion")
	}
	return &aut, nil
}

func (s *PostgresStore) ListAutorizaciones(ctx context.Context, numeroDocumento string) ([]model.Autorizacion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM autorizaciones WHERE documento = $1 ORDER BY updated_at DESC`,
		numeroDocumento,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list autorizaciones")
	}
	defer rows.Close()

	var out []model.Autorizacion
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan autorizacion")
		}
		var aut model.Autorizacion
		if err := json.Unmarshal(data, &aut); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal autorizacion")
		}
		out = append(out, aut)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list autorizaciones iterate")
}

func (s *PostgresStore) SaveConvenio(ctx context.Context, conv *model.ConvenioTarifa) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal convenio")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO convenios (id, eps_nit, ips_nit, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET eps_nit = $2, ips_nit = $3, data = $4, updated_at = $5`,
		conv.ID, conv.EPSNit, conv.IPSNit, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save convenio")
}

func (s *PostgresStore) ListConvenios(ctx context.Context, epsNit string) ([]model.ConvenioTarifa, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM convenios WHERE eps_nit = $1`, epsNit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list convenios")
	}
	defer rows.Close()

	var out []model.ConvenioTarifa
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan convenio")
		}
		var conv model.ConvenioTarifa
		if err := json.Unmarshal(data, &conv); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal convenio")
		}
		out = append(out, conv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list convenios iterate")
}

func (s *PostgresStore) SaveCuota(ctx context.Context, cuota *model.CuotaModeradora) error {
	data, err := json.Marshal(cuota)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cuota")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cuotas_moderadoras (id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = $2, updated_at = $3`,
		cuota.ID, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save cuota")
}

func (s *PostgresStore) ListCuotas(ctx context.Context) ([]model.CuotaModeradora, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM cuotas_moderadoras`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cuotas")
	}
	defer rows.Close()

	var out []model.CuotaModeradora
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cuota")
		}
		var cuota model.CuotaModeradora
		if err := json.Unmarshal(data, &cuota); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cuota")
		}
		out = append(out, cuota)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list cuotas iterate")
}

func (s *PostgresStore) SaveHabilitacion(ctx context.Context, hab *model.HabilitacionServicio) error {
	data, err := json.Marshal(hab)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal habilitacion")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO habilitaciones (id, ips_nit, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET ips_nit = $2, data = $3, updated_at = $4`,
		hab.ID, hab.IPSNit, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save habilitacion")
}

func (s *PostgresStore) ListHabilitaciones(ctx context.Context, ipsNit string) ([]model.HabilitacionServicio, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM habilitaciones WHERE ips_nit = $1`, ipsNit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list habilitaciones")
	}
	defer rows.Close()

	var out []model.HabilitacionServicio
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan habilitacion")
		}
		var hab model.HabilitacionServicio
		if err := json.Unmarshal(data, &hab); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal habilitacion")
		}
		out = append(out, hab)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list habilitaciones iterate")
}
