package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/annotated-calllog/internal/db"
	"github.com/sells-group/annotated-calllog/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	maxRows int
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlGetPref    = `SELECT value FROM prefs WHERE key = $1`
	sqlSetPref    = `INSERT INTO prefs (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	sqlDeletePref = `DELETE FROM prefs WHERE key = $1`
	sqlAllIDs     = `SELECT id FROM annotated_call_log`
	sqlNumberByID = `SELECT id, number, COALESCE(number_country_iso, '') FROM annotated_call_log WHERE number IS NOT NULL`
	sqlDistinct   = `SELECT DISTINCT number, COALESCE(number_country_iso, '') FROM annotated_call_log WHERE number IS NOT NULL ORDER BY 1, 2`
	sqlGetHistory = `SELECT h.normalized_number, h.country_iso, h.lookup_info FROM phone_lookup_history h
		JOIN unnest($1::text[], $2::text[]) AS k(n, c) ON h.normalized_number = k.n AND h.country_iso = k.c`
	sqlDeleteHistory = `DELETE FROM phone_lookup_history h
		USING unnest($1::text[], $2::text[]) AS k(n, c) WHERE h.normalized_number = k.n AND h.country_iso = k.c`
	sqlTrimRows = `DELETE FROM annotated_call_log WHERE id IN (
		SELECT id FROM annotated_call_log WHERE NOT COALESCE(is_voicemail_call, false)
		ORDER BY timestamp DESC, id DESC OFFSET $1)`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_pref":     sqlGetPref,
	"set_pref":     sqlSetPref,
	"delete_pref":  sqlDeletePref,
	"all_ids":      sqlAllIDs,
	"number_by_id": sqlNumberByID,
	"get_history":  sqlGetHistory,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts Options) (*PostgresStore, error) {
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
	return &PostgresStore{pool: pool, closeFn: pool.Close, maxRows: opts.MaxRows}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS annotated_call_log (
	id                  BIGINT PRIMARY KEY,
	timestamp           BIGINT,
	number              TEXT,
	number_country_iso  TEXT,
	formatted_number    TEXT,
	duration_ms         BIGINT,
	call_type           BIGINT,
	is_read             BOOLEAN,
	new                 BOOLEAN,
	is_voicemail_call   BOOLEAN,
	name                TEXT,
	photo_uri           TEXT,
	photo_id            BIGINT,
	lookup_uri          TEXT,
	number_type_label   TEXT,
	is_business         BOOLEAN,
	is_blocked          BOOLEAN,
	is_emergency_number BOOLEAN
);

CREATE TABLE IF NOT EXISTS phone_lookup_history (
	normalized_number TEXT NOT NULL,
	country_iso       TEXT NOT NULL DEFAULT '',
	lookup_info       BYTEA NOT NULL,
	last_modified     BIGINT NOT NULL,
	PRIMARY KEY (normalized_number, country_iso)
);

CREATE TABLE IF NOT EXISTS prefs (
	key   TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotated_call_log_timestamp ON annotated_call_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_annotated_call_log_number ON annotated_call_log(number, number_country_iso);
`

var historyUpsert = db.UpsertConfig{
	Table:        "phone_lookup_history",
	Columns:      []string{"normalized_number", "country_iso", "lookup_info", "last_modified"},
	ConflictKeys: []string{"normalized_number", "country_iso"},
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

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// ApplyMutations writes inserts with COPY, then updates and deletes, then
// trims the table to maxRows, all in one transaction.
func (s *PostgresStore) ApplyMutations(ctx context.Context, inserts, updates map[int64]model.RowValues, deletes []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: apply mutations: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(inserts) > 0 {
		rows := make([][]any, 0, len(inserts))
		for _, id := range sortedIDs(inserts) {
			rows = append(rows, insertValues(id, inserts[id]))
		}
		if _, err := db.CopyFrom(ctx, tx, "annotated_call_log", rowColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: apply mutations: insert")
		}
	}

	for _, id := range sortedIDs(updates) {
		query, args := updateStatement(id, updates[id], pgPlaceholder)
		if query == "" {
			continue
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "postgres: apply mutations: update %d", id)
		}
	}

	if len(deletes) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM annotated_call_log WHERE id = ANY($1)`, deletes); err != nil {
			return eris.Wrap(err, "postgres: apply mutations: delete")
		}
	}

	if s.maxRows > 0 && len(inserts) > 0 {
		if _, err := tx.Exec(ctx, sqlTrimRows, s.maxRows); err != nil {
			return eris.Wrap(err, "postgres: apply mutations: trim")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: apply mutations: commit")
	}
	return nil
}

func (s *PostgresStore) AnnotatedIDs(ctx context.Context) (*roaring64.Bitmap, error) {
	rows, err := s.pool.Query(ctx, sqlAllIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: annotated ids")
	}
	defer rows.Close()

	ids := roaring64.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan annotated id")
		}
		ids.Add(uint64(id))
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate annotated ids")
}

func (s *PostgresStore) NumbersByID(ctx context.Context) (map[int64]model.DialerPhoneNumber, error) {
	rows, err := s.pool.Query(ctx, sqlNumberByID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: numbers by id")
	}
	defer rows.Close()

	out := make(map[int64]model.DialerPhoneNumber)
	for rows.Next() {
		var (
			id int64
			n  model.DialerPhoneNumber
		)
		if err := rows.Scan(&id, &n.NormalizedNumber, &n.CountryISO); err != nil {
			return nil, eris.Wrap(err, "postgres: scan number")
		}
		out[id] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate numbers")
}

func (s *PostgresStore) DistinctNumbers(ctx context.Context) ([]model.DialerPhoneNumber, error) {
	rows, err := s.pool.Query(ctx, sqlDistinct)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct numbers")
	}
	defer rows.Close()

	var out []model.DialerPhoneNumber
	for rows.Next() {
		var n model.DialerPhoneNumber
		if err := rows.Scan(&n.NormalizedNumber, &n.CountryISO); err != nil {
			return nil, eris.Wrap(err, "postgres: scan distinct number")
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate distinct numbers")
}

// ListRows returns up to limit rows, newest first. limit <= 0 returns all.
func (s *PostgresStore) ListRows(ctx context.Context, limit int) ([]model.AnnotatedRow, error) {
	query := selectRowsSQL()
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rows")
	}
	defer rows.Close()

	var out []model.AnnotatedRow
	for rows.Next() {
		var r scannedRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		out = append(out, r.row())
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rows")
}

func (s *PostgresStore) ClearAnnotatedCallLog(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM annotated_call_log")
	return eris.Wrap(err, "postgres: clear annotated call log")
}

func splitNumbers(numbers []model.DialerPhoneNumber) (normalized, countries []string) {
	normalized = make([]string, len(numbers))
	countries = make([]string, len(numbers))
	for i, n := range numbers {
		normalized[i], countries[i] = n.NormalizedNumber, n.CountryISO
	}
	return normalized, countries
}

func (s *PostgresStore) GetLookupHistory(ctx context.Context, numbers []model.DialerPhoneNumber) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	if len(numbers) == 0 {
		return out, nil
	}
	normalized, countries := splitNumbers(numbers)
	rows, err := s.pool.Query(ctx, sqlGetHistory, normalized, countries)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lookup history")
	}
	defer rows.Close()
	if err := scanHistory(rows, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ApplyLookupHistory(ctx context.Context, updates map[model.DialerPhoneNumber]model.PhoneLookupInfo, deletes []model.DialerPhoneNumber) error {
	if len(updates) == 0 && len(deletes) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	rows := make([][]any, 0, len(updates))
	for n, info := range updates {
		blob, err := model.MarshalLookupInfo(info)
		if err != nil {
			return err
		}
		rows = append(rows, []any{n.NormalizedNumber, n.CountryISO, blob, now})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: apply lookup history: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.BulkUpsertTx(ctx, tx, historyUpsert, rows); err != nil {
		return eris.Wrap(err, "postgres: upsert lookup history")
	}
	if len(deletes) > 0 {
		normalized, countries := splitNumbers(deletes)
		if _, err := tx.Exec(ctx, sqlDeleteHistory, normalized, countries); err != nil {
			return eris.Wrap(err, "postgres: delete lookup history")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: apply lookup history: commit")
}

func (s *PostgresStore) ClearLookupHistory(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM phone_lookup_history")
	return eris.Wrap(err, "postgres: clear lookup history")
}

func (s *PostgresStore) GetInt64(ctx context.Context, key string, def int64) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, sqlGetPref, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: get pref %s", key)
	}
	return v, nil
}

func (s *PostgresStore) SetInt64(ctx context.Context, key string, v int64) error {
	_, err := s.pool.Exec(ctx, sqlSetPref, key, v)
	return eris.Wrapf(err, "postgres: set pref %s", key)
}

func (s *PostgresStore) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := s.GetInt64(ctx, key, boolToInt(def))
	return v != 0, err
}

func (s *PostgresStore) SetBool(ctx context.Context, key string, v bool) error {
	return s.SetInt64(ctx, key, boolToInt(v))
}

func (s *PostgresStore) DeletePref(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, sqlDeletePref, key)
	return eris.Wrapf(err, "postgres: delete pref %s", key)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
