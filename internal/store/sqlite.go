package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	maxRows int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, maxRows: opts.MaxRows}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS annotated_call_log (
	id                  INTEGER PRIMARY KEY,
	timestamp           INTEGER,
	number              TEXT,
	number_country_iso  TEXT,
	formatted_number    TEXT,
	duration_ms         INTEGER,
	call_type           INTEGER,
	is_read             INTEGER,
	new                 INTEGER,
	is_voicemail_call   INTEGER,
	name                TEXT,
	photo_uri           TEXT,
	photo_id            INTEGER,
	lookup_uri          TEXT,
	number_type_label   TEXT,
	is_business         INTEGER,
	is_blocked          INTEGER,
	is_emergency_number INTEGER
);

CREATE TABLE IF NOT EXISTS phone_lookup_history (
	normalized_number TEXT NOT NULL,
	country_iso       TEXT NOT NULL DEFAULT '',
	lookup_info       BLOB NOT NULL,
	last_modified     INTEGER NOT NULL,
	PRIMARY KEY (normalized_number, country_iso)
);

CREATE TABLE IF NOT EXISTS prefs (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotated_call_log_timestamp ON annotated_call_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_annotated_call_log_number ON annotated_call_log(number, number_country_iso);

DROP TRIGGER IF EXISTS trim_annotated_call_log;
`

// trimTrigger evicts the oldest non-voicemail rows beyond the cap after every
// insert.
const trimTrigger = `
CREATE TRIGGER trim_annotated_call_log AFTER INSERT ON annotated_call_log
BEGIN
	DELETE FROM annotated_call_log WHERE id IN (
		SELECT id FROM annotated_call_log
		WHERE COALESCE(is_voicemail_call, 0) = 0
		ORDER BY timestamp DESC, id DESC
		LIMIT -1 OFFSET %d
	);
END;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	if s.maxRows > 0 {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(trimTrigger, s.maxRows)); err != nil {
			return eris.Wrap(err, "sqlite: create trim trigger")
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqlitePlaceholder(int) string { return "?" }

// ApplyMutations writes inserts, updates and deletes in one transaction.
func (s *SQLiteStore) ApplyMutations(ctx context.Context, inserts, updates map[int64]model.RowValues, deletes []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: apply mutations: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if len(inserts) > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT INTO annotated_call_log (%s) VALUES (%s)",
			strings.Join(rowColumns, ", "), placeholders(len(rowColumns)),
		))
		if err != nil {
			return eris.Wrap(err, "sqlite: apply mutations: prepare insert")
		}
		for _, id := range sortedIDs(inserts) {
			if _, err := stmt.ExecContext(ctx, insertValues(id, inserts[id])...); err != nil {
				stmt.Close()
				return eris.Wrapf(err, "sqlite: apply mutations: insert %d", id)
			}
		}
		stmt.Close()
	}

	for _, id := range sortedIDs(updates) {
		query, args := updateStatement(id, updates[id], sqlitePlaceholder)
		if query == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "sqlite: apply mutations: update %d", id)
		}
	}

	for _, chunk := range chunkIDs(deletes) {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM annotated_call_log WHERE id IN (%s)", placeholders(len(chunk))),
			anySlice(chunk)...,
		); err != nil {
			return eris.Wrap(err, "sqlite: apply mutations: delete")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: apply mutations: commit")
	}
	return nil
}

func (s *SQLiteStore) AnnotatedIDs(ctx context.Context) (*roaring64.Bitmap, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM annotated_call_log")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: annotated ids")
	}
	defer rows.Close()

	ids := roaring64.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan annotated id")
		}
		ids.Add(uint64(id))
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate annotated ids")
}

func (s *SQLiteStore) NumbersByID(ctx context.Context) (map[int64]model.DialerPhoneNumber, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, number, COALESCE(number_country_iso, '') FROM annotated_call_log WHERE number IS NOT NULL")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: numbers by id")
	}
	defer rows.Close()

	out := make(map[int64]model.DialerPhoneNumber)
	for rows.Next() {
		var (
			id int64
			n  model.DialerPhoneNumber
		)
		if err := rows.Scan(&id, &n.NormalizedNumber, &n.CountryISO); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan number")
		}
		out[id] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate numbers")
}

func (s *SQLiteStore) DistinctNumbers(ctx context.Context) ([]model.DialerPhoneNumber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT number, COALESCE(number_country_iso, '') FROM annotated_call_log
		 WHERE number IS NOT NULL ORDER BY number, number_country_iso`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct numbers")
	}
	defer rows.Close()

	var out []model.DialerPhoneNumber
	for rows.Next() {
		var n model.DialerPhoneNumber
		if err := rows.Scan(&n.NormalizedNumber, &n.CountryISO); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan distinct number")
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate distinct numbers")
}

// ListRows returns up to limit rows, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListRows(ctx context.Context, limit int) ([]model.AnnotatedRow, error) {
	query := selectRowsSQL()
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rows")
	}
	defer rows.Close()

	var out []model.AnnotatedRow
	for rows.Next() {
		var r scannedRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		out = append(out, r.row())
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rows")
}

func (s *SQLiteStore) ClearAnnotatedCallLog(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM annotated_call_log")
	return eris.Wrap(err, "sqlite: clear annotated call log")
}

func (s *SQLiteStore) GetLookupHistory(ctx context.Context, numbers []model.DialerPhoneNumber) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	for _, chunk := range chunkNumbers(numbers) {
		conds := make([]string, len(chunk))
		args := make([]any, 0, 2*len(chunk))
		for i, n := range chunk {
			conds[i] = "(normalized_number = ? AND country_iso = ?)"
			args = append(args, n.NormalizedNumber, n.CountryISO)
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT normalized_number, country_iso, lookup_info FROM phone_lookup_history WHERE "+strings.Join(conds, " OR "),
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: get lookup history")
		}
		err = scanHistory(rows, out)
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type historyRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanHistory(rows historyRows, out map[model.DialerPhoneNumber]model.PhoneLookupInfo) error {
	for rows.Next() {
		var (
			n    model.DialerPhoneNumber
			blob []byte
		)
		if err := rows.Scan(&n.NormalizedNumber, &n.CountryISO, &blob); err != nil {
			return eris.Wrap(err, "store: scan lookup history")
		}
		info, err := model.UnmarshalLookupInfo(blob)
		if err != nil {
			return err
		}
		out[n] = info
	}
	return eris.Wrap(rows.Err(), "store: iterate lookup history")
}

func (s *SQLiteStore) ApplyLookupHistory(ctx context.Context, updates map[model.DialerPhoneNumber]model.PhoneLookupInfo, deletes []model.DialerPhoneNumber) error {
	if len(updates) == 0 && len(deletes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: apply lookup history: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixMilli()
	for n, info := range updates {
		blob, err := model.MarshalLookupInfo(info)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO phone_lookup_history (normalized_number, country_iso, lookup_info, last_modified)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(normalized_number, country_iso) DO UPDATE SET
				lookup_info = excluded.lookup_info,
				last_modified = excluded.last_modified`,
			n.NormalizedNumber, n.CountryISO, blob, now,
		); err != nil {
			return eris.Wrap(err, "sqlite: upsert lookup history")
		}
	}
	for _, n := range deletes {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM phone_lookup_history WHERE normalized_number = ? AND country_iso = ?",
			n.NormalizedNumber, n.CountryISO,
		); err != nil {
			return eris.Wrap(err, "sqlite: delete lookup history")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: apply lookup history: commit")
}

func (s *SQLiteStore) ClearLookupHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM phone_lookup_history")
	return eris.Wrap(err, "sqlite: clear lookup history")
}

func (s *SQLiteStore) GetInt64(ctx context.Context, key string, def int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM prefs WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: get pref %s", key)
	}
	return v, nil
}

func (s *SQLiteStore) SetInt64(ctx context.Context, key string, v int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO prefs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, v,
	)
	return eris.Wrapf(err, "sqlite: set pref %s", key)
}

func (s *SQLiteStore) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := s.GetInt64(ctx, key, boolToInt(def))
	return v != 0, err
}

func (s *SQLiteStore) SetBool(ctx context.Context, key string, v bool) error {
	return s.SetInt64(ctx, key, boolToInt(v))
}

func (s *SQLiteStore) DeletePref(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM prefs WHERE key = ?", key)
	return eris.Wrapf(err, "sqlite: delete pref %s", key)
}
