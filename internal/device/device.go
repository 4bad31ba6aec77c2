// Package device provides the device-side providers the annotated call log
// reads from: the system call log, the local contacts and the blocked
// number list. Writes fire content observers subscribed per topic.
package device

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Topic names a provider whose changes can be observed.
type Topic string

// Observable providers.
const (
	TopicCalls    Topic = "calls"
	TopicContacts Topic = "contacts"
	TopicBlocked  Topic = "blocked_numbers"
)

// maxInClause bounds the number of bound parameters per IN (...) query.
const maxInClause = 500

// DB is a SQLite-backed device provider store.
type DB struct {
	db         *sql.DB
	countryISO string
	now        func() time.Time

	mu        sync.RWMutex
	observers map[Topic]map[int]func()
	nextObsID int
}

// Open opens the device database at dsn. countryISO is the device region
// used to normalize stored numbers.
func Open(dsn, countryISO string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "device: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "device: exec %s", pragma)
		}
	}
	return &DB{
		db:         db,
		countryISO: strings.ToUpper(countryISO),
		now:        time.Now,
		observers:  make(map[Topic]map[int]func()),
	}, nil
}

const deviceMigration = `
CREATE TABLE IF NOT EXISTS calls (
	id            INTEGER PRIMARY KEY,
	date          INTEGER NOT NULL,
	last_modified INTEGER NOT NULL,
	number        TEXT NOT NULL DEFAULT '',
	country_iso   TEXT NOT NULL DEFAULT '',
	duration_secs INTEGER NOT NULL DEFAULT 0,
	type          INTEGER NOT NULL DEFAULT 1,
	is_read       INTEGER NOT NULL DEFAULT 0,
	new           INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS contacts (
	id                  INTEGER PRIMARY KEY,
	display_name        TEXT NOT NULL DEFAULT '',
	photo_uri           TEXT NOT NULL DEFAULT '',
	photo_thumbnail_uri TEXT NOT NULL DEFAULT '',
	photo_id            INTEGER NOT NULL DEFAULT 0,
	lookup_key          TEXT NOT NULL DEFAULT '',
	last_updated        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contact_phones (
	id                INTEGER PRIMARY KEY,
	contact_id        INTEGER NOT NULL REFERENCES contacts(id),
	number            TEXT NOT NULL,
	normalized_number TEXT NOT NULL DEFAULT '',
	label             TEXT NOT NULL DEFAULT '',
	carrier_video     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deleted_contacts (
	contact_id INTEGER PRIMARY KEY,
	deleted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_numbers (
	id                INTEGER PRIMARY KEY,
	number            TEXT NOT NULL,
	normalized_number TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_calls_last_modified ON calls(last_modified);
CREATE INDEX IF NOT EXISTS idx_contact_phones_normalized ON contact_phones(normalized_number);
CREATE INDEX IF NOT EXISTS idx_contact_phones_contact ON contact_phones(contact_id);
CREATE INDEX IF NOT EXISTS idx_contacts_last_updated ON contacts(last_updated);
CREATE INDEX IF NOT EXISTS idx_deleted_contacts_deleted_at ON deleted_contacts(deleted_at);
`

// Migrate creates the provider tables.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, deviceMigration)
	return eris.Wrap(err, "device: migrate")
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// CountryISO returns the device region.
func (d *DB) CountryISO() string {
	return d.countryISO
}

// Subscribe registers fn to run after every change to topic. The returned
// func removes the subscription.
func (d *DB) Subscribe(topic Topic, fn func()) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.observers[topic] == nil {
		d.observers[topic] = make(map[int]func())
	}
	id := d.nextObsID
	d.nextObsID++
	d.observers[topic][id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers[topic], id)
	}
}

func (d *DB) notify(topic Topic) {
	d.mu.RLock()
	fns := make([]func(), 0, len(d.observers[topic]))
	for _, fn := range d.observers[topic] {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// chunks splits values into slices of at most maxInClause elements.
func chunks[T any](values []T) [][]T {
	var out [][]T
	for len(values) > maxInClause {
		out = append(out, values[:maxInClause])
		values = values[maxInClause:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func toArgs[T any](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
