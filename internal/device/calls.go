package device

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// InsertCall adds a call to the system call log. A zero ID lets the
// database assign one. Returns the call ID.
func (d *DB) InsertCall(ctx context.Context, c model.SystemCall) (int64, error) {
	now := d.now()
	if c.Date.IsZero() {
		c.Date = now
	}
	if c.LastModified.IsZero() {
		c.LastModified = now
	}
	if c.CountryISO == "" {
		c.CountryISO = d.countryISO
	}
	if c.Type == 0 {
		c.Type = model.CallTypeIncoming
	}

	var id any
	if c.ID > 0 {
		id = c.ID
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO calls (id, date, last_modified, number, country_iso, duration_secs, type, is_read, new)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, toMillis(c.Date), toMillis(c.LastModified), c.Number, c.CountryISO,
		int64(c.Duration/time.Second), int(c.Type), c.IsRead, c.New,
	)
	if err != nil {
		return 0, eris.Wrap(err, "device: insert call")
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "device: insert call id")
	}
	d.notify(TopicCalls)
	return newID, nil
}

// MarkCallRead marks a call read and not new.
func (d *DB) MarkCallRead(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE calls SET is_read = 1, new = 0, last_modified = ? WHERE id = ?`,
		toMillis(d.now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "device: mark call read %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("device: call %d not found", id)
	}
	d.notify(TopicCalls)
	return nil
}

// DeleteCall removes a call from the system call log.
func (d *DB) DeleteCall(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM calls WHERE id = ?`, id); err != nil {
		return eris.Wrapf(err, "device: delete call %d", id)
	}
	d.notify(TopicCalls)
	return nil
}

// CallsModifiedSince returns calls whose last modification is after since,
// newest first, at most limit rows.
func (d *DB) CallsModifiedSince(ctx context.Context, since time.Time, limit int) ([]model.SystemCall, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, date, last_modified, number, country_iso, duration_secs, type, is_read, new
		 FROM calls WHERE last_modified > ? ORDER BY last_modified DESC LIMIT ?`,
		toMillis(since), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "device: query calls")
	}
	defer rows.Close()

	var calls []model.SystemCall
	for rows.Next() {
		var (
			c                       model.SystemCall
			date, modified, durSecs int64
			callType                int
		)
		if err := rows.Scan(&c.ID, &date, &modified, &c.Number, &c.CountryISO, &durSecs, &callType, &c.IsRead, &c.New); err != nil {
			return nil, eris.Wrap(err, "device: scan call")
		}
		c.Date = fromMillis(date)
		c.LastModified = fromMillis(modified)
		c.Duration = time.Duration(durSecs) * time.Second
		c.Type = model.CallType(callType)
		calls = append(calls, c)
	}
	return calls, eris.Wrap(rows.Err(), "device: iterate calls")
}

// CallIDs returns the IDs of every call in the system call log.
func (d *DB) CallIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM calls`)
	if err != nil {
		return nil, eris.Wrap(err, "device: query call ids")
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "device: scan id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "device: iterate ids")
}
