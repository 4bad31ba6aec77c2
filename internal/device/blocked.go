package device

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/annotated-calllog/internal/phonenumber"
)

// BlockNumber adds raw to the blocked number list.
func (d *DB) BlockNumber(ctx context.Context, raw string) error {
	normalized := phonenumber.Parse(raw, d.countryISO).NormalizedNumber
	if normalized == "" {
		return eris.New("device: block number: empty number")
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO blocked_numbers (number, normalized_number) VALUES (?, ?)
		 ON CONFLICT(normalized_number) DO NOTHING`,
		raw, normalized,
	); err != nil {
		return eris.Wrap(err, "device: block number")
	}
	d.notify(TopicBlocked)
	return nil
}

// UnblockNumber removes raw from the blocked number list.
func (d *DB) UnblockNumber(ctx context.Context, raw string) error {
	normalized := phonenumber.Parse(raw, d.countryISO).NormalizedNumber
	if _, err := d.db.ExecContext(ctx, `DELETE FROM blocked_numbers WHERE normalized_number = ?`, normalized); err != nil {
		return eris.Wrap(err, "device: unblock number")
	}
	d.notify(TopicBlocked)
	return nil
}

// BlockedAmong returns the subset of normalized numbers that are blocked.
func (d *DB) BlockedAmong(ctx context.Context, normalized []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, chunk := range chunks(normalized) {
		rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT normalized_number FROM blocked_numbers WHERE normalized_number IN (%s)`, placeholders(len(chunk))),
			toArgs(chunk)...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "device: query blocked numbers")
		}
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "device: scan blocked number")
			}
			out[n] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "device: iterate blocked numbers")
		}
	}
	return out, nil
}
