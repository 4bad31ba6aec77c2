package device

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
)

// Contact is a local contact with its phone numbers.
type Contact struct {
	ID                int64          `yaml:"id"`
	DisplayName       string         `yaml:"name"`
	PhotoURI          string         `yaml:"photo_uri"`
	PhotoThumbnailURI string         `yaml:"photo_thumbnail_uri"`
	PhotoID           int64          `yaml:"photo_id"`
	LookupKey         string         `yaml:"lookup_key"`
	Phones            []ContactPhone `yaml:"phones"`
}

// ContactPhone is one phone number attached to a contact.
type ContactPhone struct {
	Number       string `yaml:"number"`
	Label        string `yaml:"label"`
	CarrierVideo bool   `yaml:"carrier_video"`
}

// UpsertContact creates or replaces a contact and its phones, bumping its
// last-updated time. Returns the contact ID.
func (d *DB) UpsertContact(ctx context.Context, c Contact) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "device: upsert contact: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var id any
	if c.ID > 0 {
		id = c.ID
	}
	now := toMillis(d.now())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO contacts (id, display_name, photo_uri, photo_thumbnail_uri, photo_id, lookup_key, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			photo_uri = excluded.photo_uri,
			photo_thumbnail_uri = excluded.photo_thumbnail_uri,
			photo_id = excluded.photo_id,
			lookup_key = excluded.lookup_key,
			last_updated = excluded.last_updated`,
		id, c.DisplayName, c.PhotoURI, c.PhotoThumbnailURI, c.PhotoID, c.LookupKey, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "device: upsert contact")
	}
	contactID := c.ID
	if contactID <= 0 {
		if contactID, err = res.LastInsertId(); err != nil {
			return 0, eris.Wrap(err, "device: upsert contact id")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_phones WHERE contact_id = ?`, contactID); err != nil {
		return 0, eris.Wrap(err, "device: clear contact phones")
	}
	for _, p := range c.Phones {
		normalized := phonenumber.Parse(p.Number, d.countryISO).NormalizedNumber
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contact_phones (contact_id, number, normalized_number, label, carrier_video) VALUES (?, ?, ?, ?, ?)`,
			contactID, p.Number, normalized, p.Label, p.CarrierVideo,
		); err != nil {
			return 0, eris.Wrap(err, "device: insert contact phone")
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM deleted_contacts WHERE contact_id = ?`, contactID); err != nil {
		return 0, eris.Wrap(err, "device: clear deleted contact")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "device: upsert contact: commit")
	}
	d.notify(TopicContacts)
	return contactID, nil
}

// DeleteContact removes a contact and records the deletion time.
func (d *DB) DeleteContact(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "device: delete contact: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM contact_phones WHERE contact_id = ?`,
		`DELETE FROM contacts WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return eris.Wrapf(err, "device: delete contact %d", id)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO deleted_contacts (contact_id, deleted_at) VALUES (?, ?)
		 ON CONFLICT(contact_id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		id, toMillis(d.now()),
	); err != nil {
		return eris.Wrapf(err, "device: record deleted contact %d", id)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "device: delete contact: commit")
	}
	d.notify(TopicContacts)
	return nil
}

// ContactsByNumbers returns the contacts attached to each normalized number,
// ordered by contact ID.
func (d *DB) ContactsByNumbers(ctx context.Context, normalized []string) (map[string][]model.Cp2ContactInfo, error) {
	out := make(map[string][]model.Cp2ContactInfo)
	for _, chunk := range chunks(normalized) {
		rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT p.normalized_number, c.id, c.display_name, c.photo_uri, c.photo_thumbnail_uri, c.photo_id, c.lookup_key, p.label, p.carrier_video
			 FROM contact_phones p JOIN contacts c ON c.id = p.contact_id
			 WHERE p.normalized_number IN (%s)
			 ORDER BY c.id, p.id`, placeholders(len(chunk))),
			toArgs(chunk)...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "device: query contacts by number")
		}
		for rows.Next() {
			var (
				number, lookupKey string
				info              model.Cp2ContactInfo
			)
			if err := rows.Scan(&number, &info.ContactID, &info.Name, &info.PhotoURI, &info.PhotoThumbnailURI,
				&info.PhotoID, &lookupKey, &info.Label, &info.CanSupportCarrierVideoCall); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "device: scan contact")
			}
			info.LookupURI = lookupURI(lookupKey, info.ContactID)
			out[number] = append(out[number], info)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "device: iterate contacts")
		}
	}
	return out, nil
}

// ContactIDsForNumbers returns the distinct IDs of contacts attached to any
// of the normalized numbers.
func (d *DB) ContactIDsForNumbers(ctx context.Context, normalized []string) ([]int64, error) {
	var ids []int64
	for _, chunk := range chunks(normalized) {
		rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT DISTINCT contact_id FROM contact_phones WHERE normalized_number IN (%s)`, placeholders(len(chunk))),
			toArgs(chunk)...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "device: query contact ids")
		}
		got, err := scanIDs(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

// AnyContactModifiedSince reports whether any contact was updated after since.
func (d *DB) AnyContactModifiedSince(ctx context.Context, since time.Time) (bool, error) {
	return d.exists(ctx, `SELECT EXISTS(SELECT 1 FROM contacts WHERE last_updated > ?)`, toMillis(since))
}

// AnyContactDeletedSince reports whether any contact was deleted after since.
func (d *DB) AnyContactDeletedSince(ctx context.Context, since time.Time) (bool, error) {
	return d.exists(ctx, `SELECT EXISTS(SELECT 1 FROM deleted_contacts WHERE deleted_at > ?)`, toMillis(since))
}

// ContactsUpdatedSince reports whether any of ids was updated after since.
func (d *DB) ContactsUpdatedSince(ctx context.Context, ids []int64, since time.Time) (bool, error) {
	for _, chunk := range chunks(ids) {
		args := append(toArgs(chunk), toMillis(since))
		ok, err := d.exists(ctx, fmt.Sprintf(
			`SELECT EXISTS(SELECT 1 FROM contacts WHERE id IN (%s) AND last_updated > ?)`, placeholders(len(chunk))),
			args...,
		)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (d *DB) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, eris.Wrap(err, "device: exists query")
	}
	return ok, nil
}

func lookupURI(lookupKey string, contactID int64) string {
	if lookupKey == "" {
		return fmt.Sprintf("content://contacts/%d", contactID)
	}
	return fmt.Sprintf("content://contacts/lookup/%s/%d", lookupKey, contactID)
}
