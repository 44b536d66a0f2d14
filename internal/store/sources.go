package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stefi19/roomsched/internal/model"
)

const sourceColumns = `id, primary_url, ics_url, display_name, color, enabled,
	building, room, email_address, created_at, COALESCE(last_fetched_at, '')`

// ListSources returns all calendar sources ordered by display name. Pass
// enabledOnly to restrict to sources the pipeline should fetch.
func (s *Store) ListSources(enabledOnly bool) ([]model.CalendarSource, error) {
	q := "SELECT " + sourceColumns + " FROM calendars"
	if enabledOnly {
		q += " WHERE enabled = 1"
	}
	q += " ORDER BY display_name, id"

	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CalendarSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource looks one source up by id.
func (s *Store) GetSource(id int64) (model.CalendarSource, error) {
	row := s.db.QueryRow("SELECT "+sourceColumns+" FROM calendars WHERE id = ?", id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CalendarSource{}, ErrNotFound
	}
	return src, err
}

// UpsertSourceByURL inserts a source keyed by its primary URL, or updates the
// metadata of the existing row. Color and enabled are only set on insert so
// admin choices survive re-imports.
func (s *Store) UpsertSourceByURL(src model.CalendarSource) (int64, error) {
	if src.PrimaryURL == "" {
		return 0, errors.New("store: primary URL is required")
	}

	var id int64
	err := s.db.QueryRow("SELECT id FROM calendars WHERE primary_url = ?", src.PrimaryURL).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		color := src.Color
		if color == "" {
			color = colorFor(src.PrimaryURL)
		}
		res, err := s.db.Exec(`INSERT INTO calendars
			(primary_url, ics_url, display_name, color, enabled, building, room, email_address)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			src.PrimaryURL, src.ICSURL, src.DisplayName, color,
			boolToInt(src.Enabled), src.Building, src.Room, src.EmailAddress)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	case err != nil:
		return 0, err
	}

	_, err = s.db.Exec(`UPDATE calendars SET
		ics_url = ?, display_name = ?, building = ?, room = ?, email_address = ?
		WHERE id = ?`,
		src.ICSURL, src.DisplayName, src.Building, src.Room, src.EmailAddress, id)
	return id, err
}

// UpdateSourceFields applies a partial update. Allowed keys: display_name,
// ics_url, color, enabled, building, room, email_address.
func (s *Store) UpdateSourceFields(id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	allowed := map[string]bool{
		"display_name": true, "ics_url": true, "color": true, "enabled": true,
		"building": true, "room": true, "email_address": true,
	}
	sets := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for k, v := range fields {
		if !allowed[k] {
			return fmt.Errorf("store: cannot update field %q", k)
		}
		if k == "enabled" {
			if b, ok := v.(bool); ok {
				v = boolToInt(b)
			}
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	args = append(args, id)

	res, err := s.db.Exec("UPDATE calendars SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSource removes a source.
func (s *Store) DeleteSource(id int64) error {
	res, err := s.db.Exec("DELETE FROM calendars WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastFetched records a successful extraction for a source.
func (s *Store) TouchLastFetched(id int64, at time.Time) error {
	_, err := s.db.Exec("UPDATE calendars SET last_fetched_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(r rowScanner) (model.CalendarSource, error) {
	var (
		src         model.CalendarSource
		enabled     int
		createdAt   string
		lastFetched string
	)
	err := r.Scan(&src.ID, &src.PrimaryURL, &src.ICSURL, &src.DisplayName, &src.Color,
		&enabled, &src.Building, &src.Room, &src.EmailAddress, &createdAt, &lastFetched)
	if err != nil {
		return src, err
	}
	src.Enabled = enabled != 0
	src.CreatedAt = parseDBTime(createdAt)
	src.LastFetchedAt = parseDBTime(lastFetched)
	return src, nil
}

// parseDBTime handles both the RFC3339 stamps we write and the
// "YYYY-MM-DD HH:MM:SS" default SQLite produces for CURRENT_TIMESTAMP.
func parseDBTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
