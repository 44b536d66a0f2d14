package store

import (
	"errors"
	"strings"
	"time"

	"github.com/stefi19/roomsched/internal/model"
)

// AddManualEvent inserts an admin-entered event and returns its id.
func (s *Store) AddManualEvent(ev model.ManualEvent) (int64, error) {
	if ev.Title == "" {
		return 0, errors.New("store: manual event title is required")
	}
	if !ev.End.After(ev.Start) {
		return 0, errors.New("store: manual event end must be after start")
	}
	res, err := s.db.Exec(`INSERT INTO manual_events (start_at, end_at, title, location, raw)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Start.UTC().Format(time.RFC3339), ev.End.UTC().Format(time.RFC3339),
		ev.Title, ev.Location, ev.Raw)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListManualEvents returns manual events overlapping [from, to), ordered by
// start time. A zero bound is open-ended. Timestamps are stored as fixed-width
// UTC RFC3339 strings, so the comparisons run in SQL.
func (s *Store) ListManualEvents(from, to time.Time) ([]model.ManualEvent, error) {
	q := "SELECT id, start_at, end_at, title, location, raw FROM manual_events"
	var conds []string
	var args []interface{}
	if !from.IsZero() {
		conds = append(conds, "end_at >= ?")
		args = append(args, from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		conds = append(conds, "start_at < ?")
		args = append(args, to.UTC().Format(time.RFC3339))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY start_at, id"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ManualEvent
	for rows.Next() {
		var (
			ev    model.ManualEvent
			start string
			end   string
		)
		if err := rows.Scan(&ev.ID, &start, &end, &ev.Title, &ev.Location, &ev.Raw); err != nil {
			return nil, err
		}
		ev.Start = parseDBTime(start)
		ev.End = parseDBTime(end)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteManualEvent removes one manual event.
func (s *Store) DeleteManualEvent(id int64) error {
	res, err := s.db.Exec("DELETE FROM manual_events WHERE id = ?", id)
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

// DeleteManualEventsBefore removes manual events that ended before cutoff.
// Returns the number of rows deleted. Used by the retention cleanup.
func (s *Store) DeleteManualEventsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM manual_events WHERE end_at < ?",
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
