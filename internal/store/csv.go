package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stefi19/roomsched/internal/model"
	"github.com/stefi19/roomsched/internal/parse"
)

// CSVReport summarizes one roster import.
type CSVReport struct {
	Rows     int `json:"rows"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// ImportCSV ingests the room roster export. The published calendar URL is
// the row identity; name, building, room, email and ICS URL are authoritative
// from the CSV, while color and the enabled flag of existing rows are left
// alone so admin choices survive re-imports.
//
// Expected columns (order-independent, matched by header name):
// Nume_Sala, Email_Sala, Cladire, PublishedCalendarUrl, PublishedICalUrl.
// Unknown columns are ignored.
func (s *Store) ImportCSV(r io.Reader) (CSVReport, error) {
	var report CSVReport

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return report, fmt.Errorf("store: read csv header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	urlIdx, ok := col["publishedcalendarurl"]
	if !ok {
		return report, errors.New("store: csv is missing the PublishedCalendarUrl column")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("store: read csv row: %w", err)
		}
		report.Rows++

		primaryURL := ""
		if urlIdx < len(rec) {
			primaryURL = strings.TrimSpace(rec[urlIdx])
		}
		if primaryURL == "" {
			report.Skipped++
			continue
		}

		email := field(rec, "email_sala")
		building := field(rec, "cladire")
		room := ""
		if email != "" {
			loc := parse.Location(email)
			if loc.Room != "" {
				room = loc.Room
			}
			if building == "" {
				building = loc.Building
			}
		}

		src := model.CalendarSource{
			PrimaryURL:   primaryURL,
			ICSURL:       field(rec, "publishedicalurl"),
			DisplayName:  field(rec, "nume_sala"),
			Building:     building,
			Room:         room,
			EmailAddress: email,
			Enabled:      true,
		}

		existedBefore, err := s.sourceExists(primaryURL)
		if err != nil {
			return report, err
		}
		if _, err := s.UpsertSourceByURL(src); err != nil {
			return report, fmt.Errorf("store: upsert %s: %w", primaryURL, err)
		}
		if existedBefore {
			report.Updated++
		} else {
			report.Inserted++
		}
	}
	return report, nil
}

func (s *Store) sourceExists(primaryURL string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(1) FROM calendars WHERE primary_url = ?", primaryURL).Scan(&n)
	return n > 0, err
}
