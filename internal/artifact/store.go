// Package artifact owns the on-disk artifact directory shared between the
// extraction pipeline and the read path: per-calendar event files, the merged
// schedule, the calendar map, the progress document and the schedule
// fingerprint. Every write is temp file + rename so readers never observe a
// partial file.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/stefi19/roomsched/internal/hashutil"
	"github.com/stefi19/roomsched/internal/model"
)

const (
	scheduleFile    = "schedule_by_room.json"
	calendarMapFile = "calendar_map.json"
	progressFile    = "import_progress.json"
	completeMarker  = "import_complete.txt"
	fingerprintFile = "schedule.fp"
	subjectMapFile  = "subject_map.json"
)

// Store is rooted at one artifact directory.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory path.
func (s *Store) Dir() string { return s.dir }

// EventsPath returns the per-calendar artifact path for a source hash.
func (s *Store) EventsPath(sourceHash string) string {
	return filepath.Join(s.dir, "events_"+sourceHash+".json")
}

// WriteEvents writes the per-calendar artifact for sourceHash. A nil slice is
// written as an empty JSON array, keeping the artifact set complete even for
// calendars with no events in the window.
func (s *Store) WriteEvents(sourceHash string, events []model.Event) error {
	if events == nil {
		events = []model.Event{}
	}
	return s.writeJSON(s.EventsPath(sourceHash), events)
}

// ReadEvents loads one per-calendar artifact. A missing file returns an
// empty slice.
func (s *Store) ReadEvents(sourceHash string) ([]model.Event, error) {
	var events []model.Event
	err := s.readJSON(s.EventsPath(sourceHash), &events)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// ListEventHashes returns the source hashes that currently have an artifact
// on disk.
func (s *Store) ListEventHashes() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "events_*.json"))
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		h := strings.TrimSuffix(strings.TrimPrefix(base, "events_"), ".json")
		if h != "" {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

// WriteSchedule writes the merged schedule and calendar map together, then
// records the fingerprint the schedule was built from.
func (s *Store) WriteSchedule(sched *model.MergedSchedule, calMap map[string]model.CalendarMeta, fp hashutil.Fingerprint) error {
	if err := s.writeJSON(filepath.Join(s.dir, scheduleFile), sched); err != nil {
		return err
	}
	if err := s.writeJSON(filepath.Join(s.dir, calendarMapFile), calMap); err != nil {
		return err
	}
	return s.writeRaw(filepath.Join(s.dir, fingerprintFile), []byte(fp.String()+"\n"))
}

// ReadSchedule loads the merged schedule. Missing file returns fs.ErrNotExist.
func (s *Store) ReadSchedule() (*model.MergedSchedule, error) {
	var sched model.MergedSchedule
	if err := s.readJSON(filepath.Join(s.dir, scheduleFile), &sched); err != nil {
		return nil, err
	}
	if sched.Rooms == nil {
		sched.Rooms = map[string][]model.Event{}
	}
	if sched.Events == nil {
		sched.Events = []model.Event{}
	}
	return &sched, nil
}

// ReadCalendarMap loads calendar_map.json. Missing file returns an empty map.
func (s *Store) ReadCalendarMap() (map[string]model.CalendarMeta, error) {
	out := map[string]model.CalendarMeta{}
	err := s.readJSON(filepath.Join(s.dir, calendarMapFile), &out)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadScheduleFingerprint returns the fingerprint recorded at last merge, or
// the zero fingerprint when none was recorded yet.
func (s *Store) ReadScheduleFingerprint() (hashutil.Fingerprint, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, fingerprintFile))
	if errors.Is(err, fs.ErrNotExist) {
		return hashutil.Fingerprint{}, nil
	}
	if err != nil {
		return hashutil.Fingerprint{}, err
	}
	return hashutil.ParseFingerprint(string(data))
}

// WriteProgress replaces the progress document.
func (s *Store) WriteProgress(p *model.ImportProgress) error {
	return s.writeJSON(filepath.Join(s.dir, progressFile), p)
}

// ReadProgress loads the current progress document, nil when none exists.
func (s *Store) ReadProgress() (*model.ImportProgress, error) {
	var p model.ImportProgress
	err := s.readJSON(filepath.Join(s.dir, progressFile), &p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteCompleteMarker records the human-readable completion stamp.
func (s *Store) WriteCompleteMarker(text string) error {
	return s.writeRaw(filepath.Join(s.dir, completeMarker), []byte(text))
}

// WriteSubjectMap persists the learned abbreviation table.
func (s *Store) WriteSubjectMap(m map[string]string) error {
	return s.writeJSON(filepath.Join(s.dir, subjectMapFile), m)
}

// ReadSubjectMap loads the learned abbreviation table, empty when missing.
func (s *Store) ReadSubjectMap() (map[string]string, error) {
	out := map[string]string{}
	err := s.readJSON(filepath.Join(s.dir, subjectMapFile), &out)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal %s: %w", filepath.Base(path), err)
	}
	return s.writeRaw(path, append(data, '\n'))
}

func (s *Store) writeRaw(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifact: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
