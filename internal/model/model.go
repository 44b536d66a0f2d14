package model

import "time"

// Event is one normalized calendar event as stored in per-calendar artifacts
// and in the merged schedule. Title and Location carry the raw strings from
// the source feed; the remaining fields are derived from them by the parser.
type Event struct {
	// Source is the 8-hex hash of the owning calendar's primary URL.
	Source string `json:"source"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Title        string `json:"title"`
	DisplayTitle string `json:"display_title"`
	Subject      string `json:"subject"`
	Professor    string `json:"professor,omitempty"`
	Room         string `json:"room,omitempty"`
	Building     string `json:"building,omitempty"`
	GroupDisplay string `json:"group_display,omitempty"`
	Location     string `json:"location,omitempty"`

	Color        string `json:"color,omitempty"`
	CalendarName string `json:"calendar_name,omitempty"`
}

// CalendarSource is one configured room calendar. PrimaryURL is the published
// HTML page and acts as the identity key; ICSURL, when present, is the fast
// structured feed tried before the headless renderer.
type CalendarSource struct {
	ID            int64
	PrimaryURL    string
	ICSURL        string
	DisplayName   string
	Color         string
	Enabled       bool
	Building      string
	Room          string
	EmailAddress  string
	CreatedAt     time.Time
	LastFetchedAt time.Time
}

// ManualEvent is an admin-entered one-off. It is served alongside extractor
// output but never written to per-calendar artifacts.
type ManualEvent struct {
	ID       int64     `json:"id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	Raw      string    `json:"raw,omitempty"`
}

// CalendarMeta is the per-source metadata written to calendar_map.json so
// readers can resolve event -> source without touching the event store.
type CalendarMeta struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Building string `json:"building,omitempty"`
	Room     string `json:"room,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// UnassignedRoom is the bucket for events whose room cannot be resolved.
const UnassignedRoom = "__unassigned__"

// MergedSchedule is the single derived artifact every read goes through:
// events grouped by canonical room plus a flat list, both sorted by start.
type MergedSchedule struct {
	Rooms  map[string][]Event `json:"rooms"`
	Events []Event            `json:"events"`
}

// Phase of an extraction run as reported in ImportProgress.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseICS    Phase = "ics"
	PhaseRender Phase = "render"
	PhaseMerge  Phase = "merge"
)

// ImportProgress is the mutable counter document the orchestrator rewrites
// after every per-source completion. The orchestrator is the single writer;
// everyone else reads a snapshot from disk.
type ImportProgress struct {
	RunID        string     `json:"run_id,omitempty"`
	Total        int        `json:"total"`
	Queued       int        `json:"queued"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	FilesWritten int        `json:"files_written"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Finished     bool       `json:"finished"`
	CurrentPhase Phase      `json:"current_phase"`
	LastSource   string     `json:"last,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Clone returns a defensive copy for readers.
func (p *ImportProgress) Clone() *ImportProgress {
	if p == nil {
		return nil
	}
	out := *p
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
