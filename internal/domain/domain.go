package domain

import "time"

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,paused,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	ParentID    *string    `json:"parent_id,omitempty"`
	Name        string     `json:"name"`
	Start       time.Time  `json:"start_date"`
	End         time.Time  `json:"end_date"`
	Duration    int        `json:"duration"`
	Progress    int        `json:"progress" minimum:"0" maximum:"100"`
	IsMilestone bool       `json:"is_milestone"`
	IsGroup     bool       `json:"is_group"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Baseline    *Baseline  `json:"baseline,omitempty"`

	// Computed by a scheduling pass; never edited by hand.
	TotalFloat     int  `json:"total_float"`
	FreeFloat      int  `json:"free_float"`
	IsCritical     bool `json:"is_critical"`
	WasConstrained bool `json:"was_constrained"`

	Recurrence *RecurrenceRule `json:"recurrence,omitempty"`
	Series     *SeriesLink     `json:"series,omitempty"`

	Segments []Segment     `json:"segments,omitempty"`
	IsSplit  bool          `json:"is_split"`
	PreSplit *SplitSnapshot `json:"pre_split,omitempty"`

	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

// MinDuration is the smallest legal duration in workdays.
func (t Task) MinDuration() int {
	if t.IsMilestone {
		return 0
	}
	return 1
}

// Clone returns a deep copy so scheduling passes never share slices or
// pointers with their input.
func (t Task) Clone() Task {
	c := t
	if t.ParentID != nil {
		p := *t.ParentID
		c.ParentID = &p
	}
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.Baseline != nil {
		b := *t.Baseline
		c.Baseline = &b
	}
	if t.Recurrence != nil {
		r := t.Recurrence.Clone()
		c.Recurrence = &r
	}
	if t.Series != nil {
		s := *t.Series
		c.Series = &s
	}
	if t.Segments != nil {
		c.Segments = append([]Segment(nil), t.Segments...)
	}
	if t.PreSplit != nil {
		p := *t.PreSplit
		c.PreSplit = &p
	}
	return c
}

// Baseline is a frozen snapshot of planned dates.
type Baseline struct {
	Start      time.Time `json:"start_date"`
	End        time.Time `json:"end_date"`
	Duration   int       `json:"duration"`
	CapturedAt string    `json:"captured_at,omitempty" format:"date-time"`
}

type LinkType string

const (
	FinishToStart  LinkType = "FS"
	StartToStart   LinkType = "SS"
	FinishToFinish LinkType = "FF"
	StartToFinish  LinkType = "SF"
)

var LinkTypes = []LinkType{FinishToStart, StartToStart, FinishToFinish, StartToFinish}

func (t LinkType) IsValid() bool {
	switch t {
	case FinishToStart, StartToStart, FinishToFinish, StartToFinish:
		return true
	default:
		return false
	}
}

func (t LinkType) String() string { return string(t) }

// Link is a dependency from FromID (predecessor) to ToID (successor). Lag is
// in calendar days; negative values are leads.
type Link struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id,omitempty"`
	FromID    string   `json:"from_id"`
	ToID      string   `json:"to_id"`
	Type      LinkType `json:"type" enum:"FS,SS,FF,SF"`
	Lag       int      `json:"lag"`
	CreatedAt string   `json:"created_at,omitempty" format:"date-time"`
}

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var Frequencies = []Frequency{Daily, Weekly, Monthly}

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	default:
		return false
	}
}

type RecurrenceRule struct {
	ID             string         `json:"id"`
	Frequency      Frequency      `json:"frequency" enum:"daily,weekly,monthly"`
	Interval       int            `json:"interval"`
	StartDate      time.Time      `json:"start_date"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	MaxOccurrences *int           `json:"max_occurrences,omitempty"`
	Weekdays       []time.Weekday `json:"weekdays,omitempty"`
	DayOfMonth     *int           `json:"day_of_month,omitempty"`
	Active         bool           `json:"active"`
}

func (r RecurrenceRule) Clone() RecurrenceRule {
	c := r
	if r.EndDate != nil {
		d := *r.EndDate
		c.EndDate = &d
	}
	if r.MaxOccurrences != nil {
		n := *r.MaxOccurrences
		c.MaxOccurrences = &n
	}
	if r.DayOfMonth != nil {
		n := *r.DayOfMonth
		c.DayOfMonth = &n
	}
	if r.Weekdays != nil {
		c.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
	}
	return c
}

// SeriesLink ties a generated instance back to the task and rule that
// produced it.
type SeriesLink struct {
	OriginalTaskID string `json:"original_task_id"`
	SeriesID       string `json:"recurrence_series_id"`
	InstanceIndex  int    `json:"instance_index"`
}

type Segment struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start_date"`
	End      time.Time `json:"end_date"`
	Duration int       `json:"duration"`
	Progress int       `json:"progress"`
	IsActive bool      `json:"is_active"`
}

// SplitSnapshot keeps the fields a task had before it was split so a merge
// can restore them exactly.
type SplitSnapshot struct {
	Start    time.Time `json:"start_date"`
	End      time.Time `json:"end_date"`
	Duration int       `json:"duration"`
	Progress int       `json:"progress"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// ExpiresAt is empty for keys that never expire.
	ExpiresAt  string `json:"expires_at,omitempty" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}

// Day truncates t to midnight UTC, the canonical form of a calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
