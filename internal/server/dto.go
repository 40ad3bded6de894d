package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"planline/internal/baseline"
	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/recurrence"
	"planline/internal/schedule"
	"planline/internal/segment"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Status      *string `json:"status,omitempty" enum:"active,paused,archived"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
	Name        string  `json:"name"`
	StartDate   string  `json:"start_date,omitempty" example:"2024-01-08"`
	EndDate     string  `json:"end_date,omitempty" example:"2024-01-12"`
	Duration    *int    `json:"duration,omitempty" minimum:"0"`
	Progress    int     `json:"progress,omitempty" minimum:"0" maximum:"100"`
	IsMilestone bool    `json:"is_milestone,omitempty"`
	IsGroup     bool    `json:"is_group,omitempty"`
	Deadline    string  `json:"deadline,omitempty"`
}

type UpdateTaskRequest struct {
	Name        *string `json:"name,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
	Duration    *int    `json:"duration,omitempty" minimum:"0"`
	Progress    *int    `json:"progress,omitempty" minimum:"0" maximum:"100"`
	IsMilestone *bool   `json:"is_milestone,omitempty"`
	// Deadline set to an empty string clears it.
	Deadline *string `json:"deadline,omitempty"`
	// ParentID set to an empty string detaches the task from its group.
	ParentID *string `json:"parent_id,omitempty"`
}

type CreateLinkRequest struct {
	ID     *string `json:"id,omitempty"`
	FromID string  `json:"from_id"`
	ToID   string  `json:"to_id"`
	Type   string  `json:"type,omitempty" enum:"FS,SS,FF,SF"`
	Lag    int     `json:"lag,omitempty"`
}

type RecurrenceRequest struct {
	Frequency      string   `json:"frequency" enum:"daily,weekly,monthly"`
	Interval       int      `json:"interval,omitempty" minimum:"0"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
	MaxOccurrences *int     `json:"max_occurrences,omitempty"`
	Weekdays       []string `json:"weekdays,omitempty" example:"[\"mon\",\"wed\"]"`
	DayOfMonth     *int     `json:"day_of_month,omitempty"`
}

type GenerateRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type SeriesUpdateRequest struct {
	Scope     string  `json:"scope" enum:"this,future"`
	Name      *string `json:"name,omitempty"`
	Duration  *int    `json:"duration,omitempty"`
	Progress  *int    `json:"progress,omitempty"`
	ShiftDays *int    `json:"shift_days,omitempty"`
}

type SegmentRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Duration  int    `json:"duration,omitempty"`
	Progress  *int   `json:"progress,omitempty"`
}

type SplitRequest struct {
	Segments []SegmentRequest `json:"segments"`
}

type PlanRequest struct {
	TOML string `json:"toml"`
}

// Responses

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type SegmentResponse struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Duration  int    `json:"duration"`
	Progress  int    `json:"progress"`
	IsActive  bool   `json:"is_active"`
}

type BaselineResponse struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Duration   int    `json:"duration"`
	CapturedAt string `json:"captured_at,omitempty"`
}

type RecurrenceResponse struct {
	ID             string   `json:"id"`
	Frequency      string   `json:"frequency"`
	Interval       int      `json:"interval"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date,omitempty"`
	MaxOccurrences *int     `json:"max_occurrences,omitempty"`
	Weekdays       []string `json:"weekdays,omitempty"`
	DayOfMonth     *int     `json:"day_of_month,omitempty"`
	Active         bool     `json:"active"`
}

type SeriesResponse struct {
	OriginalTaskID string `json:"original_task_id"`
	SeriesID       string `json:"series_id"`
	InstanceIndex  int    `json:"instance_index"`
}

type TaskResponse struct {
	ID             string              `json:"id"`
	ProjectID      string              `json:"project_id"`
	ParentID       *string             `json:"parent_id,omitempty"`
	Name           string              `json:"name"`
	StartDate      string              `json:"start_date,omitempty"`
	EndDate        string              `json:"end_date,omitempty"`
	Duration       int                 `json:"duration"`
	Progress       int                 `json:"progress"`
	IsMilestone    bool                `json:"is_milestone"`
	IsGroup        bool                `json:"is_group"`
	Deadline       string              `json:"deadline,omitempty"`
	TotalFloat     int                 `json:"total_float"`
	FreeFloat      int                 `json:"free_float"`
	IsCritical     bool                `json:"is_critical"`
	WasConstrained bool                `json:"was_constrained"`
	Baseline       *BaselineResponse   `json:"baseline,omitempty"`
	Recurrence     *RecurrenceResponse `json:"recurrence,omitempty"`
	Series         *SeriesResponse     `json:"series,omitempty"`
	IsSplit        bool                `json:"is_split"`
	Segments       []SegmentResponse   `json:"segments,omitempty"`
	CreatedAt      string              `json:"created_at" format:"date-time"`
	UpdatedAt      string              `json:"updated_at" format:"date-time"`
}

type ScheduleResponse struct {
	ProjectID    string             `json:"project_id"`
	ProjectStart string             `json:"project_start,omitempty"`
	ProjectEnd   string             `json:"project_end,omitempty"`
	CriticalPath []string           `json:"critical_path"`
	Tasks        []TaskResponse     `json:"tasks"`
	Warnings     []schedule.Warning `json:"warnings"`
	Errors       []string           `json:"errors"`
	Changed      []string           `json:"changed"`
}

type CriticalPathResponse struct {
	ProjectID    string         `json:"project_id"`
	ProjectEnd   string         `json:"project_end,omitempty"`
	CriticalPath []string       `json:"critical_path"`
	Tasks        []TaskResponse `json:"tasks"`
}

type ProjectBaselineResponse struct {
	Summary baseline.Summary       `json:"summary"`
	Tasks   []baseline.Performance `json:"tasks"`
}

type GenerateResponse struct {
	SeriesID string         `json:"series_id"`
	Created  []TaskResponse `json:"created"`
	Existing int            `json:"existing"`
}

type GapResponse struct {
	AfterSegmentID  string `json:"after_segment_id"`
	BeforeSegmentID string `json:"before_segment_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Days            int    `json:"days"`
}

type SegmentSummaryResponse struct {
	TaskID           string        `json:"task_id"`
	IsSplit          bool          `json:"is_split"`
	SegmentCount     int           `json:"segment_count"`
	ActiveCount      int           `json:"active_count"`
	TotalDuration    int           `json:"total_duration"`
	GapCount         int           `json:"gap_count"`
	TotalGapDuration int           `json:"total_gap_duration"`
	StartDate        string        `json:"start_date,omitempty"`
	EndDate          string        `json:"end_date,omitempty"`
	Gaps             []GapResponse `json:"gaps"`
	Warnings         []string      `json:"warnings"`
}

type SplitResponse struct {
	Task    TaskResponse           `json:"task"`
	Summary SegmentSummaryResponse `json:"summary"`
}

type ImportPlanResponse struct {
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	LinksAdded   int      `json:"links_added"`
	LinksSkipped int      `json:"links_skipped"`
	CriticalPath []string `json:"critical_path"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func dateOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return domain.FormatDate(t)
}

func taskResponse(t domain.Task) TaskResponse {
	res := TaskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		ParentID:       t.ParentID,
		Name:           t.Name,
		StartDate:      dateOrEmpty(t.Start),
		EndDate:        dateOrEmpty(t.End),
		Duration:       t.Duration,
		Progress:       t.Progress,
		IsMilestone:    t.IsMilestone,
		IsGroup:        t.IsGroup,
		TotalFloat:     t.TotalFloat,
		FreeFloat:      t.FreeFloat,
		IsCritical:     t.IsCritical,
		WasConstrained: t.WasConstrained,
		IsSplit:        t.IsSplit,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if t.Deadline != nil {
		res.Deadline = domain.FormatDate(*t.Deadline)
	}
	if b := t.Baseline; b != nil {
		res.Baseline = &BaselineResponse{
			StartDate:  domain.FormatDate(b.Start),
			EndDate:    domain.FormatDate(b.End),
			Duration:   b.Duration,
			CapturedAt: b.CapturedAt,
		}
	}
	if r := t.Recurrence; r != nil {
		res.Recurrence = recurrenceResponse(*r)
	}
	if s := t.Series; s != nil {
		res.Series = &SeriesResponse{OriginalTaskID: s.OriginalTaskID, SeriesID: s.SeriesID, InstanceIndex: s.InstanceIndex}
	}
	for _, s := range t.Segments {
		res.Segments = append(res.Segments, SegmentResponse{
			ID:        s.ID,
			StartDate: domain.FormatDate(s.Start),
			EndDate:   domain.FormatDate(s.End),
			Duration:  s.Duration,
			Progress:  s.Progress,
			IsActive:  s.IsActive,
		})
	}
	return res
}

func recurrenceResponse(r domain.RecurrenceRule) *RecurrenceResponse {
	res := &RecurrenceResponse{
		ID:             r.ID,
		Frequency:      string(r.Frequency),
		Interval:       r.Interval,
		StartDate:      dateOrEmpty(r.StartDate),
		MaxOccurrences: r.MaxOccurrences,
		DayOfMonth:     r.DayOfMonth,
		Active:         r.Active,
	}
	if r.EndDate != nil {
		res.EndDate = domain.FormatDate(*r.EndDate)
	}
	for _, d := range r.Weekdays {
		res.Weekdays = append(res.Weekdays, strings.ToLower(d.String()[:3]))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func scheduleResponse(rep engine.ScheduleReport) ScheduleResponse {
	res := ScheduleResponse{
		ProjectID:    rep.ProjectID,
		ProjectStart: dateOrEmpty(rep.Result.ProjectStart),
		ProjectEnd:   dateOrEmpty(rep.Result.ProjectEnd),
		CriticalPath: nonNilSlice(rep.Result.CriticalPath),
		Tasks:        mapTasks(rep.Result.Tasks),
		Warnings:     nonNilSlice(rep.Result.Warnings),
		Errors:       []string{},
		Changed:      nonNilSlice(rep.Changed),
	}
	for _, err := range rep.Result.Errors {
		res.Errors = append(res.Errors, err.Error())
	}
	return res
}

func criticalPathResponse(rep engine.ScheduleReport) CriticalPathResponse {
	res := CriticalPathResponse{
		ProjectID:    rep.ProjectID,
		ProjectEnd:   dateOrEmpty(rep.Result.ProjectEnd),
		CriticalPath: nonNilSlice(rep.Result.CriticalPath),
		Tasks:        []TaskResponse{},
	}
	for _, id := range rep.Result.CriticalPath {
		if t, ok := rep.Result.Task(id); ok {
			res.Tasks = append(res.Tasks, taskResponse(t))
		}
	}
	return res
}

func segmentSummaryResponse(s segment.Summary) SegmentSummaryResponse {
	res := SegmentSummaryResponse{
		TaskID:           s.TaskID,
		IsSplit:          s.IsSplit,
		SegmentCount:     s.SegmentCount,
		ActiveCount:      s.ActiveCount,
		TotalDuration:    s.TotalDuration,
		GapCount:         s.GapCount,
		TotalGapDuration: s.TotalGapDuration,
		StartDate:        dateOrEmpty(s.Start),
		EndDate:          dateOrEmpty(s.End),
		Gaps:             []GapResponse{},
		Warnings:         nonNilSlice(s.Warnings),
	}
	for _, g := range s.Gaps {
		res.Gaps = append(res.Gaps, GapResponse{
			AfterSegmentID:  g.AfterSegmentID,
			BeforeSegmentID: g.BeforeSegmentID,
			StartDate:       domain.FormatDate(g.Start),
			EndDate:         domain.FormatDate(g.End),
			Days:            g.Days,
		})
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// Request parsing

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, fieldError(field, "must be a YYYY-MM-DD date")
	}
	return d, nil
}

func parseDatePtr(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	d, err := parseDate(field, *raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r RecurrenceRequest) rule() (domain.RecurrenceRule, error) {
	rule := domain.RecurrenceRule{
		Frequency:      domain.Frequency(strings.ToLower(r.Frequency)),
		Interval:       r.Interval,
		MaxOccurrences: r.MaxOccurrences,
		DayOfMonth:     r.DayOfMonth,
	}
	var err error
	if rule.StartDate, err = parseDate("start_date", r.StartDate); err != nil {
		return rule, err
	}
	if rule.EndDate, err = parseDatePtr("end_date", &r.EndDate); err != nil {
		return rule, err
	}
	for _, name := range r.Weekdays {
		d, err := calendar.ParseWeekday(name)
		if err != nil {
			return rule, fieldError("weekdays", err.Error())
		}
		rule.Weekdays = append(rule.Weekdays, d)
	}
	return rule, nil
}

func (r SplitRequest) ranges() ([]segment.Range, error) {
	out := make([]segment.Range, 0, len(r.Segments))
	for i, s := range r.Segments {
		start, err := parseDate(fmt.Sprintf("segments[%d].start_date", i), s.StartDate)
		if err != nil {
			return nil, err
		}
		end, err := parseDate(fmt.Sprintf("segments[%d].end_date", i), s.EndDate)
		if err != nil {
			return nil, err
		}
		out = append(out, segment.Range{Start: start, End: end, Duration: s.Duration, Progress: s.Progress})
	}
	return out, nil
}

func (r SeriesUpdateRequest) patch() recurrence.Patch {
	return recurrence.Patch{Name: r.Name, Duration: r.Duration, Progress: r.Progress, ShiftDays: r.ShiftDays}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
