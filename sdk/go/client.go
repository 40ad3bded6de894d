package planlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Servers
	// accept it only when started with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ProjectPatch changes project fields; nil fields are left alone.
type ProjectPatch struct {
	Name        *string `json:"name,omitempty"`
	Status      *string `json:"status,omitempty"`
	Description *string `json:"description,omitempty"`
}

type Baseline struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Duration   int    `json:"duration"`
	CapturedAt string `json:"captured_at,omitempty"`
}

type Recurrence struct {
	ID             string   `json:"id,omitempty"`
	Frequency      string   `json:"frequency"`
	Interval       int      `json:"interval,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
	MaxOccurrences *int     `json:"max_occurrences,omitempty"`
	Weekdays       []string `json:"weekdays,omitempty"`
	DayOfMonth     *int     `json:"day_of_month,omitempty"`
	Active         bool     `json:"active,omitempty"`
}

type Series struct {
	OriginalTaskID string `json:"original_task_id"`
	SeriesID       string `json:"series_id"`
	InstanceIndex  int    `json:"instance_index"`
}

type Segment struct {
	ID        string `json:"id,omitempty"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Duration  int    `json:"duration,omitempty"`
	Progress  *int   `json:"progress,omitempty"`
	IsActive  bool   `json:"is_active,omitempty"`
}

// Task is the API task model. Dates are YYYY-MM-DD and end dates are exclusive.
type Task struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	ParentID       *string     `json:"parent_id,omitempty"`
	Name           string      `json:"name"`
	StartDate      string      `json:"start_date,omitempty"`
	EndDate        string      `json:"end_date,omitempty"`
	Duration       int         `json:"duration"`
	Progress       int         `json:"progress"`
	IsMilestone    bool        `json:"is_milestone"`
	IsGroup        bool        `json:"is_group"`
	Deadline       string      `json:"deadline,omitempty"`
	TotalFloat     int         `json:"total_float"`
	FreeFloat      int         `json:"free_float"`
	IsCritical     bool        `json:"is_critical"`
	WasConstrained bool        `json:"was_constrained"`
	Baseline       *Baseline   `json:"baseline,omitempty"`
	Recurrence     *Recurrence `json:"recurrence,omitempty"`
	Series         *Series     `json:"series,omitempty"`
	IsSplit        bool        `json:"is_split"`
	Segments       []Segment   `json:"segments,omitempty"`
	CreatedAt      string      `json:"created_at"`
	UpdatedAt      string      `json:"updated_at"`
}

// TaskInput creates a task. Leave EndDate empty to derive it from Duration.
type TaskInput struct {
	ID          string `json:"id,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
	Name        string `json:"name"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Duration    *int   `json:"duration,omitempty"`
	Progress    int    `json:"progress,omitempty"`
	IsMilestone bool   `json:"is_milestone,omitempty"`
	IsGroup     bool   `json:"is_group,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
}

// TaskPatch updates a task; nil fields are left alone.
type TaskPatch struct {
	Name        *string `json:"name,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
	Duration    *int    `json:"duration,omitempty"`
	Progress    *int    `json:"progress,omitempty"`
	IsMilestone *bool   `json:"is_milestone,omitempty"`
	Deadline    *string `json:"deadline,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
}

type Link struct {
	ID        string `json:"id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Type      string `json:"type,omitempty"`
	Lag       int    `json:"lag,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type Warning struct {
	Code    string `json:"code"`
	TaskID  string `json:"task_id,omitempty"`
	LinkID  string `json:"link_id,omitempty"`
	Message string `json:"message"`
}

type Schedule struct {
	ProjectID    string    `json:"project_id"`
	ProjectStart string    `json:"project_start,omitempty"`
	ProjectEnd   string    `json:"project_end,omitempty"`
	CriticalPath []string  `json:"critical_path"`
	Tasks        []Task    `json:"tasks"`
	Warnings     []Warning `json:"warnings"`
	Errors       []string  `json:"errors"`
	Changed      []string  `json:"changed"`
}

type Performance struct {
	TaskID           string `json:"task_id"`
	HasBaseline      bool   `json:"has_baseline"`
	StartVariance    int    `json:"start_variance"`
	FinishVariance   int    `json:"finish_variance"`
	DurationVariance int    `json:"duration_variance"`
	Status           string `json:"status"`
}

type BaselineSummary struct {
	Total               int    `json:"total"`
	Ahead               int    `json:"ahead"`
	OnTrack             int    `json:"on_track"`
	Behind              int    `json:"behind"`
	NoBaseline          int    `json:"no_baseline"`
	WorstTaskID         string `json:"worst_task_id,omitempty"`
	WorstFinishVariance int    `json:"worst_finish_variance"`
}

type ProjectBaseline struct {
	Summary BaselineSummary `json:"summary"`
	Tasks   []Performance   `json:"tasks"`
}

type Generated struct {
	SeriesID string `json:"series_id"`
	Created  []Task `json:"created"`
	Existing int    `json:"existing"`
}

// SeriesUpdate patches one instance (scope "this") or it and every later
// instance (scope "future").
type SeriesUpdate struct {
	Scope     string  `json:"scope"`
	Name      *string `json:"name,omitempty"`
	Duration  *int    `json:"duration,omitempty"`
	Progress  *int    `json:"progress,omitempty"`
	ShiftDays *int    `json:"shift_days,omitempty"`
}

type Gap struct {
	AfterSegmentID  string `json:"after_segment_id"`
	BeforeSegmentID string `json:"before_segment_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Days            int    `json:"days"`
}

type SegmentSummary struct {
	TaskID           string   `json:"task_id"`
	IsSplit          bool     `json:"is_split"`
	SegmentCount     int      `json:"segment_count"`
	ActiveCount      int      `json:"active_count"`
	TotalDuration    int      `json:"total_duration"`
	GapCount         int      `json:"gap_count"`
	TotalGapDuration int      `json:"total_gap_duration"`
	StartDate        string   `json:"start_date,omitempty"`
	EndDate          string   `json:"end_date,omitempty"`
	Gaps             []Gap    `json:"gaps"`
	Warnings         []string `json:"warnings"`
}

type PlanImport struct {
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	LinksAdded   int      `json:"links_added"`
	LinksSkipped int      `json:"links_skipped"`
	CriticalPath []string `json:"critical_path"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) CreateProject(ctx context.Context, id, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", map[string]any{"id": id, "name": name}, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// UpdateProject patches the client's project.
func (c *Client) UpdateProject(ctx context.Context, patch ProjectPatch) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "v0/projects/"+url.PathEscape(c.ProjectID), patch, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(id, ""), nil, &resp)
	return resp, err
}

// ListTasks returns tasks, optionally under one parent.
func (c *Client) ListTasks(ctx context.Context, parentID string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if parentID != "" {
		endpoint += "?parent_id=" + url.QueryEscape(parentID)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.taskPath(id, ""), patch, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.taskPath(id, ""), nil, nil)
}

// AddLink makes to depend on from. An empty typ means FS.
func (c *Client) AddLink(ctx context.Context, from, to, typ string, lag int) (Link, error) {
	var resp Link
	err := c.do(ctx, http.MethodPost, c.projectPath("links"), Link{FromID: from, ToID: to, Type: typ, Lag: lag}, &resp)
	return resp, err
}

func (c *Client) ListLinks(ctx context.Context) ([]Link, error) {
	var resp []Link
	err := c.do(ctx, http.MethodGet, c.projectPath("links"), nil, &resp)
	return resp, err
}

func (c *Client) RemoveLink(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath("links/"+url.PathEscape(id)), nil, nil)
}

// Schedule runs a scheduling pass. A dry run stores nothing.
func (c *Client) Schedule(ctx context.Context, dryRun bool) (Schedule, error) {
	endpoint := c.projectPath("schedule")
	if dryRun {
		endpoint += "?dry_run=true"
	}
	var resp Schedule
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CriticalPath(ctx context.Context) ([]string, error) {
	var resp struct {
		CriticalPath []string `json:"critical_path"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("critical-path"), nil, &resp)
	return resp.CriticalPath, err
}

// SetBaseline captures a baseline for one task.
func (c *Client) SetBaseline(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "baseline"), nil, &resp)
	return resp, err
}

// SetProjectBaseline captures a baseline for every task that has none and
// returns how many were captured.
func (c *Client) SetProjectBaseline(ctx context.Context) (int, error) {
	var resp struct {
		Captured int `json:"captured"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("baseline"), nil, &resp)
	return resp.Captured, err
}

func (c *Client) BaselinePerformance(ctx context.Context, taskID string) (Performance, error) {
	var resp Performance
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "baseline"), nil, &resp)
	return resp, err
}

func (c *Client) ProjectBaseline(ctx context.Context) (ProjectBaseline, error) {
	var resp ProjectBaseline
	err := c.do(ctx, http.MethodGet, c.projectPath("baseline"), nil, &resp)
	return resp, err
}

func (c *Client) EnableRecurrence(ctx context.Context, taskID string, rule Recurrence) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, c.taskPath(taskID, "recurrence"), rule, &resp)
	return resp, err
}

func (c *Client) DisableRecurrence(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodDelete, c.taskPath(taskID, "recurrence"), nil, &resp)
	return resp, err
}

// GenerateInstances creates missing instances between from and to; empty
// bounds leave that side open.
func (c *Client) GenerateInstances(ctx context.Context, taskID, from, to string) (Generated, error) {
	var resp Generated
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "recurrence/generate"), map[string]string{"from": from, "to": to}, &resp)
	return resp, err
}

func (c *Client) DetachInstance(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "detach"), nil, &resp)
	return resp, err
}

func (c *Client) UpdateSeries(ctx context.Context, taskID string, update SeriesUpdate) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "series"), update, &resp)
	return resp, err
}

func (c *Client) SplitTask(ctx context.Context, taskID string, segments []Segment) (Task, SegmentSummary, error) {
	var resp struct {
		Task    Task           `json:"task"`
		Summary SegmentSummary `json:"summary"`
	}
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "split"), map[string]any{"segments": segments}, &resp)
	return resp.Task, resp.Summary, err
}

func (c *Client) MergeTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "merge"), nil, &resp)
	return resp, err
}

func (c *Client) Segments(ctx context.Context, taskID string) (SegmentSummary, error) {
	var resp SegmentSummary
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "segments"), nil, &resp)
	return resp, err
}

// ExportPlan returns the project as TOML.
func (c *Client) ExportPlan(ctx context.Context) (string, error) {
	var resp struct {
		TOML string `json:"toml"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("plan"), nil, &resp)
	return resp.TOML, err
}

// ImportPlan upserts the tasks and links of a TOML plan.
func (c *Client) ImportPlan(ctx context.Context, toml string) (PlanImport, error) {
	var resp PlanImport
	err := c.do(ctx, http.MethodPost, c.projectPath("plan"), map[string]string{"toml": toml}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(id, sub string) string {
	p := "tasks/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return c.projectPath(p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
