package proactsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal PrOACT HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. The server
	// only honours it with allow_actor_header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client for an API mounted at baseURL, e.g. http://localhost:8080/v0.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	OwnerID   string `json:"owner_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

type Component struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Version     uint64         `json:"version"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	UpdatedAt   string         `json:"updated_at"`
}

type Progress struct {
	Total       int    `json:"total"`
	Started     int    `json:"started"`
	Completed   int    `json:"completed"`
	Percent     int    `json:"percent"`
	CurrentStep string `json:"current_step"`
	NextStep    string `json:"next_step,omitempty"`
}

type Cycle struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	ParentCycleID string      `json:"parent_cycle_id,omitempty"`
	BranchPoint   string      `json:"branch_point,omitempty"`
	Status        string      `json:"status"`
	CurrentStep   string      `json:"current_step"`
	Progress      Progress    `json:"progress"`
	Components    []Component `json:"components"`
	CreatedAt     string      `json:"created_at"`
	UpdatedAt     string      `json:"updated_at"`
}

// Component returns the named stage, or false.
func (c Cycle) Component(name string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.Type == name {
			return comp, true
		}
	}
	return Component{}, false
}

type Ranked struct {
	OptionID string `json:"option_id"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type Dominated struct {
	OptionID    string   `json:"option_id"`
	DominatedBy string   `json:"dominated_by"`
	BetterOn    []string `json:"better_on"`
	Explanation string   `json:"explanation"`
}

type Tension struct {
	OptionID string   `json:"option_id"`
	Gains    []string `json:"gains"`
	Losses   []string `json:"losses"`
}

type Pugh struct {
	Scores               map[string]int `json:"scores"`
	Ranking              []Ranked       `json:"ranking"`
	Dominated            []Dominated    `json:"dominated"`
	IrrelevantObjectives []string       `json:"irrelevant_objectives"`
	TopAlternative       string         `json:"top_alternative,omitempty"`
	Tensions             []Tension      `json:"tensions"`
}

type DQElement struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type Improvement struct {
	Element    string `json:"element"`
	Score      int    `json:"score"`
	Priority   string `json:"priority"`
	Suggestion string `json:"suggestion"`
}

type DQ struct {
	Overall      int           `json:"overall"`
	Weakest      *DQElement    `json:"weakest,omitempty"`
	Improvements []Improvement `json:"improvements"`
}

// Report is the analysis of one cycle.
type Report struct {
	CycleID             string   `json:"cycle_id"`
	ConsequencesVersion *uint64  `json:"consequences_version,omitempty"`
	Pugh                *Pugh    `json:"pugh,omitempty"`
	DQVersion           *uint64  `json:"dq_version,omitempty"`
	DQ                  *DQ      `json:"dq,omitempty"`
	Warnings            []string `json:"warnings"`
}

// StoredReport is the last persisted analysis of a cycle. Stale is set when
// the cycle changed after it was computed.
type StoredReport struct {
	RunID     string `json:"run_id"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at"`
	Stale     bool   `json:"stale"`
	Report    Report `json:"report"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Component string         `json:"component,omitempty"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery filters an event listing. Zero fields are ignored.
type EventQuery struct {
	SessionID string
	CycleID   string
	Type      string
	Limit     int
	Cursor    string
}

// APIError wraps non-2xx responses.
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

// IsConflict reports whether err is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "concurrency_conflict"
}

func (c *Client) CreateSession(ctx context.Context, title string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var resp []Session
	err := c.do(ctx, http.MethodGet, "sessions", nil, &resp)
	return resp, err
}

func (c *Client) CreateCycle(ctx context.Context, sessionID string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, "sessions/"+url.PathEscape(sessionID)+"/cycles", nil, &resp)
	return resp, err
}

func (c *Client) ListCycles(ctx context.Context, sessionID string) ([]Cycle, error) {
	var resp []Cycle
	err := c.do(ctx, http.MethodGet, "sessions/"+url.PathEscape(sessionID)+"/cycles", nil, &resp)
	return resp, err
}

func (c *Client) GetCycle(ctx context.Context, cycleID string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodGet, cyclePath(cycleID), nil, &resp)
	return resp, err
}

// BranchCycle copies a cycle up to branchPoint into a new cycle.
func (c *Client) BranchCycle(ctx context.Context, cycleID, branchPoint string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID)+"/branch", map[string]any{"branch_point": branchPoint}, &resp)
	return resp, err
}

func (c *Client) NavigateTo(ctx context.Context, cycleID, component string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID)+"/navigate", map[string]any{"component": component}, &resp)
	return resp, err
}

func (c *Client) CompleteCycle(ctx context.Context, cycleID string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID)+"/complete", nil, &resp)
	return resp, err
}

func (c *Client) ArchiveCycle(ctx context.Context, cycleID string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID)+"/archive", nil, &resp)
	return resp, err
}

func (c *Client) StartComponent(ctx context.Context, cycleID, component string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, componentPath(cycleID, component)+"/start", nil, &resp)
	return resp, err
}

// CompleteComponent completes a stage. A nil output completes it with the
// output already stored.
func (c *Client) CompleteComponent(ctx context.Context, cycleID, component string, output any) (Cycle, error) {
	var body any
	if output != nil {
		body = map[string]any{"output": output}
	}
	var resp Cycle
	err := c.do(ctx, http.MethodPost, componentPath(cycleID, component)+"/complete", body, &resp)
	return resp, err
}

// UpdateOutput replaces a stage output if its version still equals
// expectedVersion, and returns the new version.
func (c *Client) UpdateOutput(ctx context.Context, cycleID, component string, output any, expectedVersion uint64) (Cycle, uint64, error) {
	var resp struct {
		Cycle   Cycle  `json:"cycle"`
		Version uint64 `json:"version"`
	}
	body := map[string]any{"output": output, "expected_version": expectedVersion}
	err := c.do(ctx, http.MethodPut, componentPath(cycleID, component)+"/output", body, &resp)
	return resp.Cycle, resp.Version, err
}

func (c *Client) ReviseComponent(ctx context.Context, cycleID, component string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, componentPath(cycleID, component)+"/revise", nil, &resp)
	return resp, err
}

// Analyze runs and stores a new analysis of the cycle.
func (c *Client) Analyze(ctx context.Context, cycleID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID)+"/analysis", nil, &resp)
	return resp, err
}

func (c *Client) LatestAnalysis(ctx context.Context, cycleID string) (StoredReport, error) {
	var resp StoredReport
	err := c.do(ctx, http.MethodGet, cyclePath(cycleID)+"/analysis", nil, &resp)
	return resp, err
}

func (c *Client) CompareSession(ctx context.Context, sessionID string) ([]Report, error) {
	var resp []Report
	err := c.do(ctx, http.MethodGet, "sessions/"+url.PathEscape(sessionID)+"/analysis", nil, &resp)
	return resp, err
}

// Events returns a page of events, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.SessionID != "" {
		params.Set("session_id", q.SessionID)
	}
	if q.CycleID != "" {
		params.Set("cycle_id", q.CycleID)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
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
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func cyclePath(id string) string {
	return "cycles/" + url.PathEscape(id)
}

func componentPath(cycleID, component string) string {
	return fmt.Sprintf("%s/components/%s", cyclePath(cycleID), url.PathEscape(component))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
