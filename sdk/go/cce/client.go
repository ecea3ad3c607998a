package cce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the CCE server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// A manual cycle can run up to the server's tick timeout, so callers of
	// RunCycle may want more.
	Timeout time.Duration
}

// Client is an HTTP client for the CCE API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or unparseable.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cce: BaseURL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("cce: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// World returns the world summary from the last completed cycle.
func (c *Client) World(ctx context.Context) (*WorldState, error) {
	var resp WorldState
	if err := c.get(ctx, "/v1/world", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConflicts returns one page of conflicts. Nil opts use the server's
// default sort and page size.
func (c *Client) ListConflicts(ctx context.Context, opts *ConflictOptions) (*ConflictsResponse, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Sort != "" {
			params.Set("sort", opts.Sort)
		}
		if opts.Theatre != "" {
			params.Set("theatre", opts.Theatre)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	var page struct {
		Data    []Conflict `json:"data"`
		Total   int        `json:"total"`
		HasMore bool       `json:"has_more"`
		Limit   int        `json:"limit"`
		Offset  int        `json:"offset"`
	}
	if err := c.getRaw(ctx, "/v1/conflicts", params, &page); err != nil {
		return nil, err
	}
	return &ConflictsResponse{
		Conflicts: page.Data,
		Total:     page.Total,
		HasMore:   page.HasMore,
		Limit:     page.Limit,
		Offset:    page.Offset,
	}, nil
}

// Theatres returns theatre rollups.
func (c *Client) Theatres(ctx context.Context, opts *TheatreOptions) ([]Theatre, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Sort != "" {
			params.Set("sort", opts.Sort)
		}
		if opts.MinTension > 0 {
			params.Set("min_tension", formatFloat(opts.MinTension))
		}
	}
	var resp []Theatre
	if err := c.get(ctx, "/v1/theatres", params, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Fronts returns front line states.
func (c *Client) Fronts(ctx context.Context, opts *FrontOptions) ([]FrontLine, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Theatre != "" {
			params.Set("theatre", opts.Theatre)
		}
		if opts.MinIntensity > 0 {
			params.Set("min_intensity", formatFloat(opts.MinIntensity))
		}
	}
	var resp []FrontLine
	if err := c.get(ctx, "/v1/fronts", params, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Alliances returns alliance pressure, highest first.
func (c *Client) Alliances(ctx context.Context) ([]AlliancePressure, error) {
	var resp []AlliancePressure
	if err := c.get(ctx, "/v1/alliances", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Relations returns the relation edges touching entity.
func (c *Client) Relations(ctx context.Context, entity string, opts *RelationOptions) ([]RelationEdge, error) {
	if strings.TrimSpace(entity) == "" {
		return nil, fmt.Errorf("cce: entity is required")
	}
	params := url.Values{"entity": {entity}}
	if opts != nil {
		if opts.RelationType != "" {
			params.Set("relation_type", opts.RelationType)
		}
		if opts.MinStrength > 0 {
			params.Set("min_strength", formatFloat(opts.MinStrength))
		}
	}
	var resp []RelationEdge
	if err := c.get(ctx, "/v1/relations", params, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunCycle asks the server to run one update cycle now. A nil req uses the
// server's configuration. The result may report Success=false with
// per-phase failures; that is not an error.
func (c *Client) RunCycle(ctx context.Context, req *CycleRequest) (*TickResult, error) {
	var body any
	if req != nil {
		body = req
	}
	var resp TickResult
	if err := c.post(ctx, "/v1/cycle", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LastCycle returns the result of the last completed update cycle.
func (c *Client) LastCycle(ctx context.Context) (*TickResult, error) {
	var resp TickResult
	if err := c.get(ctx, "/v1/cycle", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports server liveness. A 503 (store unreachable) still decodes
// into the response alongside the returned error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.get(ctx, "/health", nil, &resp)
	if err != nil && resp.Status == "" {
		return nil, err
	}
	return &resp, err
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *Client) endpoint(path string, params url.Values) string {
	if len(params) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + params.Encode()
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cce: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("cce: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest, true)
}

// get decodes the data field of the response envelope into dest.
func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return fmt.Errorf("cce: create request: %w", err)
	}
	return c.do(req, dest, true)
}

// getRaw decodes the whole response body into dest. List endpoints carry
// paging fields beside data.
func (c *Client) getRaw(ctx context.Context, path string, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return fmt.Errorf("cce: create request: %w", err)
	}
	return c.do(req, dest, false)
}

func (c *Client) do(req *http.Request, dest any, unwrap bool) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cce: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, unwrap)
}

func handleResponse(resp *http.Response, dest any, unwrap bool) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cce: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := parseErrorResponse(resp.StatusCode, bodyBytes)
		// /health reports its payload with a 503.
		if resp.StatusCode == http.StatusServiceUnavailable && dest != nil {
			_ = decodeEnvelope(bodyBytes, dest)
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if !unwrap {
		if err := json.Unmarshal(bodyBytes, dest); err != nil {
			return fmt.Errorf("cce: decode response: %w", err)
		}
		return nil
	}
	return decodeEnvelope(bodyBytes, dest)
}

// decodeEnvelope unwraps the server's { "data": ... } envelope.
func decodeEnvelope(body []byte, dest any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("cce: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(body, dest)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("cce: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
