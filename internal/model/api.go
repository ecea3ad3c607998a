package model

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Limits applied to evidence carried on events and relation edges.
const (
	MaxEvidenceURLLen   = 2048
	MaxTitleLen         = 512
	MaxEvidenceURLs     = 10 // deduplicated candidates considered per edge
	MaxPersistedURLs    = 5  // URLs stored on an edge
	MaxEvidenceEventIDs = 5
	MaxSignalsPerIngest = 500
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultTheatre      = "global"
)

// privateIPRanges is the set of CIDR blocks considered non-public.
// Populated once at package init; used by ValidateEvidenceURL.
var privateIPRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // link-local
		"::1/128",
		"fc00::/7",  // unique-local IPv6
		"fe80::/10", // link-local IPv6
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPRanges = append(privateIPRanges, network)
		}
	}
}

// ValidateEvidenceURL ensures an evidence URL is a publicly-routable http/https
// URL. Evidence links are rendered by downstream clients, so javascript: and
// file: schemes, embedded credentials and private addresses are rejected.
func ValidateEvidenceURL(rawURL string) error {
	if len(rawURL) > MaxEvidenceURLLen {
		return fmt.Errorf("evidence url exceeds maximum length of %d bytes", MaxEvidenceURLLen)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("evidence url must use http or https scheme (got %q)", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("evidence url must not include credentials")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("evidence url must include a host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("evidence url must not point to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, r := range privateIPRanges {
			if r.Contains(ip) {
				return fmt.Errorf("evidence url must not point to a private or loopback address")
			}
		}
	}
	return nil
}

// FilterEvidenceURLs drops invalid URLs and duplicates, preserving order, and
// returns at most limit entries. limit <= 0 means no cap.
func FilterEvidenceURLs(urls []string, limit int) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		if ValidateEvidenceURL(u) != nil {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CycleRequest is the optional body of POST /v1/cycle. Nil fields fall back
// to the engine's configured defaults.
type CycleRequest struct {
	MinTension *float64 `json:"min_tension,omitempty"`
	MaxAgeSecs *int64   `json:"max_age_seconds,omitempty"`
	V2Enabled  *bool    `json:"v2_enabled,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	Store      string     `json:"store"`
	StoreOK    bool       `json:"store_ok"`
	Enabled    bool       `json:"cce_enabled"`
	V2Enabled  bool       `json:"cce_v2_enabled"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
	Uptime     int64      `json:"uptime_seconds"`
}
