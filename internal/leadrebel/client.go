// Package leadrebel implements the client for the LeadRebel
// visitor-tracking API: paginated session retrieval, lazy company
// lookups and the configured country allow-list.
package leadrebel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sitetrail/leadsync/internal/normalize"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 100
	defaultTimeout  = 30 * time.Second

	sessionsEndpoint  = "visit/sessions/list"
	companiesEndpoint = "companies/"
)

var (
	// ErrMissingBaseURL indicates the client was constructed without an API URL.
	ErrMissingBaseURL = errors.New("leadrebel: api url is required")
	// ErrMissingAPIKey indicates the client was constructed without an API key.
	ErrMissingAPIKey = errors.New("leadrebel: api key is required")
	// ErrClientClosed indicates a request was attempted outside an Open/Close pair.
	ErrClientClosed = errors.New("leadrebel: client is not open")
	// ErrAPI marks transport and upstream-status failures. Fatal for the
	// whole operation; callers map it onto their upstream error surface.
	ErrAPI = errors.New("leadrebel: api error")
)

// ClientConfig describes how to reach the remote API.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Countries is the optional allow-list of two-letter codes applied
	// to incremental fetches. Empty disables filtering.
	Countries []string
	PageSize  int
	Logger    *zap.Logger
}

// Client talks to the remote session feed. The underlying HTTP session
// is a scoped resource: Open before use, Close unconditionally after.
type Client struct {
	baseURL   string
	apiKey    string
	timeout   time.Duration
	pageSize  int
	countries map[string]struct{}
	logger    *zap.Logger

	httpClient *http.Client
}

// NewClient constructs a client and validates its configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	countries := make(map[string]struct{}, len(cfg.Countries))
	for _, code := range cfg.Countries {
		normalized := strings.ToUpper(strings.TrimSpace(code))
		if normalized != "" {
			countries[normalized] = struct{}{}
		}
	}

	return &Client{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		timeout:   timeout,
		pageSize:  pageSize,
		countries: countries,
		logger:    logger,
	}, nil
}

// Open acquires the HTTP session.
func (c *Client) Open() {
	c.httpClient = &http.Client{Timeout: c.timeout}
}

// Close releases the HTTP session. Safe to call on every exit path,
// including after a failed request.
func (c *Client) Close() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, payload, result any) error {
	if c.httpClient == nil {
		return ErrClientClosed
	}

	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("leadrebel: request encoding failed: %w", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("leadrebel: request construction failed: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("auth", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPI, err)
	}
	defer response.Body.Close() //nolint:errcheck

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: unexpected status %d for %s", ErrAPI, response.StatusCode, endpoint)
	}

	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return fmt.Errorf("leadrebel: response decoding failed: %w", err)
	}
	return nil
}

type sessionListRequest struct {
	Page         int    `json:"page"`
	ItemsPerPage int    `json:"itemsPerPage"`
	MinDate      string `json:"minDate,omitempty"`
}

type sessionListResponse struct {
	Data  []Session `json:"data"`
	Total int       `json:"total"`
}

// fetchSessions accumulates the full session list page by page until the
// reported total is exhausted.
func (c *Client) fetchSessions(ctx context.Context, minDate string) ([]Session, error) {
	var sessions []Session
	for page := 0; ; page++ {
		payload := sessionListRequest{
			Page:         page,
			ItemsPerPage: c.pageSize,
			MinDate:      minDate,
		}
		var response sessionListResponse
		if err := c.request(ctx, http.MethodPost, sessionsEndpoint, payload, &response); err != nil {
			return nil, err
		}
		sessions = append(sessions, response.Data...)
		if response.Total <= (page+1)*c.pageSize || len(response.Data) == 0 {
			break
		}
	}

	for _, session := range sessions {
		if err := session.validate(); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// FetchNewSessions returns the sessions recorded since the watermark,
// filtered through the country allow-list. A nil watermark fetches the
// full feed (first run).
func (c *Client) FetchNewSessions(ctx context.Context, since *time.Time) ([]Session, error) {
	minDate := ""
	if since != nil {
		minDate = normalize.RemoteDate(*since)
	}
	sessions, err := c.fetchSessions(ctx, minDate)
	if err != nil {
		return nil, err
	}
	filtered := c.filterCountries(sessions)
	c.logger.Debug("sessions fetched",
		zap.String("min_date", minDate),
		zap.Int("received", len(sessions)),
		zap.Int("retained", len(filtered)))
	return filtered, nil
}

// FetchAllSessions returns the complete session feed with no date or
// country filter. Used by the backfill matcher.
func (c *Client) FetchAllSessions(ctx context.Context) ([]Session, error) {
	return c.fetchSessions(ctx, "")
}

type companyResponse struct {
	Data Company `json:"data"`
}

// FetchCompany returns the detail record for one company.
func (c *Client) FetchCompany(ctx context.Context, companyID string) (Company, error) {
	if strings.TrimSpace(companyID) == "" {
		return Company{}, ErrMissingCompanyID
	}
	var response companyResponse
	if err := c.request(ctx, http.MethodGet, companiesEndpoint+companyID, nil, &response); err != nil {
		return Company{}, err
	}
	if err := response.Data.validate(); err != nil {
		return Company{}, err
	}
	return response.Data, nil
}

func (c *Client) filterCountries(sessions []Session) []Session {
	if len(c.countries) == 0 {
		return sessions
	}
	retained := make([]Session, 0, len(sessions))
	for _, session := range sessions {
		if _, ok := c.countries[strings.ToUpper(session.CountryCode)]; ok {
			retained = append(retained, session)
		}
	}
	return retained
}
