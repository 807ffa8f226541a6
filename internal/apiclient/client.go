// Package apiclient implements the HTTP boundary to the recon API. Every
// response body passes through the typed decoders in internal/models before
// it reaches a caller.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/reconboard/internal/config"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
	"github.com/anstrom/reconboard/internal/models"
)

// HTTP status code constants
const (
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusConflict            = 409
	StatusUnprocessableEntity = 422
	StatusTooManyRequests     = 429
	StatusInternalServerError = 500
)

// Operation names, used as log fields and metric labels.
const (
	OpListScans      = "list_scans"
	OpGetScan        = "get_scan"
	OpCreateScan     = "create_scan"
	OpDeleteScan     = "delete_scan"
	OpGetStats       = "get_stats"
	OpListResults    = "list_results"
	OpExportResults  = "export_results"
	OpListSchedules  = "list_schedules"
	OpCreateSchedule = "create_schedule"
	OpToggleSchedule = "toggle_schedule"
	OpDeleteSchedule = "delete_schedule"
	OpHealth         = "health"
)

const (
	headerRequestID = "X-Request-ID"
	maxErrorBody    = 64 << 10
)

// Client talks to the recon API over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics enables request metrics.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
				DisableKeepAlives:  false,
			},
		},
		userAgent: "reconboard-cli/1.0",
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("apiclient")
	return c
}

// NewFromConfig creates a client from the loaded configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	base := []Option{
		WithUserAgent(cfg.API.UserAgent),
		WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
	}
	return New(cfg.GetBaseURL(), append(base, opts...)...)
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an HTTP response with a status of 400 or above.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
	Operation  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsAPIError reports whether err carries an HTTP error status.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return stderrors.As(err, &apiErr)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errorBody covers the shapes the API uses for failures: FastAPI's detail
// (a string or a list of validation issues) and plain error/message keys.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func parseErrorMessage(status int, body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Detail) > 0 && string(parsed.Detail) != "null" {
			var detail string
			if err := json.Unmarshal(parsed.Detail, &detail); err == nil {
				return detail
			}
			var compact bytes.Buffer
			if err := json.Compact(&compact, parsed.Detail); err == nil {
				return compact.String()
			}
		}
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return fmt.Sprintf("HTTP %d error", status)
}

// request performs one round trip and returns the raw response body. Status
// codes of 400 and above become *APIError; transport failures are NETWORK
// errors, or CANCELED when ctx ended first.
func (c *Client) request(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var requestBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		requestBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(headerRequestID, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := c.logger.WithContext(logging.ContextWithRequestID(ctx, requestID))
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.IncrementNetworkFailures(op)
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Debug("request canceled", "operation", op, "path", path)
			return nil, errors.Wrap(errors.CodeCanceled, "request canceled", ctxErr).WithOperation(op)
		}
		logger.ErrorRequest("request failed", method, path, err, "operation", op)
		return nil, errors.ErrNetwork(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	c.metrics.ObserveRequest(op, resp.StatusCode, duration)
	if err != nil {
		logger.ErrorRequest("failed to read response body", method, path, err, "operation", op)
		return nil, errors.ErrNetwork(op, fmt.Errorf("failed to read response body: %w", err))
	}

	logger.InfoRequest("request completed", method, path,
		"operation", op, "status", resp.StatusCode, "duration", duration)

	if resp.StatusCode >= StatusBadRequest {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		serverID := resp.Header.Get(headerRequestID)
		if serverID == "" {
			serverID = requestID
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    parseErrorMessage(resp.StatusCode, body),
			RequestID:  serverID,
			Operation:  op,
		}
	}

	return body, nil
}

// decodeFailed counts and logs a body the decoders rejected.
func (c *Client) decodeFailed(op, entity string, err error) error {
	c.metrics.IncrementDecodeFailures(entity)
	c.logger.WithError(err).Warn("response rejected by decoder", "operation", op, "entity", entity)
	return err
}

// ListScans fetches every scan.
func (c *Client) ListScans(ctx context.Context) ([]models.Scan, error) {
	body, err := c.request(ctx, OpListScans, http.MethodGet, "/scans/", nil, nil)
	if err != nil {
		return nil, err
	}
	scans, err := models.DecodeScanList(body)
	if err != nil {
		return nil, c.decodeFailed(OpListScans, models.EntityScanList, err)
	}
	return scans, nil
}

// GetScan fetches one scan with its results.
func (c *Client) GetScan(ctx context.Context, id int64) (*models.ScanDetail, error) {
	body, err := c.request(ctx, OpGetScan, http.MethodGet, scanPath(id), nil, nil)
	if err != nil {
		return nil, err
	}
	detail, err := models.DecodeScanDetail(body)
	if err != nil {
		return nil, c.decodeFailed(OpGetScan, models.EntityScanDetail, err)
	}
	return detail, nil
}

// CreateScan launches a scan for domain.
func (c *Client) CreateScan(ctx context.Context, domain string) (*models.Scan, error) {
	payload := map[string]string{"domain": domain}
	body, err := c.request(ctx, OpCreateScan, http.MethodPost, "/scans/", nil, payload)
	if err != nil {
		return nil, err
	}
	scan, err := models.DecodeScan(body)
	if err != nil {
		return nil, c.decodeFailed(OpCreateScan, models.EntityScan, err)
	}
	return scan, nil
}

// DeleteScan deletes a scan. The response body is ignored.
func (c *Client) DeleteScan(ctx context.Context, id int64) error {
	_, err := c.request(ctx, OpDeleteScan, http.MethodDelete, scanPath(id), nil, nil)
	return err
}

// GetStats fetches the aggregate statistics snapshot.
func (c *Client) GetStats(ctx context.Context) (*models.Stats, error) {
	body, err := c.request(ctx, OpGetStats, http.MethodGet, "/results/stats", nil, nil)
	if err != nil {
		return nil, err
	}
	stats, err := models.DecodeStats(body)
	if err != nil {
		return nil, c.decodeFailed(OpGetStats, models.EntityStats, err)
	}
	return stats, nil
}

// ResultQuery selects one page of results.
type ResultQuery struct {
	ScanID    *int64
	AliveOnly bool
	Skip      int
	Limit     int
}

// Values encodes the query the way the API expects it.
func (q ResultQuery) Values() url.Values {
	values := url.Values{}
	values.Set("skip", strconv.Itoa(q.Skip))
	values.Set("limit", strconv.Itoa(q.Limit))
	values.Set("alive_only", strconv.FormatBool(q.AliveOnly))
	if q.ScanID != nil {
		values.Set("scan_id", strconv.FormatInt(*q.ScanID, 10))
	}
	return values
}

// ListResults fetches one page of results.
func (c *Client) ListResults(ctx context.Context, q ResultQuery) (*models.ResultPage, error) {
	body, err := c.request(ctx, OpListResults, http.MethodGet, "/results/", q.Values(), nil)
	if err != nil {
		return nil, err
	}
	page, err := models.DecodeResultPage(body)
	if err != nil {
		return nil, c.decodeFailed(OpListResults, models.EntityResultPage, err)
	}
	return page, nil
}

// ExportResults fetches the full result set of a scan as the server
// serialized it. The body only has to be valid JSON.
func (c *Client) ExportResults(ctx context.Context, scanID int64) (json.RawMessage, error) {
	path := "/results/export/" + strconv.FormatInt(scanID, 10)
	body, err := c.request(ctx, OpExportResults, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		err := errors.ErrMalformed("export", fmt.Errorf("body is not valid JSON"))
		return nil, c.decodeFailed(OpExportResults, "export", err)
	}
	return json.RawMessage(body), nil
}

// ListSchedules fetches every scheduled scan.
func (c *Client) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	body, err := c.request(ctx, OpListSchedules, http.MethodGet, "/scans/scheduled/list", nil, nil)
	if err != nil {
		return nil, err
	}
	schedules, err := models.DecodeScheduleList(body)
	if err != nil {
		return nil, c.decodeFailed(OpListSchedules, models.EntitySchedules, err)
	}
	return schedules, nil
}

// CreateSchedule registers a recurring scan. cronExpression is sent as given.
func (c *Client) CreateSchedule(ctx context.Context, domain, cronExpression string) (*models.Schedule, error) {
	payload := map[string]string{
		"domain":          domain,
		"cron_expression": cronExpression,
	}
	body, err := c.request(ctx, OpCreateSchedule, http.MethodPost, "/scans/scheduled", nil, payload)
	if err != nil {
		return nil, err
	}
	schedule, err := models.DecodeSchedule(body)
	if err != nil {
		return nil, c.decodeFailed(OpCreateSchedule, models.EntitySchedule, err)
	}
	return schedule, nil
}

// ToggleSchedule flips is_active on the server and returns the new state.
func (c *Client) ToggleSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	body, err := c.request(ctx, OpToggleSchedule, http.MethodPatch, schedulePath(id)+"/toggle", nil, nil)
	if err != nil {
		return nil, err
	}
	schedule, err := models.DecodeSchedule(body)
	if err != nil {
		return nil, c.decodeFailed(OpToggleSchedule, models.EntitySchedule, err)
	}
	return schedule, nil
}

// DeleteSchedule deletes a scheduled scan. The response body is ignored.
func (c *Client) DeleteSchedule(ctx context.Context, id int64) error {
	_, err := c.request(ctx, OpDeleteSchedule, http.MethodDelete, schedulePath(id), nil, nil)
	return err
}

// Health checks API liveness.
func (c *Client) Health(ctx context.Context) (*models.Health, error) {
	body, err := c.request(ctx, OpHealth, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	health, err := models.DecodeHealth(body)
	if err != nil {
		return nil, c.decodeFailed(OpHealth, models.EntityHealth, err)
	}
	return health, nil
}

func scanPath(id int64) string {
	return "/scans/" + strconv.FormatInt(id, 10)
}

func schedulePath(id int64) string {
	return "/scans/scheduled/" + strconv.FormatInt(id, 10)
}
