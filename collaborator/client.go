/*
Package collaborator is the HTTP client for the congregation records
service.

PURPOSE:
  Every network operation the reporting core performs goes through this
  client: roster reads, per-publisher monthly report lookups, batch
  writes, report document generation, and the reporting anchor. The
  rest of the module never touches net/http directly.

PROTOCOL:
  JSON endpoints share one envelope:

    {"success": bool, "data": ..., "error": "..."}

  Binary endpoints (report documents) return raw bytes with a
  Content-Disposition filename on success, and an HTTP error status
  with a JSON {"error": ...} body on failure. A failed generation is
  therefore always an *APIError here, never garbage document bytes.

ERROR MAPPING:
  - Absent monthly report          -> ErrReportNotFound (not a failure)
  - Service-reported failure       -> *APIError (message verbatim)
  - Transport failure              -> *TransientError

SEE ALSO:
  - collaborator/stub: in-process implementation for dev and tests
  - reconcile: consumes Roster/MonthlyReport/SubmitBatch
  - reports: consumes Binary/ReferencePeriod
*/
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// Client talks to the records service. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the records service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`

	// Batch endpoints report counts alongside the envelope.
	SuccessCount *int `json:"successCount,omitempty"`
	ErrorCount   *int `json:"errorCount,omitempty"`
}

// Roster returns the full publisher roster.
func (c *Client) Roster(ctx context.Context) ([]roster.Publisher, error) {
	var wire []publisherWire
	if _, err := c.doJSON(ctx, http.MethodGet, "/publicador/all", nil, &wire); err != nil {
		return nil, err
	}
	publishers := make([]roster.Publisher, len(wire))
	for i, w := range wire {
		publishers[i] = w.toDomain()
	}
	return publishers, nil
}

// MonthlyReport returns the report filed by one publisher for one
// month, or ErrReportNotFound when none exists.
func (c *Client) MonthlyReport(ctx context.Context, id roster.PublisherID, month serviceyear.Month) (*MonthlyReport, error) {
	path := fmt.Sprintf("/informe/%s/%d", month, id)
	var wire reportWire
	env, err := c.doJSON(ctx, http.MethodGet, path, nil, &wire)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, ErrReportNotFound
	}
	report, err := wire.toDomain()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return &report, nil
}

// SubmitBatch writes a whole working set in one operation. The call is
// all-or-nothing from the caller's perspective: any reported row error
// fails the batch.
func (c *Client) SubmitBatch(ctx context.Context, rows []ReportSubmission) (BatchResult, error) {
	env, err := c.doJSON(ctx, http.MethodPost, "/informe/batch", rows, nil)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{SuccessCount: len(rows)}
	if env.SuccessCount != nil {
		result.SuccessCount = *env.SuccessCount
	}
	if env.ErrorCount != nil {
		result.ErrorCount = *env.ErrorCount
	}
	return result, nil
}

// ReferencePeriod returns the anchor date the service uses as the
// current reporting month.
func (c *Client) ReferencePeriod(ctx context.Context) (time.Time, error) {
	var raw string
	if _, err := c.doJSON(ctx, http.MethodGet, "/secretario/mes-informe", nil, &raw); err != nil {
		return time.Time{}, err
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable reference period %q", ErrBadEnvelope, raw)
}

// PublisherTypes returns the reference list of publisher-type labels.
func (c *Client) PublisherTypes(ctx context.Context) ([]TypeDescription, error) {
	var types []TypeDescription
	if _, err := c.doJSON(ctx, http.MethodGet, "/secretario/tipos-publicador", nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// Binary requests a generated document. On a non-2xx status the JSON
// error body is decoded into an *APIError; the body is never handed
// back as document bytes.
func (c *Client) Binary(ctx context.Context, method, path string, body any) (*BinaryResponse, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: method + " " + path, Err: err}
	}

	out := &BinaryResponse{
		Bytes:       data,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    dispositionFilename(resp.Header.Get("Content-Disposition")),
	}
	c.log.Debug("document received",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.String("filename", out.Filename))
	return out, nil
}

// doJSON performs a request and decodes the envelope, unmarshalling
// env.data into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (*envelope, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Error}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
		}
	}
	return &env, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Propagate cancellation as-is so callers can tell an aborted
		// batch from a flaky lookup.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

// decodeError extracts the human-readable error from a failed binary
// endpoint response.
func (c *Client) decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode}
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

// dispositionFilename pulls the filename out of a Content-Disposition
// header, returning "" when absent or unparseable.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
