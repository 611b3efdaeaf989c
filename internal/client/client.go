// Package client calls a running model server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jamwatch: %d %s", e.Status, e.Message)
}

// Validation is the body of a successful validation call.
type Validation struct {
	Accuracy evaluate.Float `json:"accuracy"`
	Recall   evaluate.Float `json:"recall-rate"`
	F1       evaluate.Float `json:"f1 score"`
}

// Health is the body of the health endpoint.
type Health struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Samples int    `json:"samples"`
	// FailureRate is absent when the server does not report it.
	FailureRate *float64 `json:"failure_rate,omitempty"`
}

type Client struct {
	base    string
	rest    *resty.Client
	limiter *rate.Limiter
}

// New creates a client for the server at base. rps <= 0 disables rate limiting.
// Requests are never retried: a repeated validation would append twice.
func New(base string, timeout time.Duration, rps float64) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{base: base, rest: r, limiter: limiter}
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.rest.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()), nil
}

func check(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.String()
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

func (c *Client) post(ctx context.Context, path string, query map[string]string, body, result any) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetQueryParams(query).SetBody(body).Post(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if err := check(resp); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, result any) (int, error) {
	req, err := c.request(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := req.SetQueryParams(query).Get(c.base + path)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		if cerr := check(resp); cerr != nil {
			return resp.StatusCode(), cerr
		}
		return resp.StatusCode(), fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode(), nil
}

func encode(table *dataset.Table) ([]byte, error) {
	body, err := dataset.EncodeJSON(table)
	if err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}
	return body, nil
}

// LoadModel asks the server to load the model file at path.
func (c *Client) LoadModel(ctx context.Context, path string) error {
	return c.post(ctx, "/model/", nil, map[string]string{"model_path": path}, nil)
}

// Infer returns one probability per row; rows the model could not predict are nil.
func (c *Client) Infer(ctx context.Context, table *dataset.Table, threshold float64) ([]*float64, error) {
	body, err := encode(table)
	if err != nil {
		return nil, err
	}
	var probs []*float64
	q := map[string]string{"threshold": strconv.FormatFloat(threshold, 'f', -1, 64)}
	if err := c.post(ctx, "/model/inference/", q, body, &probs); err != nil {
		return nil, err
	}
	return probs, nil
}

// Validate sends a labelled table and returns its scores.
func (c *Client) Validate(ctx context.Context, table *dataset.Table, threshold float64) (Validation, error) {
	body, err := encode(table)
	if err != nil {
		return Validation{}, err
	}
	var v Validation
	q := map[string]string{"threshold": strconv.FormatFloat(threshold, 'f', -1, 64)}
	if err := c.post(ctx, "/model/validation/", q, body, &v); err != nil {
		return Validation{}, err
	}
	return v, nil
}

// Learn sends labelled rows to an incremental model.
func (c *Client) Learn(ctx context.Context, table *dataset.Table) (int, error) {
	body, err := encode(table)
	if err != nil {
		return 0, err
	}
	var out struct {
		Learned int `json:"learned"`
	}
	if err := c.post(ctx, "/model/learning/", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Learned, nil
}

// Health returns the server state. An unloaded server answers 503, which
// is reported in Health rather than as an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	code, err := c.get(ctx, "/health", nil, &h)
	if err != nil {
		return Health{}, err
	}
	if code != http.StatusOK && code != http.StatusServiceUnavailable {
		return Health{}, &APIError{Status: code, Message: h.Status}
	}
	return h, nil
}

// History returns the samples recorded after iteration since.
func (c *Client) History(ctx context.Context, since int) ([]evaluate.Sample, error) {
	var samples []evaluate.Sample
	code, err := c.get(ctx, "/history", map[string]string{"since": strconv.Itoa(since)}, &samples)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &APIError{Status: code}
	}
	return samples, nil
}
