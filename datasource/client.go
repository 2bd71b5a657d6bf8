package datasource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/andydixon/promsource/datasource")

const requestIDHeader = "X-Request-Id"

const (
	epQuery       = "/api/v1/query"
	epQueryRange  = "/api/v1/query_range"
	epLabels      = "/api/v1/labels"
	epLabelValues = "/api/v1/label/%s/values" // label name spliced in
	epSeries      = "/api/v1/series"
	epRules       = "/api/v1/rules"
)

// Client talks to one Prometheus-compatible upstream. It owns nothing but the
// connection: window shaping and result transformation happen in the caller.
type Client struct {
	baseURL string
	method  string
	hc      *http.Client
	headers http.Header
	custom  url.Values
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client for baseURL. method selects GET or POST for the
// endpoints that allow both; custom carries datasource-level query parameters
// appended to every request (explicit query parameters win on conflict).
func NewClient(baseURL, method string, timeout time.Duration, headers http.Header, custom url.Values) *Client {
	if method != http.MethodPost {
		method = http.MethodGet
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		method:  method,
		hc:      &http.Client{Timeout: timeout},
		headers: headers,
		custom:  custom,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "prometheus-upstream",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// fetchResult is what makes it out of the circuit breaker: a completed HTTP
// exchange. Transport failures and 5xx trip the breaker; a 4xx is the user's
// problem, not the upstream's health, so it comes back as a result.
type fetchResult struct {
	status   int
	envelope apiResponse
}

func (c *Client) do(req *http.Request, reqID string) (*fetchResult, error) {
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	out := &fetchResult{status: res.StatusCode}
	if err := json.Unmarshal(body, &out.envelope); err != nil && res.StatusCode == http.StatusOK {
		return nil, errors.Wrap(err, "decode response envelope")
	}
	if res.StatusCode >= 500 {
		msg := out.envelope.Error
		if msg == "" {
			msg = statusMessage(res.StatusCode)
		}
		return nil, &QueryError{Status: res.StatusCode, Message: msg, RequestID: reqID}
	}
	return out, nil
}

// fetch performs one request against endpoint and hands back the decoded
// envelope. Every failure mode comes out as either a QueryError or a
// context cancellation.
func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	ctx, span := tracer.Start(ctx, "prometheus"+endpoint,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	reqID := uuid.NewString()
	span.SetAttributes(attribute.String("prom.request_id", reqID))

	merged := mergeParams(params, c.custom)

	var req *http.Request
	var err error
	if c.method == http.MethodPost && postable(endpoint) {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
			strings.NewReader(merged.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+endpoint+"?"+merged.Encode(), nil)
	}
	if err != nil {
		return nil, normalizeError(err, 0, "", reqID)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(requestIDHeader, reqID)

	started := time.Now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(req, reqID)
	})
	upstreamDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	if err != nil {
		if !isCancellation(err) {
			upstreamErrors.WithLabelValues(endpoint).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &QueryError{Message: "Prometheus upstream failing, backing off", RequestID: reqID}
		}
		return nil, normalizeError(err, 0, "", reqID)
	}

	result := raw.(*fetchResult)
	if result.status != http.StatusOK || result.envelope.Status == "error" {
		upstreamErrors.WithLabelValues(endpoint).Inc()
		msg := result.envelope.Error
		if msg == "" {
			msg = statusMessage(result.status)
		}
		span.SetStatus(codes.Error, msg)
		return nil, &QueryError{Status: result.status, Message: msg, RequestID: reqID}
	}
	return &result.envelope, nil
}

// ─── ENDPOINT OPERATIONS ──────────────────────────────────────────────────────

// QueryRange runs a range query. start, end are epoch seconds already aligned
// by the caller and may sit on a fractional grid; step is in seconds.
func (c *Client) QueryRange(ctx context.Context, expr string, start, end float64, stepSeconds float64, timeout string) (*QueryResult, error) {
	p := url.Values{}
	p.Set("query", expr)
	p.Set("start", strconv.FormatFloat(start, 'f', -1, 64))
	p.Set("end", strconv.FormatFloat(end, 'f', -1, 64))
	p.Set("step", formatStep(stepSeconds))
	if timeout != "" {
		p.Set("timeout", timeout)
	}
	env, err := c.fetch(ctx, epQueryRange, p)
	if err != nil {
		return nil, err
	}
	return decodeQueryResult(env.Data, env.Warnings)
}

// Query runs an instant query at ts (epoch seconds).
func (c *Client) Query(ctx context.Context, expr string, ts int64, timeout string) (*QueryResult, error) {
	p := url.Values{}
	p.Set("query", expr)
	p.Set("time", strconv.FormatInt(ts, 10))
	if timeout != "" {
		p.Set("timeout", timeout)
	}
	env, err := c.fetch(ctx, epQuery, p)
	if err != nil {
		return nil, err
	}
	return decodeQueryResult(env.Data, env.Warnings)
}

// Labels lists label names, optionally restricted by series matchers and a
// time window (zero start/end means unbounded).
func (c *Client) Labels(ctx context.Context, matches []string, start, end int64) ([]string, error) {
	env, err := c.fetch(ctx, epLabels, matchParams(matches, start, end))
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(env.Data, &names); err != nil {
		return nil, errors.Wrap(err, "decode label names")
	}
	return names, nil
}

// LabelValues lists the values of one label.
func (c *Client) LabelValues(ctx context.Context, label string, matches []string, start, end int64) ([]string, error) {
	endpoint := strings.Replace(epLabelValues, "%s", url.PathEscape(label), 1)
	env, err := c.fetch(ctx, endpoint, matchParams(matches, start, end))
	if err != nil {
		return nil, err
	}
	var values []string
	if err := json.Unmarshal(env.Data, &values); err != nil {
		return nil, errors.Wrap(err, "decode label values")
	}
	return values, nil
}

// MetricNames lists every metric name the upstream knows about.
func (c *Client) MetricNames(ctx context.Context) ([]string, error) {
	return c.LabelValues(ctx, model.MetricNameLabel, nil, 0, 0)
}

// Series lists the label sets matching the given selectors.
func (c *Client) Series(ctx context.Context, matches []string, start, end int64) ([]model.LabelSet, error) {
	env, err := c.fetch(ctx, epSeries, matchParams(matches, start, end))
	if err != nil {
		return nil, err
	}
	var sets []model.LabelSet
	if err := json.Unmarshal(env.Data, &sets); err != nil {
		return nil, errors.Wrap(err, "decode series")
	}
	return sets, nil
}

// Rules fetches recording and alerting rules.
func (c *Client) Rules(ctx context.Context) (*RuleDiscovery, error) {
	env, err := c.fetch(ctx, epRules, url.Values{})
	if err != nil {
		return nil, err
	}
	var rd RuleDiscovery
	if err := json.Unmarshal(env.Data, &rd); err != nil {
		return nil, errors.Wrap(err, "decode rules")
	}
	return &rd, nil
}

// ─── PARAM HELPERS ────────────────────────────────────────────────────────────

func matchParams(matches []string, start, end int64) url.Values {
	p := url.Values{}
	for _, m := range matches {
		p.Add("match[]", m)
	}
	if start != 0 {
		p.Set("start", strconv.FormatInt(start, 10))
	}
	if end != 0 {
		p.Set("end", strconv.FormatInt(end, 10))
	}
	return p
}

// mergeParams overlays datasource-level custom parameters under the explicit
// ones; an explicit parameter always wins.
func mergeParams(explicit, custom url.Values) url.Values {
	if len(custom) == 0 {
		return explicit
	}
	merged := url.Values{}
	for k, vs := range custom {
		merged[k] = append([]string(nil), vs...)
	}
	for k, vs := range explicit {
		merged[k] = append([]string(nil), vs...)
	}
	return merged
}

// postable reports whether the Prometheus API accepts POST for endpoint.
// Label values and rules are GET-only.
func postable(endpoint string) bool {
	switch endpoint {
	case epQuery, epQueryRange, epLabels, epSeries:
		return true
	}
	return false
}
