package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

var (
	ErrEndpointsExhausted = errors.New("all subgraph endpoints have reached their rate limit")
	ErrRateLimited        = errors.New("subgraph endpoint rate limited")
	ErrNoEndpoints        = errors.New("no subgraph endpoints configured")
)

const (
	outcomeOK          = "ok"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"
)

// GraphQLError is returned when the subgraph answers with an errors array.
type GraphQLError struct {
	Endpoint string
	Messages []string
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("graphql error from %s: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

// RateLimitError wraps the response of an endpoint that answered 429.
type RateLimitError struct {
	Endpoint string
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit reached on endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// QueryResponse is the data object of a successful GraphQL response.
// Endpoint is the redacted label of the endpoint that served it.
type QueryResponse struct {
	Data     gjson.Result
	Endpoint string
}

// Querier runs one GraphQL document.
type Querier interface {
	Execute(ctx context.Context, query string) (QueryResponse, error)
}

type graphQLRequest struct {
	Query string `json:"query"`
}

// FailoverClient sends queries to one eligible subgraph endpoint at a time,
// rotating across endpoints and skipping those that rate-limited us.
type FailoverClient struct {
	endpoints      []string
	labels         map[string]string
	registry       *EndpointRegistry
	httpClient     *http.Client
	recordRequests string
	logger         Logger
	metrics        *Metrics
}

type ClientOption func(*FailoverClient)

func ClientWithHTTPClient(c *http.Client) ClientOption {
	return func(f *FailoverClient) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// ClientWithRecordRequests records every exchange below dir (see requests.Record).
func ClientWithRecordRequests(dir string) ClientOption {
	return func(f *FailoverClient) {
		f.recordRequests = dir
	}
}

func ClientWithLogger(l Logger) ClientOption {
	return func(f *FailoverClient) {
		f.logger = l
	}
}

func ClientWithMetrics(m *Metrics) ClientOption {
	return func(f *FailoverClient) {
		f.metrics = m
	}
}

func NewFailoverClient(endpoints []string, registry *EndpointRegistry, opts ...ClientOption) (*FailoverClient, error) {
	var cleaned []string
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoEndpoints
	}
	if registry == nil {
		registry = NewEndpointRegistry()
	}
	c := &FailoverClient{
		endpoints:  cleaned,
		labels:     endpointLabels(cleaned),
		registry:   registry,
		httpClient: &http.Client{Timeout: HTTPRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = loggerOrDefault(c.logger)
	return c, nil
}

// EndpointLabel is the form of endpoint used in logs, metrics, errors and reports.
func (c *FailoverClient) EndpointLabel(endpoint string) string {
	if label, ok := c.labels[endpoint]; ok {
		return label
	}
	return redactEndpoint(endpoint)
}

// Registry returns the health registry shared by this client.
func (c *FailoverClient) Registry() *EndpointRegistry {
	return c.registry
}

// subgraphAPIBuilder returns a new requests.Builder for one endpoint.
func (c *FailoverClient) subgraphAPIBuilder(endpoint string) *requests.Builder {
	result := requests.
		URL(endpoint).
		Client(c.httpClient)
	if c.recordRequests != "" {
		result = result.Transport(requests.Record(c.httpClient.Transport, c.recordRequests))
	}
	return result
}

// Execute runs query against the next eligible endpoint. Only a rate-limit
// response moves on to another endpoint; every other failure is returned as is.
func (c *FailoverClient) Execute(ctx context.Context, query string) (QueryResponse, error) {
	now := c.registry.Now()
	eligible := c.registry.EligibleEndpoints(c.endpoints, now)
	if len(eligible) == 0 {
		c.logger.Printf("[subgraph] %v, please try again later", ErrEndpointsExhausted)
		return QueryResponse{}, ErrEndpointsExhausted
	}
	var lastErr error
	for i := 0; i < len(eligible); i++ {
		endpoint := c.registry.next(eligible)
		label := c.EndpointLabel(endpoint)
		data, err := c.post(ctx, endpoint, query)
		if err == nil {
			c.metrics.observeRequest(label, outcomeOK)
			return QueryResponse{Data: data, Endpoint: label}, nil
		}
		err = c.redactError(endpoint, err)
		if requests.HasStatusErr(err, http.StatusTooManyRequests) {
			until := c.registry.MarkRateLimited(endpoint, now)
			c.metrics.observeRequest(label, outcomeRateLimited)
			c.logger.Printf("[subgraph] rate limit reached on endpoint %s, blacklisting until %s, trying next endpoint",
				label, until.UTC().Format("2006-01-02T15:04:05Z"))
			lastErr = &RateLimitError{Endpoint: label, Err: err}
			continue
		}
		c.metrics.observeRequest(label, outcomeError)
		return QueryResponse{}, fmt.Errorf("query %s: %w", label, err)
	}
	return QueryResponse{}, lastErr
}

func (c *FailoverClient) post(ctx context.Context, endpoint string, query string) (gjson.Result, error) {
	var body string
	err := c.subgraphAPIBuilder(endpoint).
		Post().
		BodyJSON(graphQLRequest{Query: query}).
		Accept("application/json").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.Valid(body) {
		return gjson.Result{}, errors.New("invalid json response")
	}
	response := gjson.Parse(body)
	if errs := response.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		var messages []string
		for _, e := range errs.Array() {
			messages = append(messages, e.Get("message").String())
		}
		return gjson.Result{}, &GraphQLError{Endpoint: c.EndpointLabel(endpoint), Messages: messages}
	}
	data := response.Get("data")
	if !data.IsObject() {
		return gjson.Result{}, errors.New("response has no data object")
	}
	return data, nil
}

const redactedSegment = "***"

// redactEndpoint drops user info, query and fragment, and masks path segments
// that carry an API key (the gateway form /api/<key>/subgraphs/...).
func redactEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "invalid-endpoint"
	}
	segments := strings.Split(u.Path, "/")
	for i, segment := range segments {
		if i > 0 && segments[i-1] == "api" && !apiPathWords[segment] {
			segments[i] = redactedSegment
		} else if isHexKey(segment) {
			segments[i] = redactedSegment
		}
	}
	return u.Scheme + "://" + u.Host + strings.Join(segments, "/")
}

var apiPathWords = map[string]bool{"": true, "subgraphs": true, "deployments": true, "query": true}

func isHexKey(s string) bool {
	if len(s) < 32 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// endpointLabels maps each endpoint to its redacted form, numbering labels
// that would otherwise collide.
func endpointLabels(endpoints []string) map[string]string {
	labels := make(map[string]string, len(endpoints))
	taken := make(map[string]bool, len(endpoints))
	for i, endpoint := range endpoints {
		label := redactEndpoint(endpoint)
		if taken[label] {
			label = fmt.Sprintf("%s#%d", label, i+1)
		}
		taken[label] = true
		labels[endpoint] = label
	}
	return labels
}

// redactedError replaces the raw endpoint in transport error messages.
type redactedError struct {
	err   error
	raw   []string
	label string
}

func (e *redactedError) Error() string {
	msg := e.err.Error()
	for _, raw := range e.raw {
		msg = strings.ReplaceAll(msg, raw, e.label)
	}
	return msg
}

func (e *redactedError) Unwrap() error {
	return e.err
}

func (c *FailoverClient) redactError(endpoint string, err error) error {
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		return err
	}
	raw := []string{endpoint}
	if u, perr := url.Parse(endpoint); perr == nil {
		raw = append(raw, u.Redacted(), u.String())
	}
	return &redactedError{err: err, raw: raw, label: c.EndpointLabel(endpoint)}
}
