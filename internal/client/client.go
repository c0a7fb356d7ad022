package client

import (
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

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjstillabower/weather-gateway/internal/failure"
	"github.com/kjstillabower/weather-gateway/internal/observability"
)

// WeatherClient fetches raw provider payloads. Parsing is left to the transform package.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, city, countryCode string) (json.RawMessage, error)
	FetchForecast(ctx context.Context, city, countryCode string) (json.RawMessage, error)
	SearchCities(ctx context.Context, query string, limit int) (json.RawMessage, error)
}

const (
	EndpointCurrent  = "current"
	EndpointForecast = "forecast"
	EndpointSearch   = "search"
)

const (
	maxBodyBytes      = 1 << 20
	maxErrorBodyBytes = 512
)

var tracer = otel.Tracer("github.com/kjstillabower/weather-gateway/internal/client")

var errServerStatus = errors.New("upstream server error")

// OpenWeatherClient talks to the OpenWeatherMap current, forecast and geocoding endpoints.
// It never retries; each call is bounded by timeout.
type OpenWeatherClient struct {
	apiKey     string
	weatherURL string // base, e.g. https://api.openweathermap.org/data/2.5
	geoURL     string // full geocoding endpoint
	timeout    time.Duration
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient builds a client. An empty apiKey is accepted here; every call then fails
// with a configuration error before touching the network.
func NewOpenWeatherClient(apiKey, weatherURL, geoURL string, timeout time.Duration) *OpenWeatherClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OpenWeatherClient{
		apiKey:     strings.TrimSpace(apiKey),
		weatherURL: strings.TrimRight(weatherURL, "/"),
		geoURL:     geoURL,
		timeout:    timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetCircuitBreaker installs an optional breaker. Only transport failures and 5xx responses count
// against it; while open, calls fail fast as upstream unavailable.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// HasAPIKey reports whether a credential is configured.
func (c *OpenWeatherClient) HasAPIKey() bool {
	return c.apiKey != ""
}

func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, city, countryCode string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", cityQuery(city, countryCode))
	params.Set("units", "metric")
	return c.get(ctx, EndpointCurrent, c.weatherURL+"/weather", params)
}

func (c *OpenWeatherClient) FetchForecast(ctx context.Context, city, countryCode string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", cityQuery(city, countryCode))
	params.Set("units", "metric")
	return c.get(ctx, EndpointForecast, c.weatherURL+"/forecast", params)
}

func (c *OpenWeatherClient) SearchCities(ctx context.Context, query string, limit int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	return c.get(ctx, EndpointSearch, c.geoURL, params)
}

// cityQuery formats the provider's q parameter: "city,CC" or just "city".
func cityQuery(city, countryCode string) string {
	if countryCode != "" {
		return city + "," + countryCode
	}
	return city
}

// upstreamResponse is a fully read provider response.
type upstreamResponse struct {
	status int
	body   []byte
}

func (c *OpenWeatherClient) get(ctx context.Context, endpoint, rawURL string, params url.Values) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, failure.Configuration("OpenWeather API key not configured")
	}

	ctx, span := tracer.Start(ctx, "openweather."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, rawURL, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		err = failure.Configuration(err.Error())
		recordSpanError(span, err)
		return nil, err
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)
		err = failure.Unavailable(err)
		recordSpanError(span, err)
		return nil, err
	}

	status := statusLabel(resp.status)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))

	if err := classifyStatus(endpoint, resp); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return json.RawMessage(resp.body), nil
}

// do executes req, through the breaker when one is installed.
func (c *OpenWeatherClient) do(req *http.Request) (upstreamResponse, error) {
	var out upstreamResponse
	call := func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		out = upstreamResponse{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 {
			return nil, errServerStatus
		}
		return nil, nil
	}

	if c.breaker == nil {
		_, err := call()
		if errors.Is(err, errServerStatus) {
			return out, nil
		}
		return out, err
	}

	_, err := c.breaker.Execute(call)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errServerStatus):
		return out, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return upstreamResponse{}, fmt.Errorf("circuit breaker: %w", err)
	default:
		return upstreamResponse{}, err
	}
}

// classifyStatus maps a non-2xx response to a failure. A 404 from the current or forecast
// endpoint means the provider could not resolve the city.
func classifyStatus(endpoint string, resp upstreamResponse) error {
	if resp.status >= 200 && resp.status < 300 {
		return nil
	}
	body := truncate(string(resp.body), maxErrorBodyBytes)
	if resp.status == http.StatusNotFound && endpoint != EndpointSearch {
		return failure.NotFound(resp.status, body)
	}
	return failure.UpstreamHTTP(resp.status, body)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, rawURL string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("appid", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, failure.KindOf(err).String())
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 404 {
		return "not_found"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
