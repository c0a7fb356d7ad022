package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-gateway/internal/cache"
	"github.com/kjstillabower/weather-gateway/internal/failure"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/service"
	"github.com/kjstillabower/weather-gateway/internal/traffic"
)

const londonCurrent = `{
	"name": "London",
	"sys": {"country": "GB", "sunrise": 1700000000, "sunset": 1700030000},
	"main": {"temp": 15.4, "feels_like": 14.1, "humidity": 80, "pressure": 1012},
	"weather": [{"main": "Clouds", "description": "overcast clouds"}],
	"wind": {"speed": 5.0},
	"visibility": 8000
}`

// mockWeatherClient returns fixed bodies or errors per endpoint.
type mockWeatherClient struct {
	current, forecast, search          string
	currentErr, forecastErr, searchErr error
	calls                              int
}

func (m *mockWeatherClient) FetchCurrent(ctx context.Context, city, countryCode string) (json.RawMessage, error) {
	m.calls++
	return json.RawMessage(m.current), m.currentErr
}

func (m *mockWeatherClient) FetchForecast(ctx context.Context, city, countryCode string) (json.RawMessage, error) {
	m.calls++
	return json.RawMessage(m.forecast), m.forecastErr
}

func (m *mockWeatherClient) SearchCities(ctx context.Context, query string, limit int) (json.RawMessage, error) {
	m.calls++
	return json.RawMessage(m.search), m.searchErr
}

type testEnv struct {
	router http.Handler
	logs   *observer.ObservedLogs
}

func newTestEnv(t *testing.T, c *mockWeatherClient, hc *HealthConfig) testEnv {
	t.Helper()
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	svc := service.NewWeatherService(c, cache.NewInMemoryStore(), service.Options{Location: time.UTC, Logger: logger})
	h := NewHandler(svc, hc, logger)
	return testEnv{
		router: NewRouter(h, logger, RouterOptions{RequestTimeout: time.Second}),
		logs:   logs,
	}
}

func (e testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Correlation-ID", "test-correlation-id")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandler_GetRoot(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, nil)

	w := env.get(t, "/")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Weather Dashboard API", body["message"])
	assert.Equal(t, "running", body["status"])
}

// TestHandler_GetCurrentWeather_Success verifies the normalized schema is served.
func TestHandler_GetCurrentWeather_Success(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{current: londonCurrent}, nil)

	w := env.get(t, "/weather/current?city=London&country_code=GB")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	assert.Equal(t, "London", raw["city"])
	assert.Equal(t, "GB", raw["country"])
	assert.Equal(t, float64(15), raw["temperature"])
	assert.Equal(t, float64(14), raw["feelsLike"])
	assert.Equal(t, "clouds", raw["condition"])
	assert.Equal(t, float64(18), raw["windSpeed"])
	assert.Equal(t, float64(8), raw["visibility"])
	assert.Equal(t, float64(1012), raw["pressure"])
	assert.Equal(t, float64(1700000000), raw["sunrise"])
	assert.Contains(t, raw, "timestamp")
}

func TestHandler_GetCurrentWeather_CachedSecondCall(t *testing.T) {
	c := &mockWeatherClient{current: londonCurrent}
	env := newTestEnv(t, c, nil)

	require.Equal(t, http.StatusOK, env.get(t, "/weather/current?city=London&country_code=GB").Code)
	require.Equal(t, http.StatusOK, env.get(t, "/weather/current?city=london&country_code=gb").Code)
	assert.Equal(t, 1, c.calls)
}

func TestHandler_GetCurrentWeather_InvalidParams(t *testing.T) {
	tests := []struct {
		name, target, wantMsg string
	}{
		{"missing city", "/weather/current", "city is required"},
		{"blank city", "/weather/current?city=%20%20", "city is required"},
		{"bad characters", "/weather/current?city=sea%2Fttle", "city contains invalid characters"},
		{"bad country", "/weather/current?city=London&country_code=G1", "country_code must contain only letters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &mockWeatherClient{}
			env := newTestEnv(t, c, nil)

			w := env.get(t, tc.target)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, CodeInvalidRequest, body.Error.Code)
			assert.Equal(t, tc.wantMsg, body.Error.Message)
			assert.Equal(t, "test-correlation-id", body.Error.RequestID)
			assert.Equal(t, 0, c.calls)
		})
	}
}

// TestHandler_WeatherErrorMapping verifies each failure kind maps to its status and code.
func TestHandler_WeatherErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       string
		wantStatus int
		wantCode   string
	}{
		{"city not found", failure.NotFound(404, `{"cod":"404","message":"city not found"}`), "", http.StatusNotFound, CodeCityNotFound},
		{"missing key", failure.Configuration("OpenWeather API key not configured"), "", http.StatusInternalServerError, CodeConfiguration},
		{"unavailable", failure.Unavailable(context.DeadlineExceeded), "", http.StatusInternalServerError, CodeUpstreamUnavailable},
		{"upstream http", failure.UpstreamHTTP(401, `{"message":"secret detail"}`), "", http.StatusInternalServerError, CodeUpstreamError},
		{"malformed", nil, `{"name":"London"}`, http.StatusInternalServerError, CodeMalformedUpstreamData},
		{"unknown", errors.New("boom"), "", http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range tests {
		for _, endpoint := range []string{"current", "forecast"} {
			t.Run(tc.name+"/"+endpoint, func(t *testing.T) {
				c := &mockWeatherClient{
					current: tc.body, currentErr: tc.err,
					forecast: tc.body, forecastErr: tc.err,
				}
				env := newTestEnv(t, c, nil)

				w := env.get(t, "/weather/"+endpoint+"?city=Atlantis")
				require.Equal(t, tc.wantStatus, w.Code)
				raw := w.Body.String()
				assert.NotContains(t, raw, "secret detail")

				var body errorBody
				require.NoError(t, json.Unmarshal([]byte(raw), &body))
				assert.Equal(t, tc.wantCode, body.Error.Code)
				assert.NotEmpty(t, body.Error.Message)
			})
		}
	}
}

func TestHandler_CityNotFoundMessage(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{currentErr: failure.NotFound(404, "")}, nil)

	w := env.get(t, "/weather/current?city=Atlantis")
	body := decodeError(t, w)
	assert.Equal(t, "City 'Atlantis' not found", body.Error.Message)
}

// TestHandler_MalformedDataLoggedAtError verifies data-integrity failures are logged with the field.
func TestHandler_MalformedDataLoggedAtError(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{current: `{"name":"London","sys":{"country":"GB"}}`}, nil)

	w := env.get(t, "/weather/current?city=London")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	entries := env.logs.FilterMessage("malformed upstream data").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "main.temp", entries[0].ContextMap()["field"])
	assert.Equal(t, "test-correlation-id", entries[0].ContextMap()["correlation_id"])
}

func TestHandler_GetForecast_Success(t *testing.T) {
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	var list []string
	for d := 0; d < 3; d++ {
		list = append(list, fmt.Sprintf(`{"dt":%d,"main":{"temp":%d},"weather":[{"main":"Clear","description":"clear sky"}]}`, base.AddDate(0, 0, d).Unix(), 10+d))
	}
	env := newTestEnv(t, &mockWeatherClient{forecast: `{"list":[` + strings.Join(list, ",") + `]}`}, nil)

	w := env.get(t, "/weather/forecast?city=London&country_code=GB")
	require.Equal(t, http.StatusOK, w.Code)

	var days []models.ForecastDay
	require.NoError(t, json.NewDecoder(w.Body).Decode(&days))
	require.Len(t, days, 3)
	assert.Equal(t, "2026-10-17", days[0].Date)
	assert.Equal(t, "Today", days[0].Day)
	assert.Equal(t, "Tomorrow", days[1].Day)
	assert.Equal(t, "Monday", days[2].Day)
	assert.Equal(t, 12, days[2].High)
	assert.Equal(t, "clear", days[2].Condition)
}

func TestHandler_GetForecast_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{forecast: `{"list":[]}`}, nil)

	w := env.get(t, "/weather/forecast?city=London")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

// TestHandler_SearchCities_LimitsResults covers eight upstream matches served as five.
func TestHandler_SearchCities_LimitsResults(t *testing.T) {
	var items []string
	for i := 0; i < 8; i++ {
		if i%2 == 0 {
			items = append(items, fmt.Sprintf(`{"name":"Springfield","country":"US","state":"State%d","lat":%d,"lon":-%d}`, i, 30+i, 80+i))
		} else {
			items = append(items, fmt.Sprintf(`{"name":"Springfield","country":"AU","lat":-%d,"lon":%d}`, 30+i, 150+i))
		}
	}
	env := newTestEnv(t, &mockWeatherClient{search: "[" + strings.Join(items, ",") + "]"}, nil)

	w := env.get(t, "/weather/search?query=Springfield&limit=5")
	require.Equal(t, http.StatusOK, w.Code)

	var raw []map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	require.Len(t, raw, 5)
	assert.Equal(t, "State0", raw[0]["state"])
	assert.Contains(t, raw[1], "state")
	assert.Nil(t, raw[1]["state"])
	assert.Equal(t, float64(31), -raw[1]["lat"].(float64))
}

func TestHandler_SearchCities_Empty(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{search: `[]`}, nil)

	w := env.get(t, "/weather/search?query=Zzyzx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestHandler_SearchCities_Failures(t *testing.T) {
	tests := []struct {
		name string
		c    *mockWeatherClient
	}{
		{"upstream 404", &mockWeatherClient{searchErr: failure.UpstreamHTTP(404, "")}},
		{"upstream 500", &mockWeatherClient{searchErr: failure.UpstreamHTTP(500, "")}},
		{"missing key", &mockWeatherClient{searchErr: failure.Configuration("OpenWeather API key not configured")}},
		{"timeout", &mockWeatherClient{searchErr: failure.Unavailable(context.DeadlineExceeded)}},
		{"malformed", &mockWeatherClient{search: `[{"name":"x"}]`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.c, nil)

			w := env.get(t, "/weather/search?query=Springfield")
			require.Equal(t, http.StatusInternalServerError, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, CodeSearchUnavailable, body.Error.Code)
			assert.Equal(t, "City search service unavailable", body.Error.Message)
		})
	}
}

func TestHandler_SearchCities_InvalidParams(t *testing.T) {
	for _, target := range []string{
		"/weather/search",
		"/weather/search?query=x&limit=0",
		"/weather/search?query=x&limit=11",
		"/weather/search?query=x&limit=abc",
	} {
		t.Run(target, func(t *testing.T) {
			c := &mockWeatherClient{}
			env := newTestEnv(t, c, nil)

			w := env.get(t, target)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidRequest, decodeError(t, w).Error.Code)
			assert.Equal(t, 0, c.calls)
		})
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, nil)

	w := env.get(t, "/weather/history")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, w).Error.Code)
}

func TestHandler_GetHealth_Healthy(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	hc := &HealthConfig{Version: "1.0.0", StartTime: time.Now().Add(-90 * time.Second), DegradedWindow: time.Minute, DegradedErrorPct: 50}
	env := newTestEnv(t, &mockWeatherClient{}, hc)

	w := env.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.GreaterOrEqual(t, body["uptime"].(float64), float64(90))
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
	assert.NotContains(t, body, "checks")
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)
	env := newTestEnv(t, &mockWeatherClient{}, nil)

	w := env.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "shutting-down", body["status"])
}

// TestHandler_GetHealth_DegradedOnErrorRate verifies upstream failures flip health to degraded
// and the transition is logged.
func TestHandler_GetHealth_DegradedOnErrorRate(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	hc := &HealthConfig{Version: "dev", StartTime: time.Now(), DegradedWindow: time.Minute, DegradedErrorPct: 50}
	env := newTestEnv(t, &mockWeatherClient{currentErr: failure.Unavailable(errors.New("down"))}, hc)

	require.Equal(t, http.StatusOK, env.get(t, "/health").Code)
	for i := 0; i < 3; i++ {
		env.get(t, "/weather/current?city=London")
	}

	w := env.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, 1, env.logs.FilterMessage("health status transition").Len())
}

func TestHandler_GetHealth_NotFoundDoesNotDegrade(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	hc := &HealthConfig{Version: "dev", StartTime: time.Now(), DegradedWindow: time.Minute, DegradedErrorPct: 50}
	env := newTestEnv(t, &mockWeatherClient{currentErr: failure.NotFound(404, "")}, hc)

	for i := 0; i < 3; i++ {
		env.get(t, "/weather/current?city=Atlantis")
	}

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(env.get(t, "/health").Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandler_GetHealth_CacheCheck(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	hc := &HealthConfig{Version: "dev", StartTime: time.Now(), CachePing: func() error { return errors.New("unreachable") }}
	env := newTestEnv(t, &mockWeatherClient{}, hc)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(env.get(t, "/health").Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "unhealthy", body.Checks["cache"])
}
