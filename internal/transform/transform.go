// Package transform converts OpenWeatherMap payloads into the gateway's response models.
//
// The functions here do no I/O and hold no state. Each one validates the fields it needs and fails
// with a failure.KindMalformedUpstreamData error naming the first missing or mistyped field.
package transform

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/failure"
	"github.com/kjstillabower/weather-gateway/internal/models"
)

// DefaultVisibilityMeters is assumed when the provider omits visibility.
const DefaultVisibilityMeters = 10000

// dateLayout is the calendar-date format used for forecast buckets.
const dateLayout = "2006-01-02"

type conditionPayload struct {
	Main        *string `json:"main"`
	Description *string `json:"description"`
}

type currentPayload struct {
	Name *string `json:"name"`
	Sys  struct {
		Country *string `json:"country"`
		Sunrise *int64  `json:"sunrise"`
		Sunset  *int64  `json:"sunset"`
	} `json:"sys"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
		Pressure  *float64 `json:"pressure"`
	} `json:"main"`
	Weather []conditionPayload `json:"weather"`
	Wind    struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Visibility *float64 `json:"visibility"`
}

type samplePayload struct {
	Dt   *int64 `json:"dt"`
	Main struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Weather []conditionPayload `json:"weather"`
}

type forecastPayload struct {
	List *[]json.RawMessage `json:"list"`
}

type cityPayload struct {
	Name    *string  `json:"name"`
	Country *string  `json:"country"`
	State   *string  `json:"state"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// required pairs a dotted field path with whether the field was present.
type required struct {
	field   string
	present bool
}

func firstMissing(fields ...required) error {
	for _, f := range fields {
		if !f.present {
			return failure.Malformed(f.field)
		}
	}
	return nil
}

// ParseCurrent maps a current-weather response. now is recorded as the generation timestamp.
func ParseCurrent(raw json.RawMessage, now time.Time) (models.CurrentWeather, error) {
	var p currentPayload
	if err := decode(raw, &p); err != nil {
		return models.CurrentWeather{}, err
	}

	var cond conditionPayload
	if len(p.Weather) > 0 {
		cond = p.Weather[0]
	}
	if err := firstMissing(
		required{"name", p.Name != nil},
		required{"sys.country", p.Sys.Country != nil},
		required{"main.temp", p.Main.Temp != nil},
		required{"main.feels_like", p.Main.FeelsLike != nil},
		required{"main.humidity", p.Main.Humidity != nil},
		required{"main.pressure", p.Main.Pressure != nil},
		required{"weather[0]", len(p.Weather) > 0},
		required{"weather[0].main", cond.Main != nil},
		required{"weather[0].description", cond.Description != nil},
		required{"wind.speed", p.Wind.Speed != nil},
		required{"sys.sunrise", p.Sys.Sunrise != nil},
		required{"sys.sunset", p.Sys.Sunset != nil},
	); err != nil {
		return models.CurrentWeather{}, err
	}

	visibility := float64(DefaultVisibilityMeters)
	if p.Visibility != nil {
		visibility = *p.Visibility
	}
	pressure := Round(*p.Main.Pressure)
	sunrise, sunset := *p.Sys.Sunrise, *p.Sys.Sunset

	return models.CurrentWeather{
		City:        *p.Name,
		Country:     *p.Sys.Country,
		Temperature: Round(*p.Main.Temp),
		FeelsLike:   Round(*p.Main.FeelsLike),
		Condition:   strings.ToLower(*cond.Main),
		Description: *cond.Description,
		Humidity:    Round(*p.Main.Humidity),
		WindSpeed:   Round(*p.Wind.Speed * 3.6),
		Visibility:  Round(visibility / 1000),
		Pressure:    &pressure,
		Sunrise:     &sunrise,
		Sunset:      &sunset,
		Timestamp:   now.Format(time.RFC3339),
	}, nil
}

// ParseSample maps one entry of a forecast "list". The sample date is the calendar date of its
// dt timestamp in loc (time.Local when nil).
func ParseSample(raw json.RawMessage, loc *time.Location) (models.RawSample, error) {
	var p samplePayload
	if err := decode(raw, &p); err != nil {
		return models.RawSample{}, err
	}

	var cond conditionPayload
	if len(p.Weather) > 0 {
		cond = p.Weather[0]
	}
	if err := firstMissing(
		required{"dt", p.Dt != nil},
		required{"main.temp", p.Main.Temp != nil},
		required{"weather[0]", len(p.Weather) > 0},
		required{"weather[0].main", cond.Main != nil},
		required{"weather[0].description", cond.Description != nil},
	); err != nil {
		return models.RawSample{}, err
	}

	if loc == nil {
		loc = time.Local
	}
	return models.RawSample{
		Date:        time.Unix(*p.Dt, 0).In(loc).Format(dateLayout),
		Temp:        *p.Main.Temp,
		Condition:   strings.ToLower(*cond.Main),
		Description: *cond.Description,
	}, nil
}

// ParseForecast splits a forecast response into samples, in upstream order.
func ParseForecast(raw json.RawMessage, loc *time.Location) ([]models.RawSample, error) {
	var p forecastPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.List == nil {
		return nil, failure.Malformed("list")
	}

	samples := make([]models.RawSample, 0, len(*p.List))
	for i, item := range *p.List {
		s, err := ParseSample(item, loc)
		if err != nil {
			return nil, prefixField("list["+strconv.Itoa(i)+"]", err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// ParseCityResult maps one geocoding match. State is nil when the provider omits it.
func ParseCityResult(raw json.RawMessage) (models.CitySearchResult, error) {
	var p cityPayload
	if err := decode(raw, &p); err != nil {
		return models.CitySearchResult{}, err
	}
	if err := firstMissing(
		required{"name", p.Name != nil},
		required{"country", p.Country != nil},
		required{"lat", p.Lat != nil},
		required{"lon", p.Lon != nil},
	); err != nil {
		return models.CitySearchResult{}, err
	}

	return models.CitySearchResult{
		Name:    *p.Name,
		Country: *p.Country,
		State:   p.State,
		Lat:     *p.Lat,
		Lon:     *p.Lon,
	}, nil
}

// ParseCitySearch maps a geocoding response array, preserving upstream order.
func ParseCitySearch(raw json.RawMessage) ([]models.CitySearchResult, error) {
	var items []json.RawMessage
	if err := decode(raw, &items); err != nil {
		return nil, err
	}

	results := make([]models.CitySearchResult, 0, len(items))
	for i, item := range items {
		r, err := ParseCityResult(item)
		if err != nil {
			return nil, prefixField("["+strconv.Itoa(i)+"]", err)
		}
		results = append(results, r)
	}
	return results, nil
}

// Round converts a provider float to the integer units served to clients, rounding half to even.
func Round(v float64) int {
	return int(math.RoundToEven(v))
}

// decode unmarshals raw into v, reporting type mismatches by field path and anything
// unparseable as field "body".
func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return failure.Malformed(typeErr.Field)
		}
		return failure.Malformed("body")
	}
	return nil
}

// prefixField rewrites a malformed-data error from an element decoder so its field path is
// relative to the enclosing document.
func prefixField(prefix string, err error) error {
	fe, ok := failure.As(err)
	if !ok || fe.Kind != failure.KindMalformedUpstreamData {
		return err
	}
	if fe.Field == "body" {
		return failure.Malformed(prefix)
	}
	if strings.HasPrefix(fe.Field, "[") {
		return failure.Malformed(prefix + fe.Field)
	}
	return failure.Malformed(prefix + "." + fe.Field)
}
