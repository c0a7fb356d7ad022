package models

// CurrentWeather is the normalized current-conditions payload served by /weather/current.
type CurrentWeather struct {
	City        string `json:"city"`
	Country     string `json:"country"`
	Temperature int    `json:"temperature"`
	FeelsLike   int    `json:"feelsLike"`
	Condition   string `json:"condition"`
	Description string `json:"description"`
	Humidity    int    `json:"humidity"`
	WindSpeed   int    `json:"windSpeed"`  // km/h
	Visibility  int    `json:"visibility"` // km
	Pressure    *int   `json:"pressure"`
	Sunrise     *int64 `json:"sunrise"`
	Sunset      *int64 `json:"sunset"`
	Timestamp   string `json:"timestamp"` // generation time, RFC 3339
}

// ForecastDay summarizes all forecast samples that fall on one calendar date.
type ForecastDay struct {
	Date        string `json:"date"` // YYYY-MM-DD
	Day         string `json:"day"`
	High        int    `json:"high"`
	Low         int    `json:"low"`
	Condition   string `json:"condition"`
	Description string `json:"description"`
}

// CitySearchResult is one geocoding match.
type CitySearchResult struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   *string `json:"state"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// RawSample is a single 3-hour forecast entry reduced to what the aggregator needs.
type RawSample struct {
	Date        string
	Temp        float64
	Condition   string
	Description string
}
