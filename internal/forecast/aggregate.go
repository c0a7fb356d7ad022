// Package forecast reduces 3-hour forecast samples to per-day summaries.
package forecast

import (
	"math"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/transform"
)

// MaxDays caps the number of summarized days.
const MaxDays = 5

// fixedLabels name the first result days; later days use their weekday name.
var fixedLabels = []string{"Today", "Tomorrow"}

// bucket collects the samples of one calendar date in arrival order.
type bucket struct {
	date         string
	high, low    float64
	conditions   []string
	descriptions []string
}

// Aggregate groups samples by date in first-seen order and summarizes the first MaxDays dates.
// High and low are the rounded max and min temperatures. Condition and description are each the
// most frequent value in the day, ties going to the value seen first; the two are chosen
// independently and may come from different samples.
func Aggregate(samples []models.RawSample) []models.ForecastDay {
	var order []*bucket
	byDate := make(map[string]*bucket)

	for _, s := range samples {
		b, ok := byDate[s.Date]
		if !ok {
			if len(order) == MaxDays {
				continue
			}
			b = &bucket{date: s.Date, high: math.Inf(-1), low: math.Inf(1)}
			byDate[s.Date] = b
			order = append(order, b)
		}
		b.high = math.Max(b.high, s.Temp)
		b.low = math.Min(b.low, s.Temp)
		b.conditions = append(b.conditions, s.Condition)
		b.descriptions = append(b.descriptions, s.Description)
	}

	days := make([]models.ForecastDay, 0, len(order))
	for i, b := range order {
		days = append(days, models.ForecastDay{
			Date:        b.date,
			Day:         dayLabel(i, b.date),
			High:        transform.Round(b.high),
			Low:         transform.Round(b.low),
			Condition:   mostFrequent(b.conditions),
			Description: mostFrequent(b.descriptions),
		})
	}
	return days
}

// mostFrequent returns the value with the highest count; on a tie the earliest-seen value wins.
func mostFrequent(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
	}
	for _, v := range values {
		if c := counts[v]; c > bestCount {
			best, bestCount = v, c
		}
	}
	return best
}

// dayLabel names the day at position i of the result.
func dayLabel(i int, date string) string {
	if i < len(fixedLabels) {
		return fixedLabels[i]
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Weekday().String()
}
