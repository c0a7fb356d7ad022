package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestParseLocation_Valid(t *testing.T) {
	tests := []struct {
		name, city, cc     string
		wantCity, wantCode string
	}{
		{"city and country", "London", "GB", "London", "GB"},
		{"trimmed", "  New York ", " US ", "New York", "US"},
		{"no country", "Paris", "", "Paris", ""},
		{"unicode", "São Paulo", "BR", "São Paulo", "BR"},
		{"punctuation", "St. John's", "CA", "St. John's", "CA"},
		{"three letter code", "Berlin", "DEU", "Berlin", "DEU"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLocation(tc.city, tc.cc)
			if err != nil {
				t.Fatalf("ParseLocation(%q, %q) error = %v", tc.city, tc.cc, err)
			}
			if got.City != tc.wantCity || got.CountryCode != tc.wantCode {
				t.Errorf("ParseLocation() = %+v, want city %q code %q", got, tc.wantCity, tc.wantCode)
			}
		})
	}
}

func TestParseLocation_Invalid(t *testing.T) {
	tests := []struct {
		name, city, cc, wantMsg string
	}{
		{"empty city", "", "GB", "city is required"},
		{"whitespace city", "   ", "", "city is required"},
		{"slash", "sea/ttle", "", "city contains invalid characters"},
		{"angle brackets", "<script>", "", "city contains invalid characters"},
		{"too long", strings.Repeat("a", 101), "", "city must be at most 100 characters"},
		{"numeric country", "London", "12", "country_code must contain only letters"},
		{"one letter country", "London", "G", "country_code must be at least 2 characters"},
		{"long country", "London", "GBRX", "country_code must be at most 3 characters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseLocation(tc.city, tc.cc)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestParseSearch(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		limit     string
		wantLimit int
		wantErr   string
	}{
		{"default limit", "Spring", "", DefaultSearchLimit, ""},
		{"explicit limit", "Spring", "10", 10, ""},
		{"minimum limit", "Spring", "1", 1, ""},
		{"zero limit", "Spring", "0", 0, "limit must be between 1 and 10"},
		{"limit too high", "Spring", "11", 0, "limit must be between 1 and 10"},
		{"non numeric limit", "Spring", "five", 0, "limit must be an integer"},
		{"missing query", "", "5", 0, "query is required"},
		{"bad characters", "Spr;ng", "5", 0, "query contains invalid characters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSearch(tc.query, tc.limit)
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseSearch(%q, %q) error = nil, want %q", tc.query, tc.limit, tc.wantErr)
				}
				if !errors.Is(err, ErrInvalidRequest) || !strings.Contains(err.Error(), tc.wantErr) {
					t.Errorf("error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSearch() error = %v", err)
			}
			if got.Limit != tc.wantLimit {
				t.Errorf("Limit = %d, want %d", got.Limit, tc.wantLimit)
			}
		})
	}
}

func TestIsAllowedLocationRune(t *testing.T) {
	for _, r := range "aZé9 ,-.'" {
		if !isAllowedLocationRune(r) {
			t.Errorf("isAllowedLocationRune(%q) = false, want true", r)
		}
	}
	for _, r := range `/\;<>&?#%` {
		if isAllowedLocationRune(r) {
			t.Errorf("isAllowedLocationRune(%q) = true, want false", r)
		}
	}
}

func TestMessage(t *testing.T) {
	_, err := ParseLocation("", "")
	if got := Message(err); got != "city is required" {
		t.Errorf("Message() = %q, want %q", got, "city is required")
	}
}
