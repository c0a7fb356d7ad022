package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultSearchLimit = 5
	MaxSearchLimit     = 10
)

// ErrInvalidRequest is wrapped by every validation failure; it maps to 400 INVALID_REQUEST.
var ErrInvalidRequest = errors.New("invalid request")

// LocationQuery is the validated query of /weather/current and /weather/forecast.
type LocationQuery struct {
	City        string `query:"city" validate:"required,max=100,location"`
	CountryCode string `query:"country_code" validate:"omitempty,alpha,min=2,max=3"`
}

// SearchQuery is the validated query of /weather/search.
type SearchQuery struct {
	Query string `query:"query" validate:"required,max=100,location"`
	Limit int    `query:"limit" validate:"min=1,max=10"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("query")
	})
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		for _, c := range fl.Field().String() {
			if !isAllowedLocationRune(c) {
				return false
			}
		}
		return true
	})
	return v
}

// ParseLocation trims city and countryCode and validates them. Case is left untouched;
// the service normalizes keys.
func ParseLocation(city, countryCode string) (LocationQuery, error) {
	q := LocationQuery{
		City:        strings.TrimSpace(city),
		CountryCode: strings.TrimSpace(countryCode),
	}
	if err := validate.Struct(q); err != nil {
		return LocationQuery{}, describe(err)
	}
	return q, nil
}

// ParseSearch validates a search query. An empty limit takes DefaultSearchLimit.
func ParseSearch(query, limit string) (SearchQuery, error) {
	q := SearchQuery{Query: strings.TrimSpace(query), Limit: DefaultSearchLimit}
	if s := strings.TrimSpace(limit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return SearchQuery{}, fmt.Errorf("%w: limit must be an integer", ErrInvalidRequest)
		}
		q.Limit = n
	}
	if err := validate.Struct(q); err != nil {
		return SearchQuery{}, describe(err)
	}
	return q, nil
}

// describe turns the first validator failure into a client-facing message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fe := verrs[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "max":
		if fe.Kind() == reflect.Int {
			msg = fmt.Sprintf("%s must be between 1 and %s", field, fe.Param())
		} else {
			msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
	case "min":
		if fe.Kind() == reflect.Int {
			msg = fmt.Sprintf("%s must be between %s and %d", field, fe.Param(), MaxSearchLimit)
		} else {
			msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
	case "alpha":
		msg = field + " must contain only letters"
	case "location":
		msg = field + " contains invalid characters"
	default:
		msg = field + " is invalid"
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// isAllowedLocationRune returns true for letters (Unicode), digits, space, comma, hyphen,
// period and apostrophe ("St. John's").
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// Message returns the client-facing part of a validation error.
func Message(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}
