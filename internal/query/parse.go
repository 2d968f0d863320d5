package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Coercion records a request value that was dropped because it could not be parsed
type Coercion struct {
	Param string
	Value string
	Err   error
}

const dateOnly = "2006-01-02"

// ParseFilters reads filters from request parameters.
// Unparseable values deactivate their filter instead of failing the request.
func ParseFilters(v url.Values) (Filters, []Coercion) {
	var (
		f         Filters
		coercions []Coercion
	)

	f.Query = v.Get("q")
	f.TagIDs = append(SplitList(v.Get("tags")), v["tag"]...)
	f.CategoryID = firstOf(v, "categoryId", "category")
	f.AuthorID = firstOf(v, "authorId", "author")

	if raw := v.Get("dateFrom"); raw != "" {
		ts, err := ParseTime(raw, false)
		if err != nil {
			coercions = append(coercions, Coercion{Param: "dateFrom", Value: raw, Err: err})
		} else {
			f.DateFrom = &ts
		}
	}
	if raw := v.Get("dateTo"); raw != "" {
		ts, err := ParseTime(raw, true)
		if err != nil {
			coercions = append(coercions, Coercion{Param: "dateTo", Value: raw, Err: err})
		} else {
			f.DateTo = &ts
		}
	}

	return f, coercions
}

// ParseTime accepts RFC3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func ParseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		ts = ts.Add(24*time.Hour - time.Nanosecond)
	}
	return ts, nil
}

// ParseInt parses an integer parameter, returning def (and a coercion) when invalid
func ParseInt(v url.Values, param string, def int) (int, *Coercion) {
	raw := strings.TrimSpace(v.Get(param))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, &Coercion{Param: param, Value: raw, Err: err}
	}
	return n, nil
}

// SplitList splits a comma-separated list, dropping blanks
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstOf(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k)); s != "" {
			return s
		}
	}
	return ""
}
