package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Order is the created_at order used when listing persons.
type Order string

const (
	// OrderDesc returns the most recently created persons first.
	OrderDesc Order = "desc"
	// OrderAsc returns the oldest persons first.
	OrderAsc Order = "asc"
)

// Filters captures the parsed query parameters for person lookups. A zero
// Limit means no limit.
type Filters struct {
	Names      []string
	Since      *time.Time
	HasJourney *bool
	Limit      int
	Order      Order
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderDesc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "desc":
			f.Order = OrderDesc
		case "asc":
			f.Order = OrderAsc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	if raw := values.Get("has_journey"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Filters{}, errors.New("has_journey must be a boolean")
		}
		f.HasJourney = &b
	}

	seen := make(map[string]struct{})
	for _, raw := range values["name"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, exists := seen[part]; !exists {
				f.Names = append(f.Names, part)
				seen[part] = struct{}{}
			}
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}
