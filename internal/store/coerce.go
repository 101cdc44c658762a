package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/you/recurse-review/internal/core"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanPerson reads one row without trusting column affinities: every value
// comes back as whatever SQLite holds and is coerced here.
func (s *SQLiteStore) scanPerson(row rowScanner) (core.Person, error) {
	var id, name, avatar, count, countAt, journey, journeyAt, created any
	if err := row.Scan(&id, &name, &avatar, &count, &countAt, &journey, &journeyAt, &created); err != nil {
		return core.Person{}, err
	}
	now := s.now().UTC()
	return core.Person{
		ID:                asString(id),
		Name:              asString(name),
		AvatarURL:         asString(avatar),
		MessageCount:      asInt64(count),
		MessagesUpdatedAt: asTime(countAt, now),
		Journey:           asString(journey),
		JourneyUpdatedAt:  asTime(journeyAt, now),
		CreatedAt:         asTime(created, now),
	}, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string, []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(asString(x)), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// asTime parses the layouts historical writers used. Missing or unreadable
// values fall back to now.
func asTime(v any, now time.Time) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case int64:
		return time.Unix(x, 0).UTC()
	case float64:
		return time.Unix(int64(x), 0).UTC()
	case string, []byte:
		raw := strings.TrimSpace(asString(x))
		if raw == "" {
			return now
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(n, 0).UTC()
		}
		return now
	default:
		return now
	}
}
