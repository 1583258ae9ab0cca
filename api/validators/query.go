package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Invalid("query parameter must be numeric", map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.Invalid("query parameter out of range", map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseUUIDParam reads a chi URL parameter as a uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Invalid("invalid path parameter", map[string]any{"field": name})
	}
	return id, nil
}

// ParseOptionalTime parses an RFC 3339 timestamp; blank input yields the
// zero time, which services treat as "now".
func ParseOptionalTime(raw *string, field string) (time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return time.Time{}, pkgerrors.Invalid("timestamp must be RFC 3339", map[string]any{"field": field})
	}
	return ts.UTC(), nil
}
