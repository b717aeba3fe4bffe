package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

const dateLayout = "2006-01-02"

// parseDesignFilter reads the listing query parameters. A date-only "to"
// includes that whole day.
func parseDesignFilter(r *http.Request) (models.DesignFilter, error) {
	q := r.URL.Query()
	f := models.DesignFilter{
		Status: strings.TrimSpace(q.Get("status")),
		Style:  strings.ToLower(strings.TrimSpace(q.Get("style"))),
		UserID: strings.TrimSpace(q.Get("user_id")),
		Query:  strings.TrimSpace(q.Get("q")),
	}

	var err error
	if f.Limit, f.Offset, err = parsePage(r); err != nil {
		return f, err
	}

	if raw := q.Get("from"); raw != "" {
		if f.From, _, err = parseTimeParam(raw); err != nil {
			return f, badRequest("from", err.Error())
		}
	}
	if raw := q.Get("to"); raw != "" {
		var dateOnly bool
		if f.To, dateOnly, err = parseTimeParam(raw); err != nil {
			return f, badRequest("to", err.Error())
		}
		if dateOnly {
			f.To = f.To.AddDate(0, 0, 1)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, badRequest("to", "must be after from")
	}
	return f, nil
}

var errTimeParam = errors.New("must be RFC 3339 or YYYY-MM-DD")

func parseTimeParam(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, errTimeParam
}
