package http

import (
	"net/http"
	"strings"
	"time"

	"coinvest/internal/core"
)

// ActorHeader carries the calling user's id. Authentication happens upstream.
const ActorHeader = "X-User-ID"

// actorID returns the sanitized actor id, or "" when absent.
func actorID(r *http.Request) string {
	return sanitizeInput(r.Header.Get(ActorHeader))
}

// parseDate parses a date string in YYYY-MM-DD format. Empty is the zero date.
func parseDate(dateStr string) (core.Date, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return core.Date{}, nil
	}
	parsedTime, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return core.Date{}, core.ErrInvalidDate
	}
	return core.Date{Time: parsedTime}, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
