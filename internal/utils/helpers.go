package utils

import (
	"fmt"
	"strings"
	"time"
)

func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ParseYMD(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	// strip time to midnight UTC to match DATE semantics
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// DateWindow turns optional YYYY-MM-DD bounds into a half-open [from, to) range.
// to is inclusive on input, so one day is added. Only from means from..today.
func DateWindow(fromDate, toDate string, now time.Time) (from, to *time.Time, err error) {
	if fd := strings.TrimSpace(fromDate); fd != "" {
		f, err := ParseYMD(fd)
		if err != nil {
			return nil, nil, fmt.Errorf("from_date invalid (YYYY-MM-DD): %w", err)
		}
		from = &f
	}
	if td := strings.TrimSpace(toDate); td != "" {
		t, err := ParseYMD(td)
		if err != nil {
			return nil, nil, fmt.Errorf("to_date invalid (YYYY-MM-DD): %w", err)
		}
		end := t.AddDate(0, 0, 1)
		to = &end
	}
	if from != nil && to == nil {
		today := now.UTC()
		end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		to = &end
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, nil, fmt.Errorf("from_date must not be after to_date")
	}
	return from, to, nil
}
