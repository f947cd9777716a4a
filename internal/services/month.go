package services

import (
	"fmt"
	"time"
)

// monthLayout is the YYYY-MM format of storybook months
const monthLayout = "2006-01"

// parseMonth returns the first instant of month in loc
func parseMonth(month string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, month, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	return t, nil
}

// monthBounds returns the first instant of month and of the following month.
// Months follow the calendar of loc, so a record made just after midnight
// local time belongs to the local month.
func monthBounds(month string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := parseMonth(month, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}

// PreviousMonth returns the month before month ("2024-01" -> "2023-12")
func PreviousMonth(month string) (string, error) {
	t, err := parseMonth(month, time.UTC)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, -1, 0).Format(monthLayout), nil
}

// NextMonth returns the month after month. ok is false when that month lies
// after the current month of now, read in the location of now.
func NextMonth(month string, now time.Time) (next string, ok bool, err error) {
	t, err := parseMonth(month, time.UTC)
	if err != nil {
		return "", false, err
	}
	next = t.AddDate(0, 1, 0).Format(monthLayout)
	if next > now.Format(monthLayout) {
		return "", false, nil
	}
	return next, true, nil
}
