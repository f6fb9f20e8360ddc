package services

import (
	"fmt"
	"time"
)

// cycleLayout formats a UTC hour bucket as a sortable YYYYMMDDHH key.
const cycleLayout = "2006010215"

// CurrentCycleID returns the hour bucket key for t.
func CurrentCycleID(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(cycleLayout)
}

// PreviousCycleID returns the key of the hour immediately before the
// given cycle. Used solely to decide whether a pending batch is fresh
// (one cycle back) or stale (older, to be abandoned).
func PreviousCycleID(cycleID string) (string, error) {
	t, err := time.ParseInLocation(cycleLayout, cycleID, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parse cycle id %q: %w", cycleID, err)
	}
	return t.Add(-time.Hour).Format(cycleLayout), nil
}

// CycleDay returns the YYYYMMDD budget-accounting day of a cycle id.
func CycleDay(cycleID string) string {
	if len(cycleID) < 8 {
		return cycleID
	}
	return cycleID[:8]
}
