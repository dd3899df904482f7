package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	errInvalidID   = errors.New("invalid_id")
	errInvalidTime = errors.New("invalid_time")
)

// parseOptionalSnowflakeID returns nil for a blank value. Zero is never a
// valid row id.
func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return nil, errInvalidID
	}
	return &id, nil
}

// parseOptionalTime accepts RFC 3339 timestamps or plain dates. A plain date
// used as an upper bound covers the whole UTC day.
func parseOptionalTime(value string, upperBound bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return &ts, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return nil, errInvalidTime
	}
	if upperBound {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}
