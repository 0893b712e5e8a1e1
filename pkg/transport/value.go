package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Coercion helpers for Object values. The two transports produce
// different raw shapes for the same CIM property: DCOM yields variant
// conversions (bool, int32, DMTF datetime strings), the WSMan
// PowerShell path yields JSON types (bool, float64, formatted
// strings). Collectors read through these helpers so they do not care
// which transport produced the row.

// AsBool interprets v as a boolean. Numeric values follow the CIM
// convention: non-zero is true.
func AsBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		return false, false
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	case int32:
		return b != 0, true
	case int64:
		return b != 0, true
	case uint32:
		return b != 0, true
	}
	return false, false
}

// AsInt interprets v as an integer.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// AsString interprets v as a non-empty string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// AsTime interprets v as a timestamp. Accepted string forms are
// RFC3339 (the wsman transport normalizes datetimes to round-trip
// format), DMTF CIM_DATETIME ("20250812143050.123456+060"), and the
// Windows PowerShell 5 JSON form "/Date(1734303870000)/".
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
		if ts, err := parseDMTF(s); err == nil {
			return ts, true
		}
		if ts, ok := parseJSONDate(s); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parseDMTF parses a CIM_DATETIME string: fixed-width local time
// followed by a signed UTC offset in minutes. Interval forms and
// wildcard fields are rejected.
func parseDMTF(s string) (time.Time, error) {
	// yyyymmddHHMMSS.mmmmmm±UUU
	if len(s) != 25 || s[14] != '.' {
		return time.Time{}, fmt.Errorf("not a DMTF datetime: %q", s)
	}
	sign := s[21]
	if sign != '+' && sign != '-' {
		return time.Time{}, fmt.Errorf("not a DMTF datetime: %q", s)
	}

	num := func(part string) (int, error) {
		return strconv.Atoi(part)
	}

	year, err := num(s[0:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF year %q: %w", s[0:4], err)
	}
	month, err := num(s[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF month %q: %w", s[4:6], err)
	}
	day, err := num(s[6:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF day %q: %w", s[6:8], err)
	}
	hour, err := num(s[8:10])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF hour %q: %w", s[8:10], err)
	}
	minute, err := num(s[10:12])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF minute %q: %w", s[10:12], err)
	}
	second, err := num(s[12:14])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF second %q: %w", s[12:14], err)
	}
	micros, err := num(s[15:21])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF microseconds %q: %w", s[15:21], err)
	}
	offMin, err := num(s[22:25])
	if err != nil {
		return time.Time{}, fmt.Errorf("DMTF offset %q: %w", s[22:25], err)
	}
	if sign == '-' {
		offMin = -offMin
	}

	loc := time.FixedZone("", offMin*60)
	return time.Date(year, time.Month(month), day, hour, minute, second, micros*1000, loc), nil
}

// parseJSONDate parses the "\/Date(ms)\/" form ConvertTo-Json emits
// for DateTime values on Windows PowerShell 5.
func parseJSONDate(s string) (time.Time, bool) {
	s = strings.ReplaceAll(s, `\/`, "/")
	if !strings.HasPrefix(s, "/Date(") || !strings.HasSuffix(s, ")/") {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s[len("/Date(") : len(s)-len(")/")], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
