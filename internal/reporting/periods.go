package reporting

import (
	"fmt"
	"time"
)

// ParsePreset validates a preset name. Empty selects the current month.
func ParsePreset(raw string) (Preset, error) {
	switch p := Preset(raw); p {
	case "":
		return PresetCurrentMonth, nil
	case PresetCurrentMonth, PresetLastMonth, PresetCurrentQuarter, PresetCurrentYear, PresetCustom:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPreset, raw)
}

// ResolvePreset turns a preset into a concrete range relative to now. The
// custom preset uses start and end, which must both be set.
func ResolvePreset(p Preset, now time.Time, start, end time.Time) (Range, error) {
	today := dateOf(now)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	switch p {
	case PresetCurrentMonth, "":
		return NewRange(monthStart, today)
	case PresetLastMonth:
		return NewRange(monthStart.AddDate(0, -1, 0), monthStart.AddDate(0, 0, -1))
	case PresetCurrentQuarter:
		q := (int(today.Month())-1)/3*3 + 1
		return NewRange(time.Date(today.Year(), time.Month(q), 1, 0, 0, 0, 0, time.UTC), today)
	case PresetCurrentYear:
		return NewRange(time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), today)
	case PresetCustom:
		if start.IsZero() || end.IsZero() {
			return Range{}, fmt.Errorf("%w: custom period needs start and end", ErrInvalidRange)
		}
		return NewRange(start, end)
	}
	return Range{}, fmt.Errorf("%w: %q", ErrInvalidPreset, string(p))
}

// MonthRange covers one calendar month.
func MonthRange(year, month int) (Range, error) {
	if month < 1 || month > 12 {
		return Range{}, fmt.Errorf("%w: month %d", ErrInvalidRange, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return NewRange(start, start.AddDate(0, 1, -1))
}

// YearRange covers one calendar year.
func YearRange(year int) (Range, error) {
	return NewRange(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC))
}

// QuarterRange covers the quarter containing month.
func QuarterRange(year, month int) (Range, error) {
	if month < 1 || month > 12 {
		return Range{}, fmt.Errorf("%w: month %d", ErrInvalidRange, month)
	}
	first := (month-1)/3*3 + 1
	start := time.Date(year, time.Month(first), 1, 0, 0, 0, 0, time.UTC)
	return NewRange(start, start.AddDate(0, 3, -1))
}
