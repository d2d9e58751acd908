package ptdomain

import (
	"strconv"
	"strings"
)

// sizeUnits maps a size suffix to its factor in megabytes.
var sizeUnits = map[string]float64{
	"B":   1.0 / (1024 * 1024),
	"KB":  1.0 / 1024,
	"KIB": 1.0 / 1024,
	"MB":  1,
	"MIB": 1,
	"GB":  1024,
	"GIB": 1024,
	"TB":  1024 * 1024,
	"TIB": 1024 * 1024,
	"PB":  1024 * 1024 * 1024,
	"PIB": 1024 * 1024 * 1024,
}

// ParseSizeMB converts a human-readable size string ("1.5 TB", "512MiB",
// "1,024 GB") into megabytes. A bare number is taken as MB; unrecognized
// input yields 0.
func ParseSizeMB(s string) float64 {
	s = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, ",", "")))
	if s == "" {
		return 0
	}
	cut := len(s)
	for cut > 0 {
		r := s[cut-1]
		if r >= 'A' && r <= 'Z' {
			cut--
			continue
		}
		break
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(s[:cut]), 64)
	if err != nil {
		return 0
	}
	unit := strings.TrimSpace(s[cut:])
	if unit == "" {
		return num
	}
	factor, ok := sizeUnits[unit]
	if !ok {
		return 0
	}
	return num * factor
}

// ParseInt reads an integer out of markup text, tolerating thousands
// separators and surrounding noise. Failure yields 0.
func ParseInt(s string) int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	// keep the first run of digits
	start := -1
	end := len(s)
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			end = i
			break
		}
	}
	if start < 0 {
		return 0
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0
	}
	return n
}

// ParseFloat reads a float the same way ParseInt reads integers.
func ParseFloat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
