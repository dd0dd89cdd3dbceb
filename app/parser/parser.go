// Package parser extracts test results from Oberon zip filenames.
//
// The canonical shape is
//
//	IGSJ_<token>_<sku>_<sn>_<P|F>_<STATION>_<YYYYMMDDTHHMMSSZ>.zip
//
// but field order drifts between stations, so every field is located
// independently and a file is silently skipped when any of them is missing.
package parser

import (
	"regexp"
	"strings"
	"time"

	"floorsight/app/timestamps"
)

// BonepileFlag classifies the marker token after the leading "IGSJ_".
type BonepileFlag int

const (
	// BonepileUnknown means the token is absent or unrecognized.
	BonepileUnknown BonepileFlag = iota
	// BonepileFresh is the "NA" token: a unit not under failure analysis.
	BonepileFresh
	// BonepileMarked is a "PB-<digits>" token.
	BonepileMarked
)

// Result is a fully parsed test filename.
type Result struct {
	SN         string
	Status     string // "P" or "F"
	Station    string
	PartNumber string // "Unknown" when not extractable
}

var (
	reSNStatusStation = regexp.MustCompile(`_(\d{10,})_([FP])_([A-Z0-9]+)_`)
	reSNAnywhere      = regexp.MustCompile(`18\d{11}`)
	reStatusStation   = regexp.MustCompile(`_([FP])_([A-Z0-9]+)_`)

	rePartPBTS = regexp.MustCompile(`PB-\d+_(\d+-\d+-\d+-TS\d+)`)
	rePartPB   = regexp.MustCompile(`PB-\d+_(\d+-\d+-\d+)`)
	rePartTS   = regexp.MustCompile(`(\d+-\d+-\d+-TS\d+)`)
	rePart     = regexp.MustCompile(`(\d+-\d+-\d+)`)

	reSourceToken = regexp.MustCompile(`^IGSJ_([^_]+)_`)
	reTimestamp   = regexp.MustCompile(`(\d{8})T(\d{6})Z`)
)

// Parse extracts SN, status, station and part number from a zip basename.
// It returns ok=false when the name does not carry a valid 13-digit
// "18"-prefixed serial followed by a status/station pair.
func Parse(filename string) (Result, bool) {
	name := strings.TrimSuffix(filename, ".zip")
	partNumber := PartNumber(filename)

	// Shape 1: _SN_Status_Station_
	if m := reSNStatusStation.FindStringSubmatch(name); m != nil {
		sn := m[1]
		if strings.HasPrefix(sn, "18") && len(sn) == 13 {
			return Result{SN: sn, Status: m[2], Station: m[3], PartNumber: partNumber}, true
		}
	}

	// Shape 2: locate the SN anywhere, then match _Status_Station_ after it.
	if loc := reSNAnywhere.FindStringIndex(name); loc != nil {
		afterSN := name[loc[1]:]
		if m := reStatusStation.FindStringSubmatch(afterSN); m != nil {
			return Result{SN: name[loc[0]:loc[1]], Status: m[1], Station: m[2], PartNumber: partNumber}, true
		}
	}

	return Result{}, false
}

// PartNumber extracts the product SKU from the filename, trying the
// bonepile-prefixed shapes first so the PB digits are not mistaken for a
// part-number segment. Returns "Unknown" when nothing matches.
func PartNumber(filename string) string {
	name := strings.TrimSuffix(filename, ".zip")
	for _, re := range []*regexp.Regexp{rePartPBTS, rePartPB, rePartTS, rePart} {
		if m := re.FindStringSubmatch(name); m != nil {
			return m[1]
		}
	}
	return "Unknown"
}

// SourceToken parses the bonepile marker token right after "IGSJ_".
// "NA" means fresh, "PB-…" means bonepile (pbID is the token itself),
// anything else is unknown.
func SourceToken(filename string) (BonepileFlag, string) {
	m := reSourceToken.FindStringSubmatch(filename)
	if m == nil {
		return BonepileUnknown, ""
	}
	token := strings.TrimSpace(m[1])
	upper := strings.ToUpper(token)
	switch {
	case upper == "NA":
		return BonepileFresh, ""
	case strings.HasPrefix(upper, "PB-"):
		return BonepileMarked, token
	default:
		return BonepileUnknown, ""
	}
}

// Timestamp parses the first YYYYMMDDTHHMMSSZ occurrence as California local
// wall-clock time. The trailing "Z" is not UTC here; see app/timestamps.
func Timestamp(filename string) (time.Time, bool) {
	m := reTimestamp.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102T150405", m[1]+"T"+m[2], timestamps.CA())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
