package bonepile

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reScientific = regexp.MustCompile(`(?i)^\d+(\.\d+)?E\+\d+$`)
	reTrailingF0 = regexp.MustCompile(`^\d+\.0$`)
	reNonDigit   = regexp.MustCompile(`[^\d]`)
	reMMDD       = regexp.MustCompile(`\b\d{1,2}/\d{1,2}\b`)
	reMMDDParts  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
)

// NormalizeSN coerces a workbook cell into a serial number. Excel routinely
// stores serials as floats or scientific notation; the cell is accepted only
// if the cleaned-up digits are 13 long and start with "18".
func NormalizeSN(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return ""
	}
	if reScientific.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	if reTrailingF0.MatchString(s) {
		s = s[:len(s)-2]
	}
	s = reNonDigit.ReplaceAllString(s, "")
	if len(s) == 13 && strings.HasPrefix(s, "18") {
		return s
	}
	return ""
}

// MMDDSegments splits a free-text cell into segments, each starting at an
// mm/dd marker and running to the next marker. Engineers append dated
// notes like "01/07: retest ok 01/09: shipped" into a single cell.
func MMDDSegments(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	locs := reMMDD.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	var out []string
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if seg := strings.TrimSpace(text[loc[0]:end]); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// CountMMDD returns the number of mm/dd markers in the cell.
func CountMMDD(text string) int {
	return len(MMDDSegments(text))
}

// LastMMDDSegment returns the last mm/dd segment, or the trimmed full text
// when the cell carries no marker.
func LastMMDDSegment(text string) string {
	segs := MMDDSegments(text)
	if len(segs) > 0 {
		return segs[len(segs)-1]
	}
	return strings.TrimSpace(text)
}

// LastMMDD returns the month/day of the last mm/dd marker in the cell.
func LastMMDD(text string) (month, day int, ok bool) {
	matches := reMMDDParts.FindAllStringSubmatch(strings.TrimSpace(text), -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	m := matches[len(matches)-1]
	month, _ = strconv.Atoi(m[1])
	day, _ = strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, false
	}
	return month, day, true
}
