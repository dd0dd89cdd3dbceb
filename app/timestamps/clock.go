package timestamps

import (
	"fmt"
	"strings"
	"time"
)

// The share filenames end with a YYYYMMDDTHHMMSSZ suffix. Despite the "Z",
// the timestamp is California local wall-clock time (PST/PDT), matching the
// hourly report tooling that produces the files. The interpretation is
// versioned through the store's timestamp mode; see app/store.

var (
	caLoc *time.Location
	twLoc *time.Location
)

func init() {
	var err error
	caLoc, err = time.LoadLocation("America/Los_Angeles")
	if err != nil {
		panic(fmt.Sprintf("load America/Los_Angeles: %v", err))
	}
	twLoc, err = time.LoadLocation("Asia/Taipei")
	if err != nil {
		panic(fmt.Sprintf("load Asia/Taipei: %v", err))
	}
}

// CA returns the California location used for all bucketing and user input.
func CA() *time.Location { return caLoc }

// TW returns the Taiwan location used only to enumerate share day directories.
func TW() *time.Location { return twLoc }

// NowCA returns the current California time truncated to second precision.
func NowCA() time.Time {
	return time.Now().In(caLoc).Truncate(time.Second)
}

// Buckets are the derived California wall-clock fields stored per raw entry.
type Buckets struct {
	MS    int64
	Date  string // YYYY-MM-DD
	Hour  int
	Week  string // Sunday-start inclusive range YYYY-MM-DD~YYYY-MM-DD
	Month string // YYYY-MM
}

// CABuckets reinterprets an instant as California wall clock and buckets it.
func CABuckets(t time.Time) Buckets {
	ca := t.In(caLoc)
	return Buckets{
		MS:    ca.UnixMilli(),
		Date:  ca.Format("2006-01-02"),
		Hour:  ca.Hour(),
		Week:  WeekKey(ca),
		Month: ca.Format("2006-01"),
	}
}

// WeekKey returns the Sunday-start week range containing t, e.g.
// "2026-01-04~2026-01-10".
func WeekKey(t time.Time) string {
	daysSinceSunday := int(t.Weekday()) // Sunday=0 .. Saturday=6
	start := t.AddDate(0, 0, -daysSinceSunday)
	end := start.AddDate(0, 0, 6)
	return start.Format("2006-01-02") + "~" + end.Format("2006-01-02")
}

// PeriodKey buckets a date by aggregation ("daily", "weekly" or "monthly").
// Unknown aggregations fall back to daily.
func PeriodKey(t time.Time, aggregation string) string {
	switch aggregation {
	case "monthly":
		return t.Format("2006-01")
	case "weekly":
		return WeekKey(t)
	default:
		return t.Format("2006-01-02")
	}
}

// ParseInput parses a user-provided California datetime string. Accepted
// layouts are "YYYY-MM-DD HH:MM" and "YYYY-MM-DD HH:MM:SS". Minute-precision
// end times are treated as inclusive of that minute by adding 59 seconds.
func ParseInput(s string, isEnd bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, caLoc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, caLoc)
	if err != nil {
		return time.Time{}, fmt.Errorf("datetime format must be YYYY-MM-DD HH:MM (optional :SS)")
	}
	if isEnd {
		t = t.Add(59 * time.Second)
	}
	return t, nil
}

// TWDatesForCARange maps a California window to the Taiwan calendar dates to
// scan, padded one day on each side to cover the timezone boundary.
func TWDatesForCARange(startCA, endCA time.Time) []time.Time {
	startTW := startCA.In(twLoc)
	endTW := endCA.In(twLoc)
	d0 := time.Date(startTW.Year(), startTW.Month(), startTW.Day(), 0, 0, 0, 0, twLoc).AddDate(0, 0, -1)
	d1 := time.Date(endTW.Year(), endTW.Month(), endTW.Day(), 0, 0, 0, 0, twLoc).AddDate(0, 0, 1)
	var days []time.Time
	for cur := d0; !cur.After(d1); cur = cur.AddDate(0, 0, 1) {
		days = append(days, cur)
	}
	return days
}

// FormatMS formats a California epoch-ms timestamp as "YYYY-MM-DD HH:MM:SS".
// Zero or negative values format as the empty string.
func FormatMS(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).In(caLoc).Format("2006-01-02 15:04:05")
}
