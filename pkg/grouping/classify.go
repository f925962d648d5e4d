// Package grouping decides which listed log objects belong together.
//
// Two log naming schemes are recognised:
//
//	2019-05-27-12-16-57-674B2D6256BFFFFF      S3 server access log
//	E1UPB5BMFFFFXX.2019-07-11-21.28437999.gz  CloudFront access log
//
// Access logs group by day; CloudFront logs group by distribution and day.
package grouping

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// AggregatedMarker appears in the names of archives produced by this tool.
const AggregatedMarker = "aggregated"

const dayLayout = "2006-01-02"

var (
	reAccessLog     = regexp.MustCompile(`^(20[0-9][0-9]-[012][0-9]-[0-3][0-9])-[012][0-9]-[0-5][0-9]-[0-6][0-9]-[0-9a-fA-F]+$`)
	reCloudFrontLog = regexp.MustCompile(`^([0-9A-Z]+)\.(20[0-9][0-9]-[012][0-9]-[0-3][0-9])-[012][0-9]\.[0-9a-fA-F]+\.gz$`)
)

// Kind is the outcome of classifying one object key.
type Kind uint8

const (
	// Unrecognized keys match no known log naming scheme.
	Unrecognized Kind = iota
	// Aggregated keys are outputs of an earlier run.
	Aggregated
	// TooFresh keys are dated within the minimum age window.
	TooFresh
	// Eligible keys can be aggregated under their GroupKey.
	Eligible
)

func (k Kind) String() string {
	switch k {
	case Aggregated:
		return "aggregated"
	case TooFresh:
		return "too_fresh"
	case Eligible:
		return "eligible"
	default:
		return "unrecognized"
	}
}

// Classification describes one object key.
type Classification struct {
	Kind Kind
	// Day is the date encoded in the file name, when one was found.
	Day time.Time
	// GroupKey is set for Eligible keys: "YYYY-MM-DD" for access logs,
	// "<distribution>.YYYY-MM-DD" for CloudFront logs.
	GroupKey string
}

// Classify maps an object key to its group. now is the reference time and
// minAgeDays the number of most recent UTC days (today included) whose
// objects are left alone.
func Classify(key string, now time.Time, minAgeDays int) Classification {
	name := path.Base(key)
	if strings.Contains(name, AggregatedMarker) {
		return Classification{Kind: Aggregated}
	}

	var source, dayStr string
	if m := reAccessLog.FindStringSubmatch(name); m != nil {
		dayStr = m[1]
	} else if m := reCloudFrontLog.FindStringSubmatch(name); m != nil {
		source, dayStr = m[1], m[2]
	} else {
		return Classification{Kind: Unrecognized}
	}

	day, err := time.Parse(dayLayout, dayStr)
	if err != nil {
		return Classification{Kind: Unrecognized}
	}
	if !day.Before(cutoff(now, minAgeDays)) {
		return Classification{Kind: TooFresh, Day: day}
	}

	groupKey := dayStr
	if source != "" {
		groupKey = source + "." + dayStr
	}
	return Classification{Kind: Eligible, Day: day, GroupKey: groupKey}
}

// cutoff returns the first UTC day considered too fresh.
func cutoff(now time.Time, minAgeDays int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d-minAgeDays, 0, 0, 0, 0, time.UTC)
}
