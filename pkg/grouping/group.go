package grouping

import (
	"context"
	"sort"
	"time"

	"github.com/messa/aggregate-s3-logs/internal/logctx"
	"github.com/messa/aggregate-s3-logs/pkg/objectstore"
)

// Group is the ordered member list of one aggregation unit.
type Group struct {
	Key     string
	Members []objectstore.ObjectRecord
}

// MemberKeys returns the object keys of the group members in order.
func (g Group) MemberKeys() []string {
	keys := make([]string, len(g.Members))
	for i, m := range g.Members {
		keys[i] = m.Key
	}
	return keys
}

// TotalSize returns the summed listed size of all members.
func (g Group) TotalSize() int64 {
	var n int64
	for _, m := range g.Members {
		n += m.Size
	}
	return n
}

// Result is the output of Partition.
type Result struct {
	// Groups holds eligible groups sorted by group key.
	Groups []Group
	// Archived lists group keys dropped because a member is in an archival
	// storage class.
	Archived []string
	// Counts of records per classification outcome.
	Unrecognized int
	Aggregated   int
	TooFresh     int
}

// ObjectCount returns the number of objects across all eligible groups.
func (r Result) ObjectCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Members)
	}
	return n
}

// Partition classifies records and groups the eligible ones. Records must be
// sorted by key; members keep that order. A group with any GLACIER or
// DEEP_ARCHIVE member is dropped as a whole and reported with a warning.
func Partition(ctx context.Context, records []objectstore.ObjectRecord, now time.Time, minAgeDays int) Result {
	log := logctx.FromContext(ctx)

	var res Result
	byKey := make(map[string][]objectstore.ObjectRecord)
	for _, rec := range records {
		c := Classify(rec.Key, now, minAgeDays)
		switch c.Kind {
		case Eligible:
			byKey[c.GroupKey] = append(byKey[c.GroupKey], rec)
		case TooFresh:
			res.TooFresh++
			log.Debug().Str("key", rec.Key).Msg("skipping, too fresh")
		case Aggregated:
			res.Aggregated++
		default:
			res.Unrecognized++
			log.Debug().Str("key", rec.Key).Msg("unrecognized filename")
		}
	}

	groupKeys := make([]string, 0, len(byKey))
	for k := range byKey {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)

	for _, gk := range groupKeys {
		members := byKey[gk]
		if archived := archivalKeys(members); len(archived) > 0 {
			log.Warn().
				Str("group", gk).
				Strs("keys", archived).
				Msg("skipping group, objects would have to be restored from GLACIER or DEEP_ARCHIVE")
			res.Archived = append(res.Archived, gk)
			continue
		}
		res.Groups = append(res.Groups, Group{Key: gk, Members: members})
	}
	return res
}

func archivalKeys(members []objectstore.ObjectRecord) []string {
	var keys []string
	for _, m := range members {
		if m.StorageClass.IsArchival() {
			keys = append(keys, m.Key)
		}
	}
	return keys
}
