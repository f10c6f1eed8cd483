package correlate

import (
	"time"

	"github.com/sells-group/royalty-engine/internal/model"
)

// Closest returns the item whose timestamp is nearest to at. Equal distances
// are broken by the lowest id, so the choice does not depend on input order.
func Closest[T any](items []T, at time.Time, ts func(T) time.Time, id func(T) string) (T, bool) {
	var best T
	found := false
	var bestDelta time.Duration

	for _, it := range items {
		d := ts(it).Sub(at)
		if d < 0 {
			d = -d
		}
		if !found || d < bestDelta || (d == bestDelta && id(it) < id(best)) {
			best, bestDelta, found = it, d, true
		}
	}
	return best, found
}

func resultTime(r model.AttributionResult) time.Time { return r.CreatedAt }
func resultID(r model.AttributionResult) string      { return r.ID }
func usageLogTime(l model.UsageLog) time.Time        { return l.CreatedAt }
func usageLogID(l model.UsageLog) string             { return l.ID }

// ClosestUsageLog applies Closest to usage logs.
func ClosestUsageLog(logs []model.UsageLog, at time.Time) (model.UsageLog, bool) {
	return Closest(logs, at, usageLogTime, usageLogID)
}
