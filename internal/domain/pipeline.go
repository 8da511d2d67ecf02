package domain

import "time"

// Targeting dimensions, in evaluation order.
type Dimension string

const (
	DimURL        Dimension = "url"
	DimDevice     Dimension = "device"
	DimUTM        Dimension = "utm"
	DimTimeWindow Dimension = "time_window"
)

// FilterResult reports what the targeting pipeline kept and why it removed
// the rest.
type FilterResult struct {
	Kept               []Notification
	Removed            int
	RemovedByDimension map[Dimension]int
	Applied            bool // true iff at least one notification was removed
}

// ApplyTargeting evaluates each notification's rules in fixed order
// (URL → device → UTM → time window), short-circuiting on the first
// failing dimension. The predicates are total functions, but the whole
// per-notification evaluation keeps a recover guard as defense in depth:
// a broken rule must never hide a notification that would otherwise be
// eligible.
func ApplyTargeting(rc RequestContext, now time.Time, in []Notification) FilterResult {
	res := FilterResult{
		Kept:               make([]Notification, 0, len(in)),
		RemovedByDimension: make(map[Dimension]int),
	}

	for _, n := range in {
		keep, dim := evaluate(rc, now, n)
		if keep {
			res.Kept = append(res.Kept, n)
			continue
		}
		res.Removed++
		res.RemovedByDimension[dim]++
	}

	res.Applied = res.Removed > 0
	return res
}

func evaluate(rc RequestContext, now time.Time, n Notification) (keep bool, failed Dimension) {
	defer func() {
		if recover() != nil {
			// Fail open: targeting errors keep the notification.
			keep = true
			failed = ""
		}
	}()

	if !MatchURL(n.TargetURLPatterns, rc.Path) {
		return false, DimURL
	}
	if !MatchDevice(n.TargetDevices, rc.Device) {
		return false, DimDevice
	}
	if !MatchUTM(n.TargetUTMs, rc.UTM) {
		return false, DimUTM
	}
	if !MatchTimeWindows(n.ActiveTimeWindows, now) {
		return false, DimTimeWindow
	}
	return true, ""
}
