package byztime

import (
	"math"

	"byztime/stamp"
)

// slewState tracks what Slew mode needs to remember between calls:
// the local time and clamped estimate it produced last time, so the
// next estimate can be clamped against the implied rate of change
// rather than jumping straight to the newly published raw offset.
type slewState struct {
	have          bool
	prevLocalTime stamp.Stamp
	prevOffset    stamp.Stamp
}

// maxPPB is the sentinel "infinite" maximum rate: a Slew call passing
// this as maxRatePPB disables the upper clamp entirely, matching the
// C original's INT64_MAX convention.
const maxPPB = int64(math.MaxInt64)

// clampEstimate computes the slewed offset estimate for a freshly read
// raw offset, given the previous call's state. It mirrors
// byztime_get_local_time_and_offset's slew branch: the global-time
// change implied by moving from the previous estimate to the new raw
// offset is clamped to between minRatePPB and maxRatePPB times the
// elapsed local time before being allowed to move the estimate.
func clampEstimate(rawOffset, localTime stamp.Stamp, minRatePPB, maxRatePPB int64, st slewState) (est stamp.Stamp, next slewState, overflow bool) {
	if !st.have {
		return rawOffset, slewState{have: true, prevLocalTime: localTime, prevOffset: rawOffset}, false
	}

	localSincePrev, of := stamp.Sub(localTime, st.prevLocalTime)
	if of {
		return stamp.Zero, st, true
	}
	offsetAdjSincePrev, of := stamp.Sub(rawOffset, st.prevOffset)
	if of {
		return stamp.Zero, st, true
	}
	globalSincePrev, of := stamp.Add(localSincePrev, offsetAdjSincePrev)
	if of {
		return stamp.Zero, st, true
	}

	minGlobalSincePrev, of := stamp.Scale(localSincePrev, minRatePPB)
	if of {
		return stamp.Zero, st, true
	}

	var maxGlobalSincePrev stamp.Stamp
	haveMaxBound := maxRatePPB < maxPPB
	if haveMaxBound {
		maxGlobalSincePrev, of = stamp.Scale(localSincePrev, maxRatePPB)
		if of {
			return stamp.Zero, st, true
		}
	}

	switch {
	case stamp.Cmp(globalSincePrev, minGlobalSincePrev) < 0:
		shortfall, of := stamp.Sub(minGlobalSincePrev, globalSincePrev)
		if of {
			return stamp.Zero, st, true
		}
		est, of = stamp.Add(rawOffset, shortfall)
		if of {
			return stamp.Zero, st, true
		}
	case haveMaxBound && stamp.Cmp(globalSincePrev, maxGlobalSincePrev) > 0:
		excess, of := stamp.Sub(globalSincePrev, maxGlobalSincePrev)
		if of {
			return stamp.Zero, st, true
		}
		est, of = stamp.Sub(rawOffset, excess)
		if of {
			return stamp.Zero, st, true
		}
	default:
		est = rawOffset
	}

	next = slewState{have: true, prevLocalTime: localTime, prevOffset: est}
	return est, next, false
}
