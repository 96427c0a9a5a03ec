package flowtrace

import "time"

// processEpoch anchors a monotonic nanosecond counter independent of wall
// clock adjustments, so holder durations are derived from monotonic
// counters rather than wall time (spec invariant: endTime >= startTime but
// duration comes from startMono/endMono).
var processEpoch = time.Now()

func monoNow() int64 {
	return int64(time.Since(processEpoch))
}
