//go:build darwin

package hostclock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// localTime reads CLOCK_MONOTONIC. This platform has no equivalent
// of Linux's CLOCK_MONOTONIC_RAW (a monotonic clock immune to NTP
// slewing); CLOCK_MONOTONIC is the closest available source.
func localTime() (sec, nsec int64, err error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, 0, fmt.Errorf("hostclock: clock_gettime(CLOCK_MONOTONIC): %w", err)
	}
	return int64(ts.Sec), int64(ts.Nsec), nil
}
