//go:build linux

package hostclock

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// localTime reads CLOCK_MONOTONIC_RAW, the same source the original
// implementation binds on Linux: a monotonic clock that is not
// subject to NTP frequency adjustments.
func localTime() (sec, nsec int64, err error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0, 0, fmt.Errorf("hostclock: clock_gettime(CLOCK_MONOTONIC_RAW): %w", err)
	}
	return int64(ts.Sec), int64(ts.Nsec), nil
}

// eraToken reads the kernel's per-boot random token. It changes on
// every reboot but not across a suspend-to-RAM cycle, which is the
// inherited open question documented in SPEC_FULL.md.
func eraToken() ([EraLen]byte, error) {
	var out [EraLen]byte

	raw, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return out, fmt.Errorf("hostclock: reading boot_id: %w", err)
	}

	id, err := uuid.ParseBytes(trimNewline(raw))
	if err != nil {
		return out, fmt.Errorf("hostclock: parsing boot_id: %w", err)
	}

	copy(out[:], id[:])
	return out, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
