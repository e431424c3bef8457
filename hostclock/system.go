package hostclock

import (
	"time"

	"byztime/stamp"
)

// System is the production Clocks implementation: LocalTime reads the
// best available monotonic clock source for the platform, RealTime
// reads the wall clock, and Era reads a per-boot token.
type System struct{}

// NewSystem returns the production Clocks implementation.
func NewSystem() System { return System{} }

// LocalTime returns the current monotonic time, normalized.
func (System) LocalTime() (stamp.Stamp, error) {
	sec, nsec, err := localTime()
	if err != nil {
		return stamp.Zero, err
	}
	s, _ := stamp.Normalize(stamp.Stamp{Sec: sec, Nsec: nsec})
	return s, nil
}

// RealTime returns the current wall-clock time relative to the POSIX
// epoch.
func (System) RealTime() (stamp.Stamp, error) {
	now := time.Now()
	s, _ := stamp.Normalize(stamp.Stamp{Sec: now.Unix(), Nsec: int64(now.Nanosecond())})
	return s, nil
}

// Era returns the current boot-era token.
func (System) Era() ([EraLen]byte, error) {
	return eraToken()
}
