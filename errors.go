package byztime

import "errors"

// Sentinel errors returned by this package. Callers should use
// errors.Is to test for them, since they are frequently wrapped with
// additional context via fmt.Errorf's %w verb.
var (
	// ErrOverflow indicates a Stamp arithmetic operation overflowed
	// int64 range. Where documented, the operation still returns a
	// result computed with two's-complement wraparound, matching
	// byztime_stamp_add/sub/scale's EOVERFLOW convention.
	ErrOverflow = errors.New("byztime: integer overflow")

	// ErrProtocol indicates the timedata region is not correctly
	// formatted: a bad magic, an out-of-range writer index, or an
	// entry that failed validation after being copied out.
	ErrProtocol = errors.New("byztime: malformed timedata region")

	// ErrEraMismatch indicates the region's clock-era token does not
	// match the current boot. This usually means the provider that
	// wrote it is not running under the current kernel session.
	ErrEraMismatch = errors.New("byztime: clock era mismatch")

	// ErrBusy indicates another process already holds the provider's
	// sidecar lock file.
	ErrBusy = errors.New("byztime: provider lock held by another process")

	// ErrOutOfRange indicates the current offset is not known to
	// within the maxerror bound requested of Slew.
	ErrOutOfRange = errors.New("byztime: current error bound exceeds requested maximum")

	// ErrClockFailure indicates the host clock (local time, real time,
	// or clock era) could not be read.
	ErrClockFailure = errors.New("byztime: host clock read failed")
)
