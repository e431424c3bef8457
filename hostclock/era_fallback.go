//go:build !linux

package hostclock

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/shirou/gopsutil/v3/host"
)

// eraToken falls back to the system boot time on platforms with no
// stable per-boot token of their own, hashed into the fixed 16-byte
// era width. Like the Linux boot_id, this is stable across
// suspend-to-RAM, which is the inherited open question documented in
// SPEC_FULL.md rather than a platform-specific regression.
func eraToken() ([EraLen]byte, error) {
	var out [EraLen]byte

	bootTime, err := host.BootTimeWithContext(context.Background())
	if err != nil {
		return out, fmt.Errorf("hostclock: reading boot time: %w", err)
	}

	h := fnv.New128a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bootTime)
	_, _ = h.Write(buf[:])

	sum := h.Sum(nil)
	copy(out[:], sum)
	return out, nil
}
