package hostclock

import (
	"sync"

	"byztime/stamp"
)

// Fake is a settable Clocks implementation for tests, the injectable
// analogue of github.com/webriots/rate's package-level nowfn override
// in clock_test.go. Unlike a package global, a Fake is scoped to the
// test that constructs it, so a provider and a consumer under test in
// the same process don't share mutable clock state unless they're
// explicitly given the same *Fake.
type Fake struct {
	mu    sync.Mutex
	local stamp.Stamp
	real  stamp.Stamp
	era   [EraLen]byte
}

// NewFake returns a Fake seeded at the zero Stamp and the zero era.
func NewFake() *Fake {
	return &Fake{}
}

// SetLocal sets the value future LocalTime calls will return.
func (f *Fake) SetLocal(s stamp.Stamp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = s
}

// SetReal sets the value future RealTime calls will return.
func (f *Fake) SetReal(s stamp.Stamp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.real = s
}

// SetEra sets the value future Era calls will return.
func (f *Fake) SetEra(era [EraLen]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.era = era
}

// Advance adds localDelta to the local time and realDelta to the real
// time, returning the new local time. It is a convenience for tests
// that step simulated time forward, the Fake analogue of
// webriots-rate's clock_test.go tick helper.
func (f *Fake) Advance(localDelta, realDelta stamp.Stamp) stamp.Stamp {
	f.mu.Lock()
	defer f.mu.Unlock()
	local, _ := stamp.Add(f.local, localDelta)
	real, _ := stamp.Add(f.real, realDelta)
	f.local = local
	f.real = real
	return local
}

func (f *Fake) LocalTime() (stamp.Stamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local, nil
}

func (f *Fake) RealTime() (stamp.Stamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.real, nil
}

func (f *Fake) Era() ([EraLen]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.era, nil
}
