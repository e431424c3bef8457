package byztime

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"byztime/hostclock"
	"byztime/lockfile"
	"byztime/metrics"
	"byztime/region"
	"byztime/stamp"
)

// Provider is a writable handle on a timedata region: the single
// process responsible for publishing offset estimates that any number
// of Consumers read.
//
// A Provider must not be shared across processes; OpenRW enforces
// this with an exclusive sidecar lock. It is safe to call a Provider's
// methods concurrently from multiple goroutines within one process.
type Provider struct {
	path   string
	file   *os.File
	lock   *lockfile.Lock
	region *region.Region
	clock  hostclock.Clocks
	log    *logrus.Logger
}

// OpenRW opens pathname for read/write access, creating and
// initializing it if it does not already exist or is stale.
//
// Initialization follows the same two invariants the on-disk layout
// is designed to preserve even across a crash mid-write: the magic is
// only ever (re)written last during first-time initialization, and the
// era is only ever (re)written last during reinitialization following
// a reboot. See package region for the layout this protects.
func OpenRW(pathname string, opts ...Option) (*Provider, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	era, err := o.clock.Era()
	if err != nil {
		return nil, fmt.Errorf("byztime: reading clock era: %w", joinClockFailure(err))
	}

	f, err := os.OpenFile(pathname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("byztime: opening %s: %w", pathname, err)
	}

	lock, err := lockfile.Acquire(pathname)
	if err != nil {
		f.Close()
		if errors.Is(err, lockfile.ErrBusy) {
			return nil, fmt.Errorf("byztime: %s: %w", pathname, ErrBusy)
		}
		return nil, fmt.Errorf("byztime: acquiring lock for %s: %w", pathname, err)
	}

	if err := region.EnsureSize(f); err != nil {
		lock.Release()
		f.Close()
		return nil, err
	}

	reg, err := region.Map(f, true)
	if err != nil {
		lock.Release()
		f.Close()
		return nil, err
	}

	p := &Provider{path: pathname, file: f, lock: lock, region: reg, clock: o.clock, log: o.logger}

	if err := p.initOrReinit(era); err != nil {
		reg.Close()
		lock.Release()
		f.Close()
		return nil, err
	}

	// The mutex is reinitialized on every open-for-write: the flock
	// above already guarantees we're the only writer, so forcing it
	// unlocked here can't race anyone, and it recovers from a previous
	// provider dying while it held the mutex.
	reg.Mutex().Reset()

	return p, nil
}

func (p *Provider) initOrReinit(expectedEra [region.EraLen]byte) error {
	storedMagic := p.region.LoadMagic()
	index := p.region.LoadIndexAcquire()

	if storedMagic != region.Magic || index < 0 || index >= region.NumEntries {
		p.log.WithField("path", p.path).Info("initializing new timedata region")
		return p.firstTimeInit(expectedEra)
	}

	storedEra := p.region.LoadEra()
	if storedEra != expectedEra {
		p.log.WithField("path", p.path).Info("clock era changed, reinitializing offset after reboot")
		return p.reinitAfterReboot(expectedEra)
	}

	return nil
}

func (p *Provider) firstTimeInit(expectedEra [region.EraLen]byte) error {
	p.region.StoreRealOffset(stamp.Zero)

	localTime, err := p.clock.LocalTime()
	if err != nil {
		return joinClockFailure(err)
	}
	realTime, err := p.clock.RealTime()
	if err != nil {
		return joinClockFailure(err)
	}
	offset, overflow := stamp.Sub(realTime, localTime)
	if overflow {
		return ErrOverflow
	}

	p.region.WriteEntry(0, offset, initialErrorBound(), localTime)
	p.region.InitIndex(0)
	p.region.StoreEra(expectedEra)
	p.region.StoreMagic(region.Magic)
	return nil
}

func (p *Provider) reinitAfterReboot(expectedEra [region.EraLen]byte) error {
	localTime, err := p.clock.LocalTime()
	if err != nil {
		return joinClockFailure(err)
	}
	realTime, err := p.clock.RealTime()
	if err != nil {
		return joinClockFailure(err)
	}
	realOffset := p.region.LoadRealOffset()
	globalTime, overflow := stamp.Add(realTime, realOffset)
	if overflow {
		return ErrOverflow
	}
	offset, overflow := stamp.Sub(globalTime, localTime)
	if overflow {
		return ErrOverflow
	}

	p.region.WriteEntry(0, offset, initialErrorBound(), localTime)
	p.region.InitIndex(0)
	p.region.StoreEra(expectedEra)
	return nil
}

// initialErrorBound is the error bound written into the first entry of
// a freshly (re)initialized region: the C original uses
// INT64_MAX>>1 seconds, signaling "no idea" until the first real
// SetOffset call.
func initialErrorBound() stamp.Stamp {
	return stamp.Stamp{Sec: math.MaxInt64 >> 1, Nsec: 0}
}

// SetOffset publishes a new (offset, errorBound, asOf) triple. asOf
// defaults to the provider's current local time if omitted; pass an
// explicit Stamp to timestamp an offset computed slightly in the past.
func (p *Provider) SetOffset(offset, errorBound stamp.Stamp, asOf ...stamp.Stamp) error {
	var entryAsOf stamp.Stamp
	if len(asOf) > 0 {
		entryAsOf = asOf[0]
	} else {
		localTime, err := p.clock.LocalTime()
		if err != nil {
			return joinClockFailure(err)
		}
		entryAsOf = localTime
	}

	m := p.region.Mutex()
	m.Lock()
	i := p.region.LoadIndexAcquire() + 1
	if i == region.NumEntries {
		i = 0
	}
	p.region.WriteEntry(i, offset, errorBound, entryAsOf)
	p.region.StoreIndexRelease(i)
	m.Unlock()

	metrics.ObservePublish(offset, errorBound)
	return nil
}

// GetOffsetQuick returns the most recently published offset without
// computing any error bound or drift-adjusted estimate.
func (p *Provider) GetOffsetQuick() stamp.Stamp {
	i := p.region.LoadIndexAcquire()
	offset, _, _ := p.region.ReadEntry(i)
	return offset
}

// GetOffsetRaw returns the exact (offset, errorBound, asOf) triple
// stored by the last call to SetOffset, with no recomputation.
func (p *Provider) GetOffsetRaw() (offset, errorBound, asOf stamp.Stamp) {
	i := p.region.LoadIndexAcquire()
	return p.region.ReadEntry(i)
}

// UpdateRealOffset recomputes and records (global time - real time) in
// the region header, so a future reboot-triggered reinitialization can
// recover a reasonable offset estimate before this provider publishes
// a fresh one.
func (p *Provider) UpdateRealOffset() error {
	i := p.region.LoadIndexAcquire()
	offset, _, _ := p.region.ReadEntry(i)

	localTime, err := p.clock.LocalTime()
	if err != nil {
		return joinClockFailure(err)
	}
	globalTime, overflow := stamp.Add(localTime, offset)
	if overflow {
		return ErrOverflow
	}

	realTime, err := p.clock.RealTime()
	if err != nil {
		return joinClockFailure(err)
	}
	realOffset, overflow := stamp.Sub(globalTime, realTime)
	if overflow {
		return ErrOverflow
	}

	m := p.region.Mutex()
	m.Lock()
	p.region.StoreRealOffset(realOffset)
	m.Unlock()
	return nil
}

// Path returns the path the Provider was opened with.
func (p *Provider) Path() string {
	return p.path
}

// Close unmaps the region, flushing it to disk, and releases the
// sidecar lock so another process may open the same path for writing.
func (p *Provider) Close() error {
	err := p.region.Close()
	if lerr := p.lock.Release(); err == nil {
		err = lerr
	}
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func joinClockFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrClockFailure, err)
}
