package byztime

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"byztime/faultguard"
	"byztime/hostclock"
	"byztime/metrics"
	"byztime/region"
	"byztime/stamp"
)

// defaultDriftPPB is the drift rate assumed for a Consumer's error
// bound until SetDrift is called, matching the C original's
// default_drift_ppb.
const defaultDriftPPB = int64(250_000)

// Consumer is a read-only handle on a timedata region, used to
// estimate the current offset between local time and the global time
// its Provider is publishing.
//
// It is safe to call a Consumer's methods concurrently from multiple
// goroutines within one process; the Consumer does not itself need a
// sidecar lock since any number of readers may share a region.
type Consumer struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	region *region.Region
	clock  hostclock.Clocks
	log    *logrus.Logger

	era [region.EraLen]byte

	driftPPB int64
	slewing  bool
	minRate  int64
	maxRate  int64
	slew     slewState
}

// OpenRO opens pathname for read-only access.
//
// It fails with ErrProtocol if pathname does not point to a
// correctly-formatted timedata region, and with ErrEraMismatch if the
// region's recorded clock era does not match the current boot — which
// usually means its provider is not running under this kernel session.
func OpenRO(pathname string, opts ...Option) (*Consumer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	expectedEra, err := o.clock.Era()
	if err != nil {
		return nil, fmt.Errorf("byztime: reading clock era: %w", joinClockFailure(err))
	}

	f, err := os.Open(pathname)
	if err != nil {
		return nil, fmt.Errorf("byztime: opening %s: %w", pathname, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("byztime: stat %s: %w", pathname, err)
	}
	if info.Size() < region.Size {
		f.Close()
		return nil, fmt.Errorf("byztime: %s: %w", pathname, ErrProtocol)
	}

	reg, err := region.Map(f, false)
	if err != nil {
		f.Close()
		return nil, err
	}

	c := &Consumer{path: pathname, file: f, region: reg, clock: o.clock, log: o.logger, driftPPB: defaultDriftPPB}

	var magic [region.MagicLen]byte
	var storedEra [region.EraLen]byte
	guardErr := faultguard.Guarded(func() {
		magic = reg.LoadMagic()
		storedEra = reg.LoadEra()
	})
	if guardErr != nil {
		metrics.ObserveRecoveredFault()
		o.logger.WithField("path", pathname).Warn("recovered fault reading timedata region header")
		reg.Close()
		f.Close()
		return nil, fmt.Errorf("byztime: %s: %w", pathname, ErrProtocol)
	}
	if magic != region.Magic {
		reg.Close()
		f.Close()
		return nil, fmt.Errorf("byztime: %s: %w", pathname, ErrProtocol)
	}
	if storedEra != expectedEra {
		reg.Close()
		f.Close()
		metrics.ObserveEraMismatch()
		o.logger.WithField("path", pathname).Warn("timedata region clock era does not match current boot")
		return nil, fmt.Errorf("byztime: %s: %w", pathname, ErrEraMismatch)
	}

	c.era = expectedEra
	return c, nil
}

// getAndValidateEntry copies the entry the writer index currently
// points at out of the mapping and validates it, under faultguard so a
// concurrently truncated backing file surfaces as ErrProtocol instead
// of crashing this process.
func (c *Consumer) getAndValidateEntry() (offset, errorBound, asOf stamp.Stamp, err error) {
	var valid bool
	guardErr := faultguard.Guarded(func() {
		i := c.region.LoadIndexAcquire()
		if i < 0 || i >= region.NumEntries {
			return
		}
		offset, errorBound, asOf = c.region.ReadEntry(i)
		valid = region.ValidateEntry(offset, errorBound, asOf)
	})
	if guardErr != nil {
		metrics.ObserveRecoveredFault()
		c.log.WithField("path", c.path).Warn("recovered fault reading timedata entry, backing file may have been truncated")
		return stamp.Zero, stamp.Zero, stamp.Zero, ErrProtocol
	}
	if !valid {
		metrics.ObserveProtocolError()
		return stamp.Zero, stamp.Zero, stamp.Zero, ErrProtocol
	}
	metrics.ObserveRead()
	return offset, errorBound, asOf, nil
}

// SetDrift sets the drift rate, in parts per billion, assumed when
// widening the error bound by the age of the last published entry.
// driftPPB must be non-negative: a negative drift would imply the
// error bound could shrink simply by waiting, which the error bound's
// contract does not allow.
func (c *Consumer) SetDrift(driftPPB int64) error {
	if driftPPB < 0 {
		return fmt.Errorf("byztime: drift %d ppb must be non-negative: %w", driftPPB, ErrOutOfRange)
	}
	c.mu.Lock()
	c.driftPPB = driftPPB
	c.mu.Unlock()
	return nil
}

// GetDrift returns the drift rate currently in effect.
func (c *Consumer) GetDrift() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driftPPB
}

// Slew switches the Consumer into slew mode: future calls to
// GetOffset and GetGlobalTime clamp their estimate's rate of change to
// [minRatePPB, maxRatePPB] relative to the previous call, rather than
// jumping discontinuously to the midpoint of the new bounds. Pass
// maxPPB as maxRatePPB for no upper bound.
//
// If maxError is non-nil and the current error bound exceeds it,
// Slew refuses to engage and returns ErrOutOfRange, leaving the
// Consumer in whatever mode it was in before: it is unwise to start
// slewing before the clock is known to be reasonably accurate, since a
// large correction could then take a long time to catch up with.
func (c *Consumer) Slew(minRatePPB, maxRatePPB int64, maxError *stamp.Stamp) error {
	_, errorBound, _, err := c.getAndValidateEntry()
	if err != nil {
		return err
	}
	if maxError != nil && stamp.Cmp(errorBound, *maxError) > 0 {
		return ErrOutOfRange
	}

	c.mu.Lock()
	c.slewing = true
	c.minRate = minRatePPB
	c.maxRate = maxRatePPB
	c.slew = slewState{}
	c.mu.Unlock()
	return nil
}

// Step switches the Consumer back to step mode, where each call to
// GetOffset or GetGlobalTime returns the midpoint of the current
// bounds directly, discontinuities and all.
func (c *Consumer) Step() {
	c.mu.Lock()
	c.slewing = false
	c.mu.Unlock()
}

func (c *Consumer) getLocalTimeAndOffset() (localTime, min, est, max stamp.Stamp, err error) {
	c.mu.Lock()
	driftPPB := c.driftPPB
	slewing := c.slewing
	minRate, maxRate := c.minRate, c.maxRate
	slew := c.slew
	c.mu.Unlock()

	driftPPBx2, of := mulOverflowCheck(driftPPB, 2)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}

	entryOffset, errorBound, asOf, err := c.getAndValidateEntry()
	if err != nil {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, err
	}

	localTime, err = c.clock.LocalTime()
	if err != nil {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, joinClockFailure(err)
	}

	age, of := stamp.Sub(localTime, asOf)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	scaledAge, of := stamp.Scale(age, driftPPBx2)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	totalError, of := stamp.Add(errorBound, scaledAge)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	min, of = stamp.Sub(entryOffset, totalError)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	max, of = stamp.Add(entryOffset, totalError)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}

	if slewing {
		var newSlew slewState
		est, newSlew, of = clampEstimate(entryOffset, localTime, minRate, maxRate, slew)
		if of {
			return stamp.Zero, stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
		}
		c.mu.Lock()
		c.slew = newSlew
		c.mu.Unlock()
	} else {
		est = entryOffset
	}

	return localTime, min, est, max, nil
}

// GetOffset returns bounds and an estimate of the offset (global time
// minus local time): min <= true offset <= max is guaranteed absent an
// integer overflow or faulty provider, and est is the current estimate
// subject to slew clamping if enabled.
func (c *Consumer) GetOffset() (min, est, max stamp.Stamp, err error) {
	_, min, est, max, err = c.getLocalTimeAndOffset()
	return min, est, max, err
}

// GetGlobalTime returns bounds and an estimate of the current global
// time. Unlike est, min and max bound the actual global time, not
// other nodes' estimate of it: a correct node's bounds are guaranteed
// to overlap this one's, but its est is not guaranteed to fall within
// this node's [min, max].
func (c *Consumer) GetGlobalTime() (min, est, max stamp.Stamp, err error) {
	localTime, min, est, max, err := c.getLocalTimeAndOffset()
	if err != nil {
		return stamp.Zero, stamp.Zero, stamp.Zero, err
	}

	var of bool
	min, of = stamp.Add(min, localTime)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	est, of = stamp.Add(est, localTime)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	max, of = stamp.Add(max, localTime)
	if of {
		return stamp.Zero, stamp.Zero, stamp.Zero, ErrOverflow
	}
	return min, est, max, nil
}

// Path returns the path the Consumer was opened with.
func (c *Consumer) Path() string {
	return c.path
}

// Close unmaps the region and closes the underlying file.
func (c *Consumer) Close() error {
	err := c.region.Close()
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func mulOverflowCheck(a, b int64) (int64, bool) {
	prod := a * b
	if a != 0 && prod/a != b {
		return prod, true
	}
	return prod, false
}
