package byztime

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"byztime/hostclock"
	"byztime/stamp"
)

func TestFreshOpenRWInitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	clock := hostclock.NewFake()

	p, err := OpenRW(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}
	defer p.Close()

	offset, errorBound, _ := p.GetOffsetRaw()
	if errorBound.Sec != math.MaxInt64>>1 {
		t.Errorf("initial error bound sec = %d, want maxint64>>1", errorBound.Sec)
	}
	if offset != stamp.Zero {
		t.Errorf("initial offset = %v, want zero (real and local time both zero in the fake clock)", offset)
	}
}

func TestPublishAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	clock := hostclock.NewFake()

	p, err := OpenRW(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}
	defer p.Close()

	offset := stamp.Stamp{Sec: 5}
	errorBound := stamp.Stamp{Nsec: 500_000_000}
	if err := p.SetOffset(offset, errorBound); err != nil {
		t.Fatalf("SetOffset() = %v", err)
	}

	c, err := OpenRO(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRO() = %v", err)
	}
	defer c.Close()

	min, est, max, err := c.GetOffset()
	if err != nil {
		t.Fatalf("GetOffset() = %v", err)
	}
	if stamp.Cmp(min, est) > 0 || stamp.Cmp(est, max) > 0 {
		t.Errorf("bounds not ordered: min=%v est=%v max=%v", min, est, max)
	}
	if est.Sec != 5 {
		t.Errorf("est.Sec = %d, want 5", est.Sec)
	}
}

func TestReopenAfterRebootRecoversOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	clock := hostclock.NewFake()

	p, err := OpenRW(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}

	clock.Advance(stamp.Stamp{Sec: 10}, stamp.Stamp{Sec: 10})
	if err := p.UpdateRealOffset(); err != nil {
		t.Fatalf("UpdateRealOffset() = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	// Simulate a reboot: local time resets to a fresh era, real time
	// keeps advancing.
	rebooted := hostclock.NewFake()
	rebooted.SetEra([16]byte{1, 2, 3})
	rebooted.SetReal(stamp.Stamp{Sec: 20})

	p2, err := OpenRW(path, WithClock(rebooted))
	if err != nil {
		t.Fatalf("second OpenRW() = %v", err)
	}
	defer p2.Close()

	offset := p2.GetOffsetQuick()
	// global_time (real_time + real_offset) - local_time(0) should be
	// close to real_time(20), since real_offset was computed to make
	// global_time == real_time at the moment UpdateRealOffset ran.
	if offset.Sec < 15 || offset.Sec > 25 {
		t.Errorf("recovered offset.Sec = %d, want roughly 20", offset.Sec)
	}
}

func TestOpenROEraMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	writerClock := hostclock.NewFake()
	writerClock.SetEra([16]byte{9, 9, 9})

	p, err := OpenRW(path, WithClock(writerClock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}
	defer p.Close()

	readerClock := hostclock.NewFake()
	readerClock.SetEra([16]byte{1, 1, 1})

	_, err = OpenRO(path, WithClock(readerClock))
	if !errors.Is(err, ErrEraMismatch) {
		t.Fatalf("OpenRO() = %v, want ErrEraMismatch", err)
	}
}

func TestSlewClampsRateOfChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	clock := hostclock.NewFake()

	p, err := OpenRW(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}
	defer p.Close()

	if err := p.SetOffset(stamp.Stamp{Sec: 0}, stamp.Stamp{Nsec: 1_000_000}); err != nil {
		t.Fatal(err)
	}

	c, err := OpenRO(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRO() = %v", err)
	}
	defer c.Close()

	if err := c.Slew(0, 500_000_000, nil); err != nil {
		t.Fatalf("Slew() = %v", err)
	}

	_, est1, _, err := c.GetOffset()
	if err != nil {
		t.Fatal(err)
	}
	if est1.Sec != 0 {
		t.Fatalf("first slewed estimate = %v, want 0", est1)
	}

	// Provider jumps the offset forward by a huge amount; with a max
	// rate of 0.5x (500_000_000 ppb) and 1 second of elapsed local time,
	// the global time can move at most 0.5s, so the raw jump of 1001s in
	// global time is cut back by the 1000.5s excess: est2 = 1000 -
	// (1001 - 0.5) = -0.5s.
	clock.Advance(stamp.Stamp{Sec: 1}, stamp.Stamp{Sec: 1})
	if err := p.SetOffset(stamp.Stamp{Sec: 1000}, stamp.Stamp{Nsec: 1_000_000}); err != nil {
		t.Fatal(err)
	}

	_, est2, _, err := c.GetOffset()
	if err != nil {
		t.Fatal(err)
	}
	want := stamp.Stamp{Sec: -1, Nsec: 500_000_000}
	if est2 != want {
		t.Errorf("slewed estimate = %v, want %v", est2, want)
	}
}

func TestTruncatedRegionSurfacesProtocolErrorNotCrash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	clock := hostclock.NewFake()

	p, err := OpenRW(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}

	c, err := OpenRO(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRO() = %v", err)
	}
	defer c.Close()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	truncator, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening %s for truncation: %v", path, err)
	}
	if err := truncator.Truncate(0); err != nil {
		t.Fatalf("Truncate() = %v", err)
	}
	truncator.Close()

	_, _, _, err = c.GetOffset()
	if err == nil {
		t.Fatal("GetOffset() = nil after truncation, want an error")
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("GetOffset() = %v, want wrapping ErrProtocol", err)
	}
}

func TestConcurrentReadersDuringPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.dat")
	clock := hostclock.NewFake()

	p, err := OpenRW(path, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenRW() = %v", err)
	}
	defer p.Close()

	var g errgroup.Group
	g.Go(func() error {
		for i := int64(0); i < 50; i++ {
			if err := p.SetOffset(stamp.Stamp{Sec: i}, stamp.Stamp{Nsec: 1}); err != nil {
				return err
			}
		}
		return nil
	})

	for n := 0; n < 4; n++ {
		g.Go(func() error {
			c, err := OpenRO(path, WithClock(clock))
			if err != nil {
				return err
			}
			defer c.Close()
			for i := 0; i < 50; i++ {
				if _, _, _, err := c.GetOffset(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent readers/writer: %v", err)
	}
}
