package hostclock

import (
	"testing"

	"byztime/stamp"
)

func TestFakeRoundTrip(t *testing.T) {
	f := NewFake()
	f.SetLocal(stamp.Stamp{Sec: 100, Nsec: 0})
	f.SetReal(stamp.Stamp{Sec: 1_700_000_000, Nsec: 0})
	f.SetEra([EraLen]byte{1, 2, 3})

	local, err := f.LocalTime()
	if err != nil || local != (stamp.Stamp{Sec: 100, Nsec: 0}) {
		t.Fatalf("LocalTime() = %v, %v", local, err)
	}

	real, err := f.RealTime()
	if err != nil || real != (stamp.Stamp{Sec: 1_700_000_000, Nsec: 0}) {
		t.Fatalf("RealTime() = %v, %v", real, err)
	}

	era, err := f.Era()
	if err != nil || era != [EraLen]byte{1, 2, 3} {
		t.Fatalf("Era() = %v, %v", era, err)
	}
}

func TestFakeAdvance(t *testing.T) {
	f := NewFake()
	f.SetLocal(stamp.Stamp{Sec: 10, Nsec: 0})

	got := f.Advance(stamp.Stamp{Sec: 5, Nsec: 0}, stamp.Zero)
	want := stamp.Stamp{Sec: 15, Nsec: 0}
	if got != want {
		t.Fatalf("Advance() = %v, want %v", got, want)
	}

	local, _ := f.LocalTime()
	if local != want {
		t.Fatalf("LocalTime() after Advance = %v, want %v", local, want)
	}
}
