package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"byztime/stamp"
)

func TestObservePublishUpdatesGauges(t *testing.T) {
	ObservePublish(stamp.Stamp{Sec: 3, Nsec: 500_000_000}, stamp.Stamp{Sec: 0, Nsec: 250_000})

	if got := testutil.ToFloat64(currentOffsetSeconds); got != 3.5 {
		t.Errorf("currentOffsetSeconds = %v, want 3.5", got)
	}
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(readsTotal)
	ObserveRead()
	if got := testutil.ToFloat64(readsTotal); got != before+1 {
		t.Errorf("readsTotal = %v, want %v", got, before+1)
	}
}
