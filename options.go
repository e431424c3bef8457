package byztime

import (
	"github.com/sirupsen/logrus"

	"byztime/hostclock"
)

// Option configures a Provider or Consumer at open time.
type Option func(*options)

type options struct {
	clock  hostclock.Clocks
	logger *logrus.Logger
}

func defaultOptions() *options {
	return &options{
		clock:  hostclock.NewSystem(),
		logger: logrus.StandardLogger(),
	}
}

// WithClock overrides the Clocks implementation used to read local
// time, real time, and the clock era. Tests use this to inject
// hostclock.NewFake instead of the real host clock, the way the
// teacher's nowfn variable let clock_test.go mock time56.SystemNanoTime
// — generalized to an injected value since a Provider/Consumer here is
// a value any number of callers may construct concurrently, not a
// single package-level clock.
func WithClock(c hostclock.Clocks) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the *logrus.Logger used for lifecycle logging
// (region init/reinit, era mismatches, recovered faults). Passing nil
// falls back to logrus.StandardLogger(), the default.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = logrus.StandardLogger()
		}
		o.logger = l
	}
}
