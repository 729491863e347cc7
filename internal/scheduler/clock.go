package scheduler

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
)

type realClock struct{}

// NewClock returns the wall clock used outside tests.
func NewClock() core.Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTicker(d time.Duration) core.Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
