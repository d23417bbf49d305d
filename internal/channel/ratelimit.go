package channel

import (
	"time"

	"golang.org/x/time/rate"
)

// timeNow is swapped by rate-limit tests.
var timeNow = time.Now

const (
	// controlRate is the control-plane message budget per connection.
	controlRate = 10 // messages per second

	// audioByteRate caps the audio ingress per connection.
	audioByteRate = 1 << 20 // bytes per second

	// maxStrikes closes the connection after this many consecutive
	// rate-limit violations.
	maxStrikes = 3
)

// limits holds the per-connection token buckets. Accessed only by the
// owning connection's task; no locking needed.
type limits struct {
	control *rate.Limiter
	audio   *rate.Limiter
	strikes int
}

func newLimits(controlPerSec float64, audioBytesPerSec int) *limits {
	return &limits{
		control: rate.NewLimiter(rate.Limit(controlPerSec), int(controlPerSec)),
		audio:   rate.NewLimiter(rate.Limit(audioBytesPerSec), audioBytesPerSec),
	}
}

// allowControl consumes one control-plane token. A refusal counts as a
// strike; any allowed message resets the consecutive count.
func (l *limits) allowControl() bool {
	if l.control.Allow() {
		l.strikes = 0
		return true
	}
	l.strikes++
	return false
}

// allowAudio consumes n bytes from the audio budget. Frames larger than the
// bucket capacity can never be admitted and always count as violations.
func (l *limits) allowAudio(n int) bool {
	if n <= l.audio.Burst() && l.audio.AllowN(timeNow(), n) {
		l.strikes = 0
		return true
	}
	l.strikes++
	return false
}

// exhausted reports whether the violation budget is spent.
func (l *limits) exhausted() bool { return l.strikes >= maxStrikes }
