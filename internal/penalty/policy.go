package penalty

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

const (
	// Ceiling is the longest penalty handed out without jitter (5 years)
	Ceiling = 5 * 365 * 24 * time.Hour

	// past the ceiling the penalty becomes Ceiling * U(jitterMin, jitterMax)
	jitterMin = 1.0
	jitterMax = 1.7
)

// JitterSource returns a uniformly distributed value in [0, 1)
type JitterSource func() float64

// Penalty is the lockout assigned to an attempt count
type Penalty struct {
	Duration time.Duration
	Capped   bool // Duration was jittered past Ceiling
}

// Verdict is the result of evaluating a count against a penalty window
type Verdict struct {
	Active    bool
	Penalty   Penalty
	Remaining time.Duration
}

// Policy maps attempt counts to lockout durations on an exponential ladder:
// nothing below Threshold, then BaseTimeFrame doubling every Threshold
// further attempts.
type Policy struct {
	threshold     int
	baseTimeFrame time.Duration
	jitter        JitterSource
}

// Option configures a Policy
type Option func(*Policy)

// WithJitterSource replaces the crypto/rand backed jitter source
func WithJitterSource(src JitterSource) Option {
	return func(p *Policy) {
		if src != nil {
			p.jitter = src
		}
	}
}

// NewPolicy creates a Policy. A threshold below 1 is treated as 1.
func NewPolicy(threshold int, baseTimeFrame time.Duration, opts ...Option) *Policy {
	if threshold < 1 {
		threshold = 1
	}
	p := &Policy{
		threshold:     threshold,
		baseTimeFrame: baseTimeFrame,
		jitter:        cryptoJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) Threshold() int               { return p.threshold }
func (p *Policy) BaseTimeFrame() time.Duration { return p.baseTimeFrame }

// Duration returns the lockout for count attempts
func (p *Policy) Duration(count int) Penalty {
	if count < p.threshold {
		return Penalty{}
	}

	tier := (count - p.threshold) / p.threshold
	exponent := tier + 1
	if exponent < 0 {
		exponent = 0
	}

	// float math so huge counts saturate to +Inf instead of overflowing
	seconds := p.baseTimeFrame.Seconds() * math.Pow(2, float64(exponent-1))
	if seconds > Ceiling.Seconds() {
		factor := jitterMin + (jitterMax-jitterMin)*clampUnit(p.jitter())
		return Penalty{
			Duration: time.Duration(Ceiling.Seconds() * factor * float64(time.Second)),
			Capped:   true,
		}
	}

	return Penalty{Duration: time.Duration(seconds * float64(time.Second))}
}

// IsActive reports whether count attempts anchored at anchor are still
// locked at now
func (p *Policy) IsActive(count int, anchor, now time.Time) bool {
	return p.Evaluate(count, anchor, now).Active
}

// Evaluate computes the penalty for count and how much of it remains at now.
// The window is measured from anchor, so every new attempt slides it.
func (p *Policy) Evaluate(count int, anchor, now time.Time) Verdict {
	if count < p.threshold {
		return Verdict{}
	}

	pen := p.Duration(count)
	elapsed := now.Sub(anchor)
	if elapsed >= pen.Duration {
		return Verdict{Penalty: pen}
	}

	return Verdict{
		Active:    true,
		Penalty:   pen,
		Remaining: pen.Duration - elapsed,
	}
}

// RetryAfter returns how long a client rejected at count must wait before its
// next attempt is allowed. That attempt is counted as count+1 and measured
// from the rejected one, so the wait is that penalty in full. Past the
// ceiling it is reported as Ceiling and capped is true.
func (p *Policy) RetryAfter(count int) (wait time.Duration, capped bool) {
	pen := p.Duration(count + 1)
	if pen.Capped {
		return Ceiling, true
	}
	return pen.Duration, false
}

// StaleWindow bounds a range of counts with the age after which a record in
// that range carries no live penalty
type StaleWindow struct {
	MaxCount int
	Age      time.Duration
}

// StaleWindows splits the counts into ascending ranges, each with the age a
// record must reach before it can be deleted: the retention, or the penalty
// its next attempt would receive if that is longer. The last window covers
// every remaining count with the jittered ceiling bound.
func (p *Policy) StaleWindows(retention time.Duration) []StaleWindow {
	var windows []StaleWindow
	add := func(maxCount int, age time.Duration) {
		if age < retention {
			age = retention
		}
		if n := len(windows); n > 0 && windows[n-1].Age == age {
			windows[n-1].MaxCount = maxCount
			return
		}
		if maxCount < 1 {
			return
		}
		windows = append(windows, StaleWindow{MaxCount: maxCount, Age: age})
	}

	// a record at count c is judged at c+1 on its next attempt
	add(p.threshold-2, 0)
	for tier := 0; tier < 64; tier++ {
		seconds := p.baseTimeFrame.Seconds() * math.Pow(2, float64(tier))
		if seconds > Ceiling.Seconds() || p.threshold > math.MaxInt/(tier+3) {
			break
		}
		add(p.threshold*(tier+2)-2, time.Duration(seconds*float64(time.Second)))
	}
	add(math.MaxInt, time.Duration(Ceiling.Seconds()*jitterMax*float64(time.Second)))

	return windows
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}

// cryptoJitter draws from crypto/rand so unlock times cannot be predicted
func cryptoJitter() float64 {
	const precision = 1 << 53
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0
	}
	return float64(n.Int64()) / precision
}
