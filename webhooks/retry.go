package webhooks

import "time"

const (
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute
)

// RetryPolicy maps the attempt that just failed to the wait before the next.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialRetryPolicy doubles from Initial per failed attempt and never
// exceeds Max: 1s, 2s, 4s ... with the defaults.
type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = DefaultRetryBaseDelay
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = DefaultRetryMaxDelay
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}
