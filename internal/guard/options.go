package guard

import "time"

// Option configures a Guard.
type Option func(*Guard)

// WithTimeout sets the per round-trip timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}
