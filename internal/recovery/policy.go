package recovery

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/config"
)

// Policy encapsulates backoff settings for recovery attempts. It is
// immutable after construction.
type Policy struct {
	Mode        config.RetryBackoffMode // fixed|linear|exponential
	Initial     time.Duration           // base delay
	Max         time.Duration           // cap for growth
	MaxAttempts int                     // bound on recovery attempts per operation
}

// DefaultPolicy returns the baseline policy (linear, 1s initial, 30s cap,
// 3 attempts).
func DefaultPolicy() Policy {
	return Policy{
		Mode:        config.RetryBackoffLinear,
		Initial:     time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 3,
	}
}

// PolicyFromConfig builds a policy from config fields; zero or invalid
// values fall back to defaults.
func PolicyFromConfig(rc config.RetryConfig) Policy {
	p := DefaultPolicy()
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.Initial > 0 {
		p.Initial = rc.Initial.Std()
	}
	if rc.Max > 0 {
		p.Max = rc.Max.Std()
	}
	if m := config.NormalizeRetryBackoff(string(rc.Backoff)); m != "" {
		p.Mode = m
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay before the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	n := attempt - 1
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d := p.Initial * (1 << (n - 1))
		if d > p.Max {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(n) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants hold.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >=1")
	}
	return nil
}
