package monitor

import (
	"fmt"
	"time"
)

// Policy decides whether a check with overdue loans produces a notification.
type Policy string

const (
	// PolicyAlways notifies on every check whose count is above zero.
	PolicyAlways Policy = "always"
	// PolicyOnChange notifies only when the count differs from the last notified one.
	// A check that finds nothing overdue resets it.
	PolicyOnChange Policy = "on-change"
)

// ParsePolicy maps a configuration value to a Policy. Empty means PolicyAlways.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAlways:
		return PolicyAlways, nil
	case PolicyOnChange:
		return PolicyOnChange, nil
	default:
		return "", fmt.Errorf("%w: unknown notify policy %q", ErrInvalidConfig, s)
	}
}

// Config holds the monitor's tunables.
type Config struct {
	// PollInterval is the time between the start of one check's wait and the next check. Default: 10s
	PollInterval time.Duration

	// Slice is the sleep granularity; it bounds how long a stop request can go unnoticed. Default: 1s
	Slice time.Duration

	// Policy controls repeated notifications. Default: PolicyAlways
	Policy Policy

	// MaxListed caps the loan IDs attached to a notification. Zero disables listing.
	MaxListed int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		Slice:        1 * time.Second,
		Policy:       PolicyAlways,
		MaxListed:    50,
	}
}

// Validate reports whether the config can drive a monitor.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalidConfig, c.PollInterval)
	}
	if c.Slice <= 0 {
		return fmt.Errorf("%w: slice must be positive, got %v", ErrInvalidConfig, c.Slice)
	}
	if c.Slice > c.PollInterval {
		return fmt.Errorf("%w: slice %v exceeds poll interval %v", ErrInvalidConfig, c.Slice, c.PollInterval)
	}
	if c.MaxListed < 0 {
		return fmt.Errorf("%w: max listed must not be negative", ErrInvalidConfig)
	}
	_, err := ParsePolicy(string(c.Policy))
	return err
}
