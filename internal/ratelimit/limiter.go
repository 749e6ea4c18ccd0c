package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPolicy is the policy unknown names fall back to.
const DefaultPolicy = "default"

var (
	ErrConfiguration = errors.New("invalid rate limit policy")
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
)

type Policy struct {
	Name     string
	Window   time.Duration // how long a subject stays suppressed after admission
	Capacity int           // max subjects tracked at once
}

// Validate reports ErrConfiguration for a policy that cannot back a store.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrConfiguration)
	case p.Window <= 0:
		return fmt.Errorf("%w: %s: window must be positive, got %s", ErrConfiguration, p.Name, p.Window)
	case p.Capacity <= 0:
		return fmt.Errorf("%w: %s: capacity must be positive, got %d", ErrConfiguration, p.Name, p.Capacity)
	}
	return nil
}

type Decision struct {
	Allowed   bool
	Policy    string    // policy that actually decided, after fallback
	ExpiresAt time.Time // end of the subject's current window (zero if unknown)
}

// Limiter admits at most one event per subject per policy window.
// A suppressed attempt never extends the window.
type Limiter interface {
	Register(p Policy) error
	Allow(ctx context.Context, policy, subject string, now time.Time) (Decision, error)
	Close() error
}

func IsConfigurationError(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsUnknownPolicyError(err error) bool { return errors.Is(err, ErrUnknownPolicy) }
