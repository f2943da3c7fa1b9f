package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the request fell outside [1s, max] and was clamped.
	LeaseSourceClamped LeaseSource = "clamped"
)

// maxLease bounds heartbeats so a stuck worker cannot hold a queue entry for days.
const maxLease = 24 * time.Hour

// LeasePolicy normalises lease durations for queue reservations and heartbeats.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// Clamped reports whether the requested value was clamped.
func (d LeaseDecision) Clamped() bool {
	return d.Source == LeaseSourceClamped
}

// Duration returns the resolved lease as a time.Duration.
func (d LeaseDecision) Duration() time.Duration {
	return time.Duration(d.Seconds) * time.Second
}

// Resolve normalises the requested duration to whole seconds. Zero selects the default.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request, Source: LeaseSourceExplicit}
	if request == 0 {
		request = p.Default()
		decision.Source = LeaseSourceDefault
	}

	switch {
	case request < time.Second:
		decision.Seconds = 1
		decision.Source = LeaseSourceClamped
	case request > maxLease:
		decision.Seconds = int(maxLease / time.Second)
		decision.Source = LeaseSourceClamped
	default:
		decision.Seconds = int(request / time.Second)
	}
	return decision
}
