package attendance

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/okian/resultportal/internal/domain/geo"
)

// Defaults used when no option overrides them.
const (
	DefaultReferenceLat  = 22.81713251852116
	DefaultReferenceLon  = 72.47335209589137
	DefaultMaxDistanceKm = 0.2
)

// Reason explains a Verdict for user-facing messaging. It never changes
// the Eligible outcome.
type Reason string

// Verdict reasons.
const (
	ReasonBypassed        Reason = "bypassed"
	ReasonLocationMissing Reason = "location_missing"
	ReasonWithinRadius    Reason = "within_radius"
	ReasonOutOfRange      Reason = "out_of_range"
)

// Verdict is the outcome of an eligibility evaluation. DistanceKm is only
// meaningful when Measured is true.
type Verdict struct {
	Eligible   bool    `json:"eligible"`
	Measured   bool    `json:"measured"`
	DistanceKm float64 `json:"distance_km"`
	Reason     Reason  `json:"reason"`
}

// MarshalJSON emits distance_km whenever a distance was measured, zero
// included, and omits it otherwise.
func (v Verdict) MarshalJSON() ([]byte, error) {
	type wire struct {
		Eligible   bool     `json:"eligible"`
		Measured   bool     `json:"measured"`
		DistanceKm *float64 `json:"distance_km,omitempty"`
		Reason     Reason   `json:"reason"`
	}
	w := wire{Eligible: v.Eligible, Measured: v.Measured, Reason: v.Reason}
	if v.Measured {
		d := v.DistanceKm
		w.DistanceKm = &d
	}
	return json.Marshal(w)
}

// Distance returns the measured distance and whether one exists.
func (v Verdict) Distance() (float64, bool) {
	return v.DistanceKm, v.Measured
}

// Evaluate applies the proximity rules in order:
//  1. Leave is always eligible and nothing is measured.
//  2. A missing current location is never eligible.
//  3. Otherwise the distance to reference must be <= maxDistanceKm.
func Evaluate(status Status, current *geo.Coordinate, reference geo.Coordinate, maxDistanceKm float64) Verdict {
	if !status.RequiresLocation() {
		return Verdict{Eligible: true, Reason: ReasonBypassed}
	}
	if current == nil {
		return Verdict{Eligible: false, Reason: ReasonLocationMissing}
	}
	d := geo.DistanceKm(*current, reference)
	if d <= maxDistanceKm {
		return Verdict{Eligible: true, Measured: true, DistanceKm: d, Reason: ReasonWithinRadius}
	}
	return Verdict{Eligible: false, Measured: true, DistanceKm: d, Reason: ReasonOutOfRange}
}

// Policy carries the reference point and radius for Evaluate.
type Policy struct {
	reference     geo.Coordinate
	maxDistanceKm float64
}

// Option configures a Policy.
type Option func(*Policy)

// WithReference sets the school coordinate.
func WithReference(c geo.Coordinate) Option {
	return func(p *Policy) {
		p.reference = c
	}
}

// WithMaxDistanceKm sets the allowed radius.
func WithMaxDistanceKm(km float64) Option {
	return func(p *Policy) {
		p.maxDistanceKm = km
	}
}

// NewPolicy builds a Policy from the defaults and opts, rejecting a
// reference outside valid ranges or a non-positive radius.
func NewPolicy(opts ...Option) (Policy, error) {
	p := Policy{
		reference:     geo.New(DefaultReferenceLat, DefaultReferenceLon),
		maxDistanceKm: DefaultMaxDistanceKm,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.reference.Validate(); err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if p.maxDistanceKm <= 0 || math.IsNaN(p.maxDistanceKm) || math.IsInf(p.maxDistanceKm, 0) {
		return Policy{}, fmt.Errorf("%w: max distance %v must be a positive number", ErrInvalidPolicy, p.maxDistanceKm)
	}
	return p, nil
}

// Evaluate applies the package-level Evaluate with p's configuration.
func (p Policy) Evaluate(status Status, current *geo.Coordinate) Verdict {
	return Evaluate(status, current, p.reference, p.maxDistanceKm)
}

// Reference returns the configured school coordinate.
func (p Policy) Reference() geo.Coordinate { return p.reference }

// MaxDistanceKm returns the configured radius.
func (p Policy) MaxDistanceKm() float64 { return p.maxDistanceKm }
