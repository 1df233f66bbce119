// Package grading turns subject marks into totals, a percentage, a grade
// band and a pass flag, and ranks results within a class.
package grading

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/resultportal/internal/domain/model"
)

const (
	defaultPassPercent = 33.0
	percentScale       = 100
)

// Band maps a minimum percentage to a grade label.
type Band struct {
	Min   float64
	Grade string
}

// DefaultBands is the nine-point scale, highest first.
func DefaultBands() []Band {
	return []Band{
		{Min: 91, Grade: "A1"},
		{Min: 81, Grade: "A2"},
		{Min: 71, Grade: "B1"},
		{Min: 61, Grade: "B2"},
		{Min: 51, Grade: "C1"},
		{Min: 41, Grade: "C2"},
		{Min: 33, Grade: "D"},
		{Min: 0, Grade: "E"},
	}
}

// Option applies a configuration option to the Grader.
type Option func(*Grader)

// WithBands replaces the grade bands. Bands are sorted highest first.
func WithBands(bands []Band) Option {
	return func(g *Grader) {
		if len(bands) == 0 {
			return
		}
		g.bands = append([]Band(nil), bands...)
		sort.SliceStable(g.bands, func(i, j int) bool { return g.bands[i].Min > g.bands[j].Min })
	}
}

// WithPassPercent sets the per-subject pass threshold.
func WithPassPercent(p float64) Option {
	return func(g *Grader) {
		if p > 0 && p <= percentScale {
			g.passPercent = p
		}
	}
}

// Grader computes derived marksheet fields.
type Grader struct {
	bands       []Band
	passPercent float64
}

// New creates a Grader with the default scale.
func New(opts ...Option) *Grader {
	g := &Grader{
		bands:       DefaultBands(),
		passPercent: defaultPassPercent,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks the marks of r without modifying it.
func (g *Grader) Validate(r *model.Result) error {
	if len(r.Subjects) == 0 {
		return ErrNoSubjects
	}
	seen := make(map[string]struct{}, len(r.Subjects))
	for _, s := range r.Subjects {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("%w: empty subject name", ErrInvalidMarks)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: subject %q listed twice", ErrInvalidMarks, name)
		}
		seen[key] = struct{}{}
		if !finite(s.Max) || s.Max <= 0 {
			return fmt.Errorf("%w: %s max must be a positive finite number", ErrInvalidMarks, name)
		}
		if !finite(s.Obtained) || s.Obtained < 0 || s.Obtained > s.Max {
			return fmt.Errorf("%w: %s obtained %v outside [0, %v]", ErrInvalidMarks, name, s.Obtained, s.Max)
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Grade validates r and fills TotalObtained, TotalMax, Percentage, Grade and Pass.
func (g *Grader) Grade(r *model.Result) error {
	if err := g.Validate(r); err != nil {
		return err
	}
	var obtained, total float64
	pass := true
	for _, s := range r.Subjects {
		obtained += s.Obtained
		total += s.Max
		if s.Obtained*percentScale/s.Max < g.passPercent {
			pass = false
		}
	}
	r.TotalObtained = obtained
	r.TotalMax = total
	r.Percentage = round2(obtained * percentScale / total)
	r.Grade = g.band(r.Percentage)
	r.Pass = pass
	return nil
}

func (g *Grader) band(pct float64) string {
	for _, b := range g.bands {
		if pct >= b.Min {
			return b.Grade
		}
	}
	return g.bands[len(g.bands)-1].Grade
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Rank assigns competition ranks (1, 2, 2, 4) by percentage descending
// within one class. Ties share a rank. The slice is reordered.
func Rank(results []*model.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Percentage != results[j].Percentage {
			return results[i].Percentage > results[j].Percentage
		}
		return results[i].GRNumber < results[j].GRNumber
	})
	for i, r := range results {
		if i > 0 && r.Percentage == results[i-1].Percentage {
			r.Rank = results[i-1].Rank
			continue
		}
		r.Rank = i + 1
	}
}
