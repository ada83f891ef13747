package commission

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Tier is one turnover band. Bounds are in major currency units and the band
// covers [MinTurnover, MaxTurnover); a nil MaxTurnover is unbounded.
type Tier struct {
	Name        string
	MinTurnover decimal.Decimal
	MaxTurnover *decimal.Decimal
	Rate        decimal.Decimal
}

// Contains reports whether turnover falls inside the band.
func (t Tier) Contains(turnover decimal.Decimal) bool {
	if turnover.LessThan(t.MinTurnover) {
		return false
	}
	return t.MaxTurnover == nil || turnover.LessThan(*t.MaxTurnover)
}

// Schedule is a versioned, ordered list of tiers. Tiers are sorted by
// MinTurnover ascending; a Schedule is never mutated after Validate.
type Schedule struct {
	Version string
	Tiers   []Tier
}

// Validate checks that bands start at zero, are contiguous and
// non-overlapping, end unbounded and carry non-increasing rates in [0,1].
func (s *Schedule) Validate() error {
	if s == nil || len(s.Tiers) == 0 {
		return fmt.Errorf("commission schedule has no tiers")
	}
	if strings.TrimSpace(s.Version) == "" {
		return fmt.Errorf("commission schedule version is required")
	}
	if !s.Tiers[0].MinTurnover.IsZero() {
		return fmt.Errorf("tier %q must start at 0", s.Tiers[0].Name)
	}
	for i, tier := range s.Tiers {
		if !validRate(tier.Rate) {
			return fmt.Errorf("tier %q rate %s outside [0,1] or finer than %d decimals", tier.Name, tier.Rate, RateScale)
		}
		last := i == len(s.Tiers)-1
		if last {
			if tier.MaxTurnover != nil {
				return fmt.Errorf("top tier %q must be unbounded", tier.Name)
			}
			continue
		}
		if tier.MaxTurnover == nil {
			return fmt.Errorf("tier %q is unbounded but is not the top tier", tier.Name)
		}
		if !tier.MaxTurnover.GreaterThan(tier.MinTurnover) {
			return fmt.Errorf("tier %q has empty range", tier.Name)
		}
		next := s.Tiers[i+1]
		if !next.MinTurnover.Equal(*tier.MaxTurnover) {
			return fmt.Errorf("tier %q does not start where %q ends", next.Name, tier.Name)
		}
		if next.Rate.GreaterThan(tier.Rate) {
			return fmt.Errorf("tier %q rate increases over %q", next.Name, tier.Name)
		}
	}
	return nil
}

// Match returns the band containing turnover, scanning from the top band
// down so the unbounded tier wins for large values.
func (s *Schedule) Match(turnover decimal.Decimal) (Tier, bool) {
	for i := len(s.Tiers) - 1; i >= 0; i-- {
		if s.Tiers[i].Contains(turnover) {
			return s.Tiers[i], true
		}
	}
	return Tier{}, false
}

// Lowest returns the entry band.
func (s *Schedule) Lowest() Tier {
	return s.Tiers[0]
}

// DefaultSchedule is used when no schedule file is configured.
func DefaultSchedule() *Schedule {
	growth := decimal.NewFromInt(5000)
	scale := decimal.NewFromInt(20000)
	return &Schedule{
		Version: "2026-01-default",
		Tiers: []Tier{
			{Name: "starter", MinTurnover: decimal.Zero, MaxTurnover: &growth, Rate: decimal.RequireFromString("0.10")},
			{Name: "growth", MinTurnover: growth, MaxTurnover: &scale, Rate: decimal.RequireFromString("0.08")},
			{Name: "scale", MinTurnover: scale, Rate: decimal.RequireFromString("0.06")},
		},
	}
}

type scheduleDocument struct {
	Version string         `yaml:"version"`
	Tiers   []tierDocument `yaml:"tiers"`
}

type tierDocument struct {
	Name        string `yaml:"name"`
	MinTurnover string `yaml:"min_turnover"`
	MaxTurnover string `yaml:"max_turnover,omitempty"`
	Rate        string `yaml:"rate"`
}

// ParseSchedule decodes and validates a YAML schedule document:
//
//	version: 2026-03
//	tiers:
//	  - {name: starter, min_turnover: "0", max_turnover: "5000", rate: "0.10"}
//	  - {name: growth, min_turnover: "5000", rate: "0.08"}
func ParseSchedule(data []byte) (*Schedule, error) {
	var doc scheduleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing commission schedule: %w", err)
	}

	schedule := &Schedule{Version: strings.TrimSpace(doc.Version)}
	for _, raw := range doc.Tiers {
		tier := Tier{Name: strings.TrimSpace(raw.Name)}

		minTurnover, err := decimal.NewFromString(strings.TrimSpace(raw.MinTurnover))
		if err != nil {
			return nil, fmt.Errorf("tier %q min_turnover: %w", raw.Name, err)
		}
		tier.MinTurnover = minTurnover

		if maxRaw := strings.TrimSpace(raw.MaxTurnover); maxRaw != "" {
			maxTurnover, err := decimal.NewFromString(maxRaw)
			if err != nil {
				return nil, fmt.Errorf("tier %q max_turnover: %w", raw.Name, err)
			}
			tier.MaxTurnover = &maxTurnover
		}

		rate, err := decimal.NewFromString(strings.TrimSpace(raw.Rate))
		if err != nil {
			return nil, fmt.Errorf("tier %q rate: %w", raw.Name, err)
		}
		tier.Rate = rate

		schedule.Tiers = append(schedule.Tiers, tier)
	}

	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return schedule, nil
}

// LoadSchedule reads the schedule at path, or returns DefaultSchedule when
// path is empty.
func LoadSchedule(path string) (*Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSchedule(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading commission schedule %s: %w", path, err)
	}
	return ParseSchedule(data)
}
