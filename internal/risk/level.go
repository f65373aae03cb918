package risk

import (
	"strings"

	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Level scales how much of the budget a task may put at risk.
type Level uint8

const (
	_level_beg Level = iota
	LevelConservative
	LevelModerate
	LevelAggressive
	_level_end
)

var (
	exposureMultipliers = map[Level]decimal.Decimal{
		LevelConservative: decimal.RequireFromString("0.5"),
		LevelModerate:     decimal.RequireFromString("0.8"),
		LevelAggressive:   decimal.NewFromInt(1),
	}
	orderCapFractions = map[Level]decimal.Decimal{
		LevelConservative: decimal.RequireFromString("0.25"),
		LevelModerate:     decimal.RequireFromString("0.5"),
		LevelAggressive:   decimal.NewFromInt(1),
	}
)

func (l Level) IsAvailable() bool {
	return l > _level_beg && l < _level_end
}

func (l Level) String() string {
	switch l {
	case LevelConservative:
		return "conservative"
	case LevelModerate:
		return "moderate"
	case LevelAggressive:
		return "aggressive"
	default:
		return ""
	}
}

// ExposureMultiplier is the share of the budget the whole position may use.
func (l Level) ExposureMultiplier() decimal.Decimal {
	return exposureMultipliers[l]
}

// OrderCapFraction is the share of the budget a single order may use.
func (l Level) OrderCapFraction() decimal.Decimal {
	return orderCapFractions[l]
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative", "low":
		return LevelConservative, nil
	case "moderate", "medium":
		return LevelModerate, nil
	case "aggressive", "high":
		return LevelAggressive, nil
	default:
		return 0, errors.Wrapf(exception.ErrUnknownRiskLevel, "level: %q", s)
	}
}

// UnmarshalText lets config files spell the level by name.
func (l *Level) UnmarshalText(b []byte) error {
	level, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.IsAvailable() {
		return nil, errors.Wrapf(exception.ErrUnknownRiskLevel, "level: %d", l)
	}
	return []byte(l.String()), nil
}
