package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrUnknownCondition is returned when a condition symbol cannot be parsed.
var ErrUnknownCondition = errors.New("unknown condition")

// Condition is the comparison a trigger applies between a sample value and
// its threshold. The zero value is invalid.
type Condition uint8

const (
	ConditionInvalid Condition = iota
	GreaterThan
	LessThan
	Equal
	NotEqual
)

type conditionSpec struct {
	symbol  string
	compare func(value, threshold float64) bool
}

var conditions = map[Condition]conditionSpec{
	GreaterThan: {">", func(v, t float64) bool { return v > t }},
	LessThan:    {"<", func(v, t float64) bool { return v < t }},
	// Exact IEEE-754 equality. Fragile for measured values but kept as defined
	// by the trigger schema.
	Equal:    {"==", func(v, t float64) bool { return v == t }},
	NotEqual: {"!=", func(v, t float64) bool { return v != t }},
}

// ParseCondition converts a symbol (">", "<", "==", "!=") into a Condition.
func ParseCondition(s string) (Condition, error) {
	for c, spec := range conditions {
		if spec.symbol == s {
			return c, nil
		}
	}
	return ConditionInvalid, fmt.Errorf("%w: %q", ErrUnknownCondition, s)
}

// Valid reports whether c is one of the supported operators.
func (c Condition) Valid() bool {
	_, ok := conditions[c]
	return ok
}

// Compare applies the operator. Invalid conditions never match.
func (c Condition) Compare(value, threshold float64) bool {
	spec, ok := conditions[c]
	if !ok {
		return false
	}
	return spec.compare(value, threshold)
}

func (c Condition) String() string {
	if spec, ok := conditions[c]; ok {
		return spec.symbol
	}
	return fmt.Sprintf("Condition(%d)", uint8(c))
}

func (c Condition) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCondition, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Condition) UnmarshalText(text []byte) error {
	parsed, err := ParseCondition(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the condition as its symbol.
func (c Condition) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCondition, uint8(c))
	}
	return c.String(), nil
}

func (c *Condition) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case nil:
		*c = ConditionInvalid
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Condition", src)
	}
}

// GormDataType keeps the column a string on every driver.
func (Condition) GormDataType() string {
	return "string"
}
