package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/recsplit/pkg/errors"
)

// Rule is a single check on one field of a record.
type Rule interface {
	Name() string
	Field() string
	// Check returns false and a message when value fails. present is
	// false when the record has no such field.
	Check(value string, present bool) (string, bool)
}

// NotEmptyRule requires a non-blank value.
type NotEmptyRule struct {
	field string
}

func NewNotEmptyRule(field string) *NotEmptyRule {
	return &NotEmptyRule{field: field}
}

func (r *NotEmptyRule) Name() string  { return "not_empty" }
func (r *NotEmptyRule) Field() string { return r.field }

func (r *NotEmptyRule) Check(value string, present bool) (string, bool) {
	if !present || strings.TrimSpace(value) == "" {
		return "must not be empty", false
	}
	return "", true
}

// RangeRule requires a number within optional bounds.
type RangeRule struct {
	field string
	min   *float64
	max   *float64
}

func NewRangeRule(field string) *RangeRule {
	return &RangeRule{field: field}
}

func (r *RangeRule) Name() string  { return "range" }
func (r *RangeRule) Field() string { return r.field }

func (r *RangeRule) Min(v float64) *RangeRule {
	r.min = &v
	return r
}

func (r *RangeRule) Max(v float64) *RangeRule {
	r.max = &v
	return r
}

func (r *RangeRule) Check(value string, present bool) (string, bool) {
	num, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Sprintf("%q is not a valid number", value), false
	}
	if r.min != nil && num < *r.min {
		return fmt.Sprintf("%v is less than minimum %v", num, *r.min), false
	}
	if r.max != nil && num > *r.max {
		return fmt.Sprintf("%v is greater than maximum %v", num, *r.max), false
	}
	return "", true
}

// RegexRule requires the value to match a pattern.
type RegexRule struct {
	field   string
	pattern *regexp.Regexp
	desc    string
}

func NewRegexRule(field, pattern string) (*RegexRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidFormat, "invalid regex pattern").WithContext("pattern", pattern)
	}
	return &RegexRule{field: field, pattern: re, desc: pattern}, nil
}

func (r *RegexRule) Name() string  { return "regex" }
func (r *RegexRule) Field() string { return r.field }

func (r *RegexRule) WithDescription(desc string) *RegexRule {
	r.desc = desc
	return r
}

func (r *RegexRule) Check(value string, present bool) (string, bool) {
	if !r.pattern.MatchString(value) {
		return "does not match " + r.desc, false
	}
	return "", true
}

// OneOfRule requires the value to be in an allowed set, ignoring case.
type OneOfRule struct {
	field   string
	allowed map[string]bool
}

func NewOneOfRule(field string, allowed []string) *OneOfRule {
	set := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		set[strings.ToLower(v)] = true
	}
	return &OneOfRule{field: field, allowed: set}
}

func (r *OneOfRule) Name() string  { return "one_of" }
func (r *OneOfRule) Field() string { return r.field }

func (r *OneOfRule) Check(value string, present bool) (string, bool) {
	if !r.allowed[strings.ToLower(value)] {
		return fmt.Sprintf("%q is not an allowed value", value), false
	}
	return "", true
}

// LengthRule bounds the length of the value in bytes.
type LengthRule struct {
	field string
	min   *int
	max   *int
}

func NewLengthRule(field string) *LengthRule {
	return &LengthRule{field: field}
}

func (r *LengthRule) Name() string  { return "length" }
func (r *LengthRule) Field() string { return r.field }

func (r *LengthRule) Min(v int) *LengthRule {
	r.min = &v
	return r
}

func (r *LengthRule) Max(v int) *LengthRule {
	r.max = &v
	return r
}

func (r *LengthRule) Check(value string, present bool) (string, bool) {
	n := len(value)
	if r.min != nil && n < *r.min {
		return fmt.Sprintf("length %d is less than minimum %d", n, *r.min), false
	}
	if r.max != nil && n > *r.max {
		return fmt.Sprintf("length %d exceeds maximum %d", n, *r.max), false
	}
	return "", true
}

// DateFormatRule requires the value to parse with one of the layouts.
type DateFormatRule struct {
	field   string
	layouts []string
}

func NewDateFormatRule(field string, layouts ...string) *DateFormatRule {
	if len(layouts) == 0 {
		layouts = []string{
			"2006-01-02",
			"2006-01-02 15:04:05",
			time.RFC3339,
		}
	}
	return &DateFormatRule{field: field, layouts: layouts}
}

func (r *DateFormatRule) Name() string  { return "date_format" }
func (r *DateFormatRule) Field() string { return r.field }

func (r *DateFormatRule) Check(value string, present bool) (string, bool) {
	for _, layout := range r.layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return "", true
		}
	}
	return fmt.Sprintf("%q is not a valid date", value), false
}

// RuleSpec is the configured form of a rule.
type RuleSpec struct {
	Field   string   `yaml:"field"`
	Kind    string   `yaml:"kind"`
	Pattern string   `yaml:"pattern,omitempty"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
	Values  []string `yaml:"values,omitempty"`
	Layouts []string `yaml:"layouts,omitempty"`
}

// Build creates the rule described by s.
func (s RuleSpec) Build() (Rule, error) {
	switch strings.ToLower(s.Kind) {
	case "not_empty", "required":
		return NewNotEmptyRule(s.Field), nil
	case "range":
		r := NewRangeRule(s.Field)
		if s.Min != nil {
			r.Min(*s.Min)
		}
		if s.Max != nil {
			r.Max(*s.Max)
		}
		return r, nil
	case "regex":
		return NewRegexRule(s.Field, s.Pattern)
	case "one_of":
		return NewOneOfRule(s.Field, s.Values), nil
	case "length":
		r := NewLengthRule(s.Field)
		if s.Min != nil {
			r.Min(int(*s.Min))
		}
		if s.Max != nil {
			r.Max(int(*s.Max))
		}
		return r, nil
	case "date_format":
		return NewDateFormatRule(s.Field, s.Layouts...), nil
	default:
		return nil, errors.InvalidFormat("rule kind", s.Kind)
	}
}

// FactoryFor compiles specs once and returns a Factory of rule sets
// sharing the compiled rules.
func FactoryFor(specs []RuleSpec) (Factory, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := s.Build()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return func() Validator { return NewRuleSet(slices.Clone(rules)...) }, nil
}
