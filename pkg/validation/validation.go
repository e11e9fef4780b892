// Package validation checks parsed records against rules. A Validator
// either stops at the first failure or reports every rule outcome to a
// Listener.
package validation

import (
	"fmt"

	"github.com/logflow/recsplit/pkg/codec"
	"github.com/logflow/recsplit/pkg/errors"
)

// Validator checks one record. Implementations need not be safe for
// concurrent use; every worker gets its own from a Factory.
type Validator interface {
	// ValidateStrict returns the first failure.
	ValidateStrict(rec *codec.Record) error

	// ValidateEvents reports every rule outcome to l and returns whether
	// all rules passed.
	ValidateEvents(rec *codec.Record, l Listener) bool
}

// Factory creates a fresh Validator.
type Factory func() Validator

// Event is the outcome of one rule on one record.
type Event struct {
	Rule  string
	Field string
	Value string
	Err   *RuleError
}

// Passed reports whether the rule held.
func (e Event) Passed() bool { return e.Err == nil }

// Listener receives rule outcomes from ValidateEvents.
type Listener interface {
	Passed(Event)
	Failed(Event)
}

// RuleError describes one failed rule.
type RuleError struct {
	Rule    string
	Field   string
	Value   string
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: field %q: %s", e.Rule, e.Field, e.Message)
}

// ErrorCode implements errors.Coder.
func (e *RuleError) ErrorCode() errors.Code { return errors.CodeValidationFailed }

// RuleSet validates records against an ordered list of rules.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet creates a validator from rules.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Add appends a rule.
func (s *RuleSet) Add(r Rule) *RuleSet {
	s.rules = append(s.rules, r)
	return s
}

// Len returns the number of rules.
func (s *RuleSet) Len() int { return len(s.rules) }

func (s *RuleSet) check(r Rule, rec *codec.Record) Event {
	value, present := rec.Get(r.Field())
	ev := Event{Rule: r.Name(), Field: r.Field(), Value: value}
	if msg, ok := r.Check(value, present); !ok {
		ev.Err = &RuleError{Rule: ev.Rule, Field: ev.Field, Value: value, Message: msg}
	}
	return ev
}

func (s *RuleSet) ValidateStrict(rec *codec.Record) error {
	for _, r := range s.rules {
		if ev := s.check(r, rec); ev.Err != nil {
			return ev.Err
		}
	}
	return nil
}

func (s *RuleSet) ValidateEvents(rec *codec.Record, l Listener) bool {
	ok := true
	for _, r := range s.rules {
		ev := s.check(r, rec)
		if ev.Err != nil {
			ok = false
			l.Failed(ev)
		} else {
			l.Passed(ev)
		}
	}
	return ok
}
