package validation

import (
	"errors"
	"testing"

	"github.com/logflow/recsplit/pkg/codec"
	rserrors "github.com/logflow/recsplit/pkg/errors"
)

func person(name, age string) *codec.Record {
	return &codec.Record{Type: "person", Fields: []codec.Field{{Name: "name", Value: name}, {Name: "age", Value: age}}}
}

func personRules() Factory {
	return func() Validator {
		return NewRuleSet(NewNotEmptyRule("name"), NewRangeRule("age").Min(0).Max(150))
	}
}

func TestProcessorValid(t *testing.T) {
	for _, failFast := range []bool{true, false} {
		w := NewProcessor(personRules(), failFast).NewWorker()
		rec := person("Ann", "42")
		got, err := w.Process(rec)
		if err != nil {
			t.Errorf("failFast=%v: Process() error: %v", failFast, err)
		}
		if got != rec {
			t.Errorf("failFast=%v: Process() returned a different record", failFast)
		}
	}
}

func TestProcessorFailFast(t *testing.T) {
	w := NewProcessor(personRules(), true).NewWorker()
	_, err := w.Process(person("", "-1"))

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Process() error = %v, want *ValidationError", err)
	}
	var re *RuleError
	if !errors.As(ve.Cause, &re) || re.Rule != "not_empty" {
		t.Errorf("cause = %v, want the not_empty failure", ve.Cause)
	}
}

func TestProcessorAggregate(t *testing.T) {
	tests := []struct {
		name         string
		rec          *codec.Record
		wantCompound bool
		wantEvents   int
	}{
		{"two violations", person("", "-1"), true, 2},
		{"one violation", person("", "30"), false, 1},
		{"other violation", person("Bob", "abc"), false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewProcessor(personRules(), false).NewWorker()
			_, err := w.Process(tt.rec)

			var ce *CompoundValidationError
			var ve *ValidationError
			switch {
			case tt.wantCompound:
				if !errors.As(err, &ce) {
					t.Fatalf("Process() error = %v, want *CompoundValidationError", err)
				}
				if len(ce.Events) != tt.wantEvents {
					t.Errorf("got %d events, want %d", len(ce.Events), tt.wantEvents)
				}
				if ce.Events[0].Rule != "not_empty" || ce.Events[1].Rule != "range" {
					t.Errorf("events out of rule order: %v", ce.Events)
				}
				if rserrors.GetCode(err) != rserrors.CodeCompoundValidation {
					t.Errorf("GetCode() = %v, want %v", rserrors.GetCode(err), rserrors.CodeCompoundValidation)
				}
			default:
				if !errors.As(err, &ve) {
					t.Fatalf("Process() error = %v, want *ValidationError", err)
				}
				if errors.As(err, &ce) {
					t.Error("single failure reported as compound")
				}
				var re *RuleError
				if !errors.As(ve.Cause, &re) {
					t.Errorf("cause = %T, want *RuleError", ve.Cause)
				}
				if rserrors.GetCode(err) != rserrors.CodeValidationFailed {
					t.Errorf("GetCode() = %v, want %v", rserrors.GetCode(err), rserrors.CodeValidationFailed)
				}
			}
		})
	}
}

func TestProcessorWorkersAreIndependent(t *testing.T) {
	calls := 0
	factory := func() Validator {
		calls++
		return NewRuleSet()
	}
	p := NewProcessor(factory, false)
	p.NewWorker()
	p.NewWorker()
	if calls != 2 {
		t.Errorf("factory called %d times, want 2", calls)
	}
}

type recordingListener struct {
	passed, failed []string
}

func (l *recordingListener) Passed(ev Event) { l.passed = append(l.passed, ev.Rule) }
func (l *recordingListener) Failed(ev Event) { l.failed = append(l.failed, ev.Rule) }

func TestValidateEvents(t *testing.T) {
	set := NewRuleSet(NewNotEmptyRule("name"), NewOneOfRule("kind", []string{"A", "b"}))
	rec := &codec.Record{Fields: []codec.Field{{Name: "name", Value: "x"}, {Name: "kind", Value: "c"}}}

	var l recordingListener
	if set.ValidateEvents(rec, &l) {
		t.Error("ValidateEvents() = true, want false")
	}
	if len(l.passed) != 1 || l.passed[0] != "not_empty" {
		t.Errorf("passed = %v, want [not_empty]", l.passed)
	}
	if len(l.failed) != 1 || l.failed[0] != "one_of" {
		t.Errorf("failed = %v, want [one_of]", l.failed)
	}
}

func TestRules(t *testing.T) {
	re, err := NewRegexRule("id", `^[0-9]+$`)
	if err != nil {
		t.Fatalf("NewRegexRule() error: %v", err)
	}

	tests := []struct {
		name    string
		rule    Rule
		value   string
		present bool
		want    bool
	}{
		{"not_empty ok", NewNotEmptyRule("f"), "x", true, true},
		{"not_empty blank", NewNotEmptyRule("f"), "  ", true, false},
		{"not_empty missing", NewNotEmptyRule("f"), "", false, false},
		{"range ok", NewRangeRule("f").Min(1).Max(3), "2", true, true},
		{"range low", NewRangeRule("f").Min(1), "0.5", true, false},
		{"range nan", NewRangeRule("f"), "x", true, false},
		{"regex ok", re, "123", true, true},
		{"regex bad", re, "12a", true, false},
		{"one_of case", NewOneOfRule("f", []string{"Red"}), "RED", true, true},
		{"length long", NewLengthRule("f").Max(2), "abc", true, false},
		{"date ok", NewDateFormatRule("f"), "2024-02-29", true, true},
		{"date bad", NewDateFormatRule("f"), "2024-02-30", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, got := tt.rule.Check(tt.value, tt.present); got != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestFactoryFor(t *testing.T) {
	limit := 10.0
	factory, err := FactoryFor([]RuleSpec{
		{Field: "name", Kind: "required"},
		{Field: "n", Kind: "range", Max: &limit},
	})
	if err != nil {
		t.Fatalf("FactoryFor() error: %v", err)
	}
	v := factory()
	rec := &codec.Record{Fields: []codec.Field{{Name: "name", Value: "a"}, {Name: "n", Value: "11"}}}
	if err := v.ValidateStrict(rec); err == nil {
		t.Error("ValidateStrict() = nil, want range failure")
	}

	if _, err := FactoryFor([]RuleSpec{{Field: "x", Kind: "telepathy"}}); err == nil {
		t.Error("FactoryFor() with unknown kind should fail")
	}
	if _, err := FactoryFor([]RuleSpec{{Field: "x", Kind: "regex", Pattern: "("}}); err == nil {
		t.Error("FactoryFor() with bad pattern should fail")
	}
}
