package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// ModifierKind identifies a key=value modifier following a glob.
type ModifierKind int

const (
	ModUnknown ModifierKind = iota
	ModRegexp
	ModSlice
)

// Modifier narrows the sorted glob result of a rule.
type Modifier struct {
	Kind  ModifierKind
	Key   string
	Value string

	Regexp *regexp.Regexp // set for ModRegexp
	Slice  Slice          // set for ModSlice
}

// Rule is one parsed policy line.
type Rule struct {
	Line      string
	Pattern   string
	Modifiers []Modifier
}

// Plain reports whether the rule is a bare glob. Bare globs are not
// sorted before use.
func (r Rule) Plain() bool {
	return len(r.Modifiers) == 0
}

// RuleError reports a policy line that could not be parsed.
type RuleError struct {
	Line string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("policy rule %q: %v", e.Line, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// ParseRule splits a stripped policy line into its glob and modifiers.
func ParseRule(line string) (Rule, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Rule{}, &RuleError{Line: line, Err: fmt.Errorf("empty rule")}
	}

	rule := Rule{Line: line, Pattern: fields[0]}
	for _, kv := range fields[1:] {
		key, value, found := strings.Cut(kv, "=")
		mod := Modifier{Key: key, Value: value}
		if !found {
			mod.Key = kv
			rule.Modifiers = append(rule.Modifiers, mod)
			continue
		}

		switch key {
		case "re":
			re, err := regexp.Compile(value)
			if err != nil {
				return Rule{}, &RuleError{Line: line, Err: fmt.Errorf("compile re=%s: %w", value, err)}
			}
			mod.Kind = ModRegexp
			mod.Regexp = re
		case "slice":
			s, err := ParseSlice(value)
			if err != nil {
				return Rule{}, &RuleError{Line: line, Err: err}
			}
			mod.Kind = ModSlice
			mod.Slice = s
		}
		rule.Modifiers = append(rule.Modifiers, mod)
	}
	return rule, nil
}
