package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Slice is a start:stop:step range applied to a file list. Nil bounds
// take the usual defaults for the sign of Step.
type Slice struct {
	Start *int
	Stop  *int
	Step  int
}

// ParseSlice accepts "[start:stop:step]" with the brackets optional and
// every part optional, e.g. "[1:]", "[:-1]", "::2". Only integers are
// allowed.
func ParseSlice(expr string) (Slice, error) {
	s := strings.TrimSpace(expr)
	if strings.HasPrefix(s, "[") || strings.HasSuffix(s, "]") {
		if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
			return Slice{}, fmt.Errorf("slice %q: unbalanced brackets", expr)
		}
		s = s[1 : len(s)-1]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Slice{}, fmt.Errorf("slice %q: want start:stop[:step]", expr)
	}

	var out Slice
	var err error
	if out.Start, err = sliceBound(parts[0]); err != nil {
		return Slice{}, fmt.Errorf("slice %q: start: %w", expr, err)
	}
	if out.Stop, err = sliceBound(parts[1]); err != nil {
		return Slice{}, fmt.Errorf("slice %q: stop: %w", expr, err)
	}
	out.Step = 1
	if len(parts) == 3 {
		step, err := sliceBound(parts[2])
		if err != nil {
			return Slice{}, fmt.Errorf("slice %q: step: %w", expr, err)
		}
		if step != nil {
			if *step == 0 {
				return Slice{}, fmt.Errorf("slice %q: step cannot be zero", expr)
			}
			out.Step = *step
		}
	}
	return out, nil
}

func sliceBound(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Apply returns the selected elements of items in slice order.
func (s Slice) Apply(items []string) []string {
	n := len(items)
	step := s.Step
	if step == 0 {
		step = 1
	}

	var start, stop int
	if step > 0 {
		start = clampIndex(s.Start, n, 0, 0, n)
		stop = clampIndex(s.Stop, n, n, 0, n)
	} else {
		start = clampIndex(s.Start, n, n-1, -1, n-1)
		stop = clampIndex(s.Stop, n, -1, -1, n-1)
	}

	out := []string{}
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, items[i])
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, items[i])
		}
	}
	return out
}

// clampIndex resolves a possibly negative bound against length n and
// clamps it into [lo, hi].
func clampIndex(bound *int, n, def, lo, hi int) int {
	if bound == nil {
		return def
	}
	i := *bound
	if i < 0 {
		i += n
	}
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}
