// Package salt is the remote-execution collaborator: it runs a function
// on a set of minions and decodes the per-minion returns.
package salt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ExprForm values for Call.ExprForm.
const (
	Glob     = "glob"
	Compound = "compound"
)

// ErrMalformedReturn is wrapped by every ReturnError.
var ErrMalformedReturn = errors.New("malformed salt return")

// Call describes one remote execution.
type Call struct {
	Target   string
	Fun      string
	Args     []any
	Kwargs   map[string]any
	ExprForm string
}

func (c Call) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "salt '%s' %s", c.Target, c.Fun)
	for _, a := range c.Args {
		fmt.Fprintf(&b, " %v", a)
	}
	return b.String()
}

// Client executes calls. Implementations return the raw decoded return,
// typically a mapping of minion id to result.
type Client interface {
	Cmd(ctx context.Context, call Call) (any, error)
}

// ReturnError reports a return that does not have the expected shape.
type ReturnError struct {
	Call   string
	Reason string
}

func (e *ReturnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Call, e.Reason)
}

func (e *ReturnError) Unwrap() error {
	return ErrMalformedReturn
}

// Hosts is a decoded return keyed by minion id.
type Hosts map[string]any

// Names returns the minion ids in sorted order.
func (h Hosts) Names() []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// First returns the result of the first minion in sorted order.
func (h Hosts) First() (string, any) {
	names := h.Names()
	if len(names) == 0 {
		return "", nil
	}
	return names[0], h[names[0]]
}

// DecodeHosts checks that raw is a non-empty mapping of minion id to
// result. Any other shape becomes a *ReturnError.
func DecodeHosts(call Call, raw any) (Hosts, error) {
	switch t := raw.(type) {
	case nil:
		return nil, &ReturnError{Call: call.String(), Reason: "no return"}
	case map[string]any:
		if len(t) == 0 {
			return nil, &ReturnError{Call: call.String(), Reason: "no return"}
		}
		return Hosts(t), nil
	case Hosts:
		if len(t) == 0 {
			return nil, &ReturnError{Call: call.String(), Reason: "no return"}
		}
		return t, nil
	default:
		if isEmpty(raw) {
			return nil, &ReturnError{Call: call.String(), Reason: "no return"}
		}
		return nil, &ReturnError{Call: call.String(), Reason: fmt.Sprintf("did not return a dictionary, got %T", raw)}
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case bool:
		return !t
	}
	return false
}

// DecodeMapping requires a single minion result to be a mapping.
func DecodeMapping(call Call, host string, v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ReturnError{Call: call.String(), Reason: fmt.Sprintf("expected a dict from %s, got %T", host, v)}
	}
	return m, nil
}
