// Package policy parses policy.cfg, the line-oriented list of proposal
// file selections that drives a pillar push.
package policy

import (
	"bufio"
	"bytes"
	"iter"
	"regexp"
	"strings"
)

// trailingComment matches an inline comment: a '#' preceded by whitespace.
var trailingComment = regexp.MustCompile(`\s+#.*$`)

// Catalog holds the raw text of a policy file.
type Catalog struct {
	data []byte
}

// Parse wraps the policy file contents. No validation happens until the
// rules are iterated.
func Parse(data []byte) *Catalog {
	return &Catalog{data: data}
}

// Rules yields every rule line in file order, with comments and blank
// lines removed. Each call starts a fresh scan.
func (c *Catalog) Rules() iter.Seq[string] {
	return func(yield func(string) bool) {
		scanner := bufio.NewScanner(bytes.NewReader(c.data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line, ok := StripLine(scanner.Text())
			if !ok {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}

// StripLine removes an inline comment and surrounding whitespace. It
// reports false for lines that carry no rule.
func StripLine(line string) (string, bool) {
	line = trailingComment.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return line, false
	}
	return line, true
}
