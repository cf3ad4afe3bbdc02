package pillar

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/agentic-research/pillarctl/internal/policy"
)

// Buckets maps a destination path (relative to the pillar root) to the
// proposal files merged into it, in policy order. File paths are relative
// to the proposals directory.
type Buckets struct {
	files map[string][]string
}

func newBuckets() *Buckets {
	return &Buckets{files: map[string][]string{}}
}

// Add appends file to the bucket for key.
func (b *Buckets) Add(key, file string) {
	b.files[key] = append(b.files[key], file)
}

// Keys returns the bucket keys in sorted order.
func (b *Buckets) Keys() []string {
	keys := make([]string, 0, len(b.files))
	for k := range b.files {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Files returns the files of a bucket in merge order.
func (b *Buckets) Files(key string) []string {
	return b.files[key]
}

func (b *Buckets) Len() int {
	return len(b.files)
}

// Organize resolves every policy rule to proposal files and groups the
// files by destination path. Missing, empty or unmatched files are logged
// and skipped.
func (p *Pillar) Organize(policyFile string) (*Buckets, error) {
	data, err := readFile(p.fs, policyFile)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", p.abs(policyFile), err)
	}
	return p.organize(data)
}

func (p *Pillar) organize(data []byte) (*Buckets, error) {
	logger := p.logger.With(zap.String("operation", "Organize"))

	buckets := newBuckets()
	for line := range policy.Parse(data).Rules() {
		rule, err := policy.ParseRule(line)
		if err != nil {
			return nil, err
		}
		files, err := p.expand(rule)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			logger.Warn("rule matched no files", zap.String("rule", line))
		}
		logger.Debug("rule", zap.String("rule", line), zap.Strings("files", files))

		for _, file := range files {
			info, err := p.proposals.Stat(file)
			if err != nil || info.IsDir() {
				logger.Warn("file does not exist", zap.String("file", p.absProposal(file)))
				continue
			}
			if info.Size() == 0 {
				logger.Warn("skipping empty file", zap.String("file", p.absProposal(file)))
				continue
			}
			key := BucketKey(file)
			if key == "" {
				logger.Warn("file has no destination path", zap.String("file", p.absProposal(file)))
				continue
			}
			buckets.Add(key, file)
		}
	}

	for _, key := range buckets.Keys() {
		logger.Debug("bucket", zap.String("path", key), zap.Strings("files", buckets.Files(key)))
	}
	return buckets, nil
}

// expand globs a rule inside the proposals tree and applies its
// modifiers in order. re= is matched against the absolute proposal path.
func (p *Pillar) expand(rule policy.Rule) ([]string, error) {
	files, err := util.Glob(p.proposals, rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", rule.Pattern, err)
	}
	if rule.Plain() {
		return files, nil
	}

	slices.Sort(files)
	for _, mod := range rule.Modifiers {
		switch mod.Kind {
		case policy.ModRegexp:
			kept := files[:0:0]
			for _, f := range files {
				full := p.absProposal(f)
				loc := mod.Regexp.FindStringIndex(full)
				if loc == nil {
					continue
				}
				if loc[0] != 0 || loc[1] != len(full) {
					p.logger.Warn("re= matched part of the path, keeping the full path",
						zap.String("file", full), zap.String("match", full[loc[0]:loc[1]]))
				}
				kept = append(kept, f)
			}
			files = kept
		case policy.ModSlice:
			files = mod.Slice.Apply(files)
		default:
			p.logger.Warn("unsupported keyword", zap.String("keyword", mod.Key), zap.String("rule", rule.Line))
		}
	}
	return files, nil
}

// BucketKey drops the leading directory of a proposals-relative path:
// role-master/cluster/admin.sls becomes cluster/admin.sls.
func BucketKey(file string) string {
	parts := strings.Split(strings.TrimPrefix(filepath.ToSlash(file), "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], "/")
}
