package pillar

import (
	"go.uber.org/zap"

	"github.com/agentic-research/pillarctl/internal/validate"
)

// Lint checks every proposal file selected by the policy for YAML syntax
// errors. File names in the result are absolute.
func (p *Pillar) Lint(policy string) ([]validate.ValidationError, error) {
	logger := p.logger.With(zap.String("operation", "Lint"), zap.String("policy", p.abs(policy)))

	data, ok, err := p.readPolicy(logger, policy, "lint")
	if err != nil || !ok {
		return nil, err
	}
	buckets, err := p.organize(data)
	if err != nil {
		return nil, err
	}

	var all []validate.ValidationError
	seen := map[string]bool{}
	for _, key := range buckets.Keys() {
		for _, file := range buckets.Files(key) {
			if seen[file] {
				continue
			}
			seen[file] = true

			src, err := readFile(p.proposals, file)
			if err != nil {
				return nil, err
			}
			errs, err := validate.YAMLErrors(src, p.absProposal(file))
			if err != nil {
				return nil, err
			}
			all = append(all, errs...)
		}
	}
	return all, nil
}
