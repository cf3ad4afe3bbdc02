package pillar

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/pillarctl/internal/merge"
)

// unassignedCluster marks minions that belong to no Ceph cluster.
const unassignedCluster = "unassigned"

// clusterExample is appended to the cluster.yml override placeholder.
const clusterExample = `
#rgw_configurations:
#  rgw:
#    users:
#      - { uid: "demo", name: "Demo", email: "demo@demo.nil" }
#      - { uid: "demo1", name: "Demo1", email: "demo1@demo.nil" }
`

// Output rebuilds stack/default from buckets and seeds override
// placeholders for cluster assignments and stack files.
func (p *Pillar) Output(buckets *Buckets) error {
	if err := p.clean(); err != nil {
		return err
	}

	for _, key := range buckets.Keys() {
		merged, err := p.Merge(buckets.Files(key))
		if err != nil {
			return err
		}
		if err := p.writeDefault(key, merged); err != nil {
			return err
		}

		switch {
		case strings.HasPrefix(key, "cluster"):
			if err := p.clusterPlaceholder(key, merged); err != nil {
				return err
			}
		case strings.HasPrefix(key, "stack"):
			if err := p.custom(stackOverride(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge deep-merges the given proposal files in order.
func (p *Pillar) Merge(files []string) (*yaml.Node, error) {
	merged := merge.NewMapping()
	for _, file := range files {
		doc, err := readDocument(p.proposals, file)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", p.absProposal(file), err)
		}
		merged = merge.Merge(merged, doc)
	}
	return merged, nil
}

// clean removes stack/default so files from earlier pushes with a
// different selection do not linger.
func (p *Pillar) clean() error {
	if !isDir(p.fs, stackDefault) {
		return nil
	}
	if p.dryRun {
		p.logger.Info("dry run: would remove", zap.String("dir", p.abs(stackDefault)))
		return nil
	}
	p.logger.Debug("removing", zap.String("dir", p.abs(stackDefault)))
	if err := util.RemoveAll(p.fs, stackDefault); err != nil {
		return fmt.Errorf("clean %s: %w", p.abs(stackDefault), err)
	}
	return nil
}

func (p *Pillar) writeDefault(key string, merged *yaml.Node) error {
	data, err := merge.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.abs(key), err)
	}
	return p.writeFile(p.fs, key, p.abs(key), data)
}

// clusterPlaceholder seeds stack/<cluster>/minions/<minion>.yml for a
// cluster/<minion>.sls assignment.
func (p *Pillar) clusterPlaceholder(key string, merged *yaml.Node) error {
	cluster, ok := merge.Scalar(merge.Get(merged, "cluster"))
	if !ok || cluster == "" {
		p.logger.Warn("cluster assignment without a cluster name", zap.String("file", p.abs(key)))
		return nil
	}
	if cluster == unassignedCluster {
		return nil
	}
	return p.custom(minionOverride(key, cluster))
}

// minionOverride maps cluster/<name>.sls to stack/<cluster>/minions/<name>.yml.
func minionOverride(key, cluster string) string {
	rest := strings.TrimPrefix(key, "cluster")
	if strings.HasSuffix(rest, ".sls") {
		rest = strings.TrimSuffix(rest, ".sls") + ".yml"
	}
	return "stack/" + cluster + "/minions" + rest
}

// stackOverride maps stack/default/<rest> to stack/<rest>.
func stackOverride(key string) string {
	if rest, ok := strings.CutPrefix(key, stackDefault+"/"); ok {
		return "stack/" + rest
	}
	return key
}

// custom writes a commented placeholder at name unless one exists.
func (p *Pillar) custom(name string) error {
	ok, err := p.exists(name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	display := p.abs(name)
	if p.dryRun {
		p.logger.Info("dry run: would create placeholder", zap.String("file", display))
		return nil
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", display)
	fmt.Fprintf(&buf, "# Overwrites configuration in %s\n", p.abs(strings.Replace(name, "stack", stackDefault, 1)))
	if path.Base(name) == "cluster.yml" {
		buf.WriteString(clusterExample)
	}
	return p.writeFile(p.fs, name, display, buf.Bytes())
}
