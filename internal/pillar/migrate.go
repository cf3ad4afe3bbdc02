package pillar

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/pillarctl/api"
	"github.com/agentic-research/pillarctl/internal/merge"
)

const (
	profilePrefix  = "profile-"
	migratedPrefix = "migrated-"
)

// ErrAlreadyMigrated is returned by Convert when the policy backup from a
// previous migration is still present.
var ErrAlreadyMigrated = errors.New("already migrated")

// Layout identifies the schema of a hardware profile.
type Layout int

const (
	LayoutUnknown Layout = iota
	LayoutLegacy         // storage.osds + storage.data+journals
	LayoutCeph           // ceph.storage.osds.<device>.format
)

func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutCeph:
		return "ceph"
	default:
		return "unknown"
	}
}

// Convert migrates every hardware profile selected by the policy file to
// bluestore, points the policy at the migrated profiles and pushes the
// result. The original policy is kept with BackupSuffix appended; if
// that backup already exists nothing is touched.
func (p *Pillar) Convert(policy string) error {
	logger := p.logger.With(zap.String("operation", "Convert"), zap.String("policy", p.abs(policy)))

	data, ok, err := p.readPolicy(logger, policy, "migrate")
	if err != nil || !ok {
		return err
	}

	backup := policy + BackupSuffix
	ok, err = p.exists(backup)
	if err != nil {
		return err
	}
	if ok {
		logger.Error("already migrated - remove the backup before rerunning", zap.String("backup", p.abs(backup)))
		return fmt.Errorf("%w: remove %s before rerunning", ErrAlreadyMigrated, p.abs(backup))
	}

	buckets, err := p.organize(data)
	if err != nil {
		return err
	}
	if err := p.Migrate(buckets); err != nil {
		return err
	}
	if err := p.Rename(policy); err != nil {
		return err
	}
	return p.Proposal(policy)
}

// Migrate writes a migrated copy of every hardware profile in buckets.
// Originals are left in place.
func (p *Pillar) Migrate(buckets *Buckets) error {
	for _, key := range buckets.Keys() {
		for _, file := range buckets.Files(key) {
			if !isProfile(file) {
				continue
			}
			doc, err := readDocument(p.proposals, file)
			if err != nil {
				return err
			}
			if doc == nil {
				doc = merge.NewMapping()
			}

			layout, err := MigrateProfile(doc)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", p.absProposal(file), err)
			}
			if layout == LayoutUnknown {
				p.logger.Info("no migration - copying", zap.String("file", p.absProposal(file)))
			}

			data, err := merge.Marshal(doc)
			if err != nil {
				return fmt.Errorf("encode %s: %w", p.absProposal(file), err)
			}
			target := migratedPath(file)
			if err := p.writeFile(p.proposals, target, p.absProposal(target), data); err != nil {
				return err
			}
		}
	}
	return nil
}

// MigrateProfile rewrites doc in place so that every OSD uses bluestore
// under ceph.storage.osds and reports the layout it started from.
func MigrateProfile(doc *yaml.Node) (Layout, error) {
	switch {
	case merge.Lookup(doc, "storage", "osds") != nil:
		return LayoutLegacy, migrateLegacy(doc)
	case merge.Lookup(doc, "ceph", "storage", "osds") != nil:
		return LayoutCeph, migrateCeph(doc)
	default:
		return LayoutUnknown, nil
	}
}

func bluestore() *yaml.Node {
	osd := merge.NewMapping()
	merge.Set(osd, "format", merge.NewString(api.FormatBluestore))
	return osd
}

// legacyDevices returns the devices of storage.osds, written either as a
// list or as a mapping keyed by device.
func legacyDevices(n *yaml.Node) ([]string, error) {
	var items []*yaml.Node
	switch {
	case merge.IsNull(n):
	case n.Kind == yaml.SequenceNode:
		items = n.Content
	case n.Kind == yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			items = append(items, n.Content[i])
		}
	default:
		return nil, fmt.Errorf("storage.osds: expected a list of devices, got %s", n.ShortTag())
	}

	devices := make([]string, 0, len(items))
	for _, item := range items {
		dev, ok := merge.Scalar(item)
		if !ok {
			return nil, fmt.Errorf("storage.osds: expected a device name, got %s", item.ShortTag())
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func migrateLegacy(doc *yaml.Node) error {
	devices, err := legacyDevices(merge.Lookup(doc, "storage", "osds"))
	if err != nil {
		return err
	}
	osds := merge.NewMapping()
	for _, dev := range devices {
		merge.Set(osds, dev, bluestore())
	}

	entries := merge.Lookup(doc, "storage", "data+journals")
	switch {
	case entries == nil || merge.IsNull(entries):
	case entries.Kind == yaml.SequenceNode:
		for _, e := range entries.Content {
			if e.Kind != yaml.MappingNode {
				return fmt.Errorf("storage.data+journals: expected a mapping, got %s", e.ShortTag())
			}
			for i := 0; i+1 < len(e.Content); i += 2 {
				dev, ok := merge.Scalar(e.Content[i])
				if !ok {
					return fmt.Errorf("storage.data+journals: expected a device name, got %s", e.Content[i].ShortTag())
				}
				journal, ok := merge.Scalar(e.Content[i+1])
				if !ok {
					return fmt.Errorf("storage.data+journals.%s: expected a journal device, got %s", dev, e.Content[i+1].ShortTag())
				}
				osd := bluestore()
				merge.Set(osd, "wal", merge.NewString(journal))
				merge.Set(osd, "db", merge.NewString(journal))
				merge.Set(osds, dev, osd)
			}
		}
	default:
		return fmt.Errorf("storage.data+journals: expected a list, got %s", entries.ShortTag())
	}

	ceph := merge.Get(doc, "ceph")
	if ceph == nil || ceph.Kind != yaml.MappingNode {
		ceph = merge.NewMapping()
		merge.Set(doc, "ceph", ceph)
	}
	storage := merge.Get(ceph, "storage")
	if storage == nil || storage.Kind != yaml.MappingNode {
		storage = merge.NewMapping()
		merge.Set(ceph, "storage", storage)
	}
	merge.Set(storage, "osds", osds)
	merge.Delete(doc, "storage")
	return nil
}

func migrateCeph(doc *yaml.Node) error {
	osds := merge.Lookup(doc, "ceph", "storage", "osds")
	if merge.IsNull(osds) {
		return nil
	}
	if osds.Kind != yaml.MappingNode {
		return fmt.Errorf("ceph.storage.osds: expected a mapping, got %s", osds.ShortTag())
	}

	for i := 0; i+1 < len(osds.Content); i += 2 {
		dev, _ := merge.Scalar(osds.Content[i])
		osd := osds.Content[i+1]
		if osd.Kind != yaml.MappingNode {
			return fmt.Errorf("ceph.storage.osds.%s: expected a mapping, got %s", dev, osd.ShortTag())
		}
		if format, _ := merge.Scalar(merge.Get(osd, "format")); format != api.FormatFilestore {
			continue
		}
		merge.Set(osd, "format", merge.NewString(api.FormatBluestore))

		j := merge.Get(osd, "journal")
		if j == nil {
			continue
		}
		journal, ok := merge.Scalar(j)
		if !ok {
			return fmt.Errorf("ceph.storage.osds.%s.journal: expected a device, got %s", dev, j.ShortTag())
		}
		if journal != dev {
			merge.Set(osd, "wal", merge.NewString(journal))
			merge.Set(osd, "db", merge.NewString(journal))
		}
		merge.Delete(osd, "journal")
	}
	return nil
}

// Rename backs up the policy file and points every profile- rule at the
// migrated profile.
func (p *Pillar) Rename(policy string) error {
	data, err := readFile(p.fs, policy)
	if err != nil {
		return fmt.Errorf("read policy %s: %w", p.abs(policy), err)
	}
	backup := policy + BackupSuffix
	if err := p.writeFile(p.fs, backup, p.abs(backup), data); err != nil {
		return err
	}
	return p.writeFile(p.fs, policy, p.abs(policy), RewritePolicy(data))
}

// RewritePolicy prefixes every line that starts with "profile-" with
// "migrated-". All other lines, including their line endings, are kept.
func RewritePolicy(data []byte) []byte {
	var out bytes.Buffer
	r := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := r.ReadString('\n')
		if strings.HasPrefix(line, profilePrefix) {
			out.WriteString(migratedPrefix)
		}
		out.WriteString(line)
		if err != nil {
			break
		}
	}
	return out.Bytes()
}

// isProfile reports whether a proposals-relative path lives in a
// hardware profile directory.
func isProfile(file string) bool {
	first, _, _ := strings.Cut(strings.TrimPrefix(file, "/"), "/")
	return strings.HasPrefix(first, profilePrefix)
}

// migratedPath renames the profile directory of file: profile-x/... becomes
// migrated-profile-x/...
func migratedPath(file string) string {
	return migratedPrefix + strings.TrimPrefix(file, "/")
}
