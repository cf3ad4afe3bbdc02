// Package pillar assembles the Salt pillar for a Ceph deployment from the
// proposals tree. The policy file selects proposal fragments; fragments
// sharing a destination path are deep-merged and written under
// stack/default, and empty override files are seeded next to them so an
// administrator knows where local changes belong.
//
// Layout relative to the pillar root (normally /srv/pillar/ceph):
//
//	proposals/policy.cfg                 selection rules
//	proposals/<part>/<dest>              proposal fragments
//	<dest>                               merged output, e.g. stack/default/ceph/cluster.yml
//	stack/<cluster>/minions/<minion>.yml per-minion override placeholders
//	stack/<rest>                         overrides mirroring stack/default/<rest>
package pillar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/pillarctl/internal/merge"
)

const (
	DefaultRoot      = "/srv/pillar/ceph"
	DefaultProposals = "proposals"
	DefaultPolicy    = "proposals/policy.cfg"

	// BackupSuffix is appended to the policy file when a migration
	// rewrites it.
	BackupSuffix = "-original"

	stackDefault = "stack/default"
)

// Config configures a Pillar.
type Config struct {
	// FS is rooted at the pillar directory.
	FS billy.Filesystem
	// Root is the absolute pillar directory, used in log messages and in
	// placeholder headers. Defaults to DefaultRoot.
	Root string
	// Proposals is the proposals directory relative to the pillar root.
	// Defaults to DefaultProposals.
	Proposals string
	// DryRun logs every write instead of performing it.
	DryRun bool
	Logger *zap.Logger
}

// Pillar merges proposals into the pillar tree.
type Pillar struct {
	fs        billy.Filesystem
	proposals billy.Filesystem
	root      string
	propDir   string
	dryRun    bool
	logger    *zap.Logger
}

// New creates a Pillar from config.
func New(config Config) *Pillar {
	p := &Pillar{
		fs:      config.FS,
		root:    config.Root,
		propDir: config.Proposals,
		dryRun:  config.DryRun,
		logger:  config.Logger,
	}
	if p.root == "" {
		p.root = DefaultRoot
	}
	if p.propDir == "" {
		p.propDir = DefaultProposals
	}
	if p.logger == nil {
		p.logger = zap.L()
	}
	p.proposals = chroot.New(p.fs, p.propDir)
	return p
}

// Proposal reads the policy file, merges the selected proposals and
// writes the pillar tree. A missing or unreadable policy file is not an
// error.
func (p *Pillar) Proposal(policy string) error {
	logger := p.logger.With(zap.String("operation", "Proposal"), zap.String("policy", p.abs(policy)))

	data, ok, err := p.readPolicy(logger, policy, "push")
	if err != nil || !ok {
		return err
	}
	buckets, err := p.organize(data)
	if err != nil {
		return err
	}
	return p.Output(buckets)
}

// readPolicy returns the policy contents. A policy that is missing or
// cannot be read is logged as a warning and reported as !ok; any other
// failure is returned.
func (p *Pillar) readPolicy(logger *zap.Logger, policy, action string) ([]byte, bool, error) {
	ok, err := p.exists(policy)
	if err != nil && !errors.Is(err, fs.ErrPermission) {
		return nil, false, err
	}
	if err == nil && !ok {
		logger.Warn("policy file is missing - nothing to " + action)
		return nil, false, nil
	}

	data, err := readFile(p.fs, policy)
	if err == nil {
		return data, true, nil
	}
	if errors.Is(err, fs.ErrPermission) {
		logger.Warn("policy file is unreadable - nothing to "+action, zap.Error(err))
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("read policy %s: %w", p.abs(policy), err)
}

// DirError reports a failure to create a directory in the pillar tree.
type DirError struct {
	Path string
	Root string
	Err  error
}

func (e *DirError) Error() string {
	if errors.Is(e.Err, fs.ErrPermission) {
		return fmt.Sprintf("cannot create dir %s: make sure %s is owned by salt: %v", e.Path, e.Root, e.Err)
	}
	return fmt.Sprintf("cannot create dir %s: %v", e.Path, e.Err)
}

func (e *DirError) Unwrap() error {
	return e.Err
}

// createDirs creates dir and its parents on fsys. display is the absolute
// form of dir used in the error.
func (p *Pillar) createDirs(fsys billy.Filesystem, dir, display string) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		derr := &DirError{Path: display, Root: p.root, Err: err}
		if errors.Is(err, fs.ErrPermission) {
			p.logger.Error("cannot create dir", zap.String("dir", display), zap.String("hint", "make sure "+p.root+" is owned by salt"), zap.Error(err))
		}
		return derr
	}
	return nil
}

func (p *Pillar) abs(rel string) string {
	return path.Join(p.root, filepath.ToSlash(rel))
}

func (p *Pillar) absProposal(rel string) string {
	return path.Join(p.root, p.propDir, filepath.ToSlash(rel))
}

func (p *Pillar) exists(name string) (bool, error) {
	return existsOn(p.fs, name)
}

func existsOn(fsys billy.Filesystem, name string) (bool, error) {
	info, err := fsys.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func isDir(fsys billy.Filesystem, name string) bool {
	info, err := fsys.Stat(name)
	return err == nil && info.IsDir()
}

func readFile(fsys billy.Filesystem, name string) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// readDocument decodes a proposal file into its mapping node. Empty
// documents decode to nil.
func readDocument(fsys billy.Filesystem, name string) (*yaml.Node, error) {
	data, err := readFile(fsys, name)
	if err != nil {
		return nil, err
	}
	doc, err := merge.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return doc, nil
}

// writeFile creates the parent directory and writes data, unless this is
// a dry run.
func (p *Pillar) writeFile(fsys billy.Filesystem, name, display string, data []byte) error {
	if p.dryRun {
		p.logger.Info("dry run: would write", zap.String("file", display))
		return nil
	}
	dir := filepath.Dir(name)
	if !isDir(fsys, dir) {
		if err := p.createDirs(fsys, dir, path.Dir(display)); err != nil {
			return err
		}
	}
	p.logger.Info("writing", zap.String("file", display))
	if err := util.WriteFile(fsys, name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", display, err)
	}
	return nil
}
