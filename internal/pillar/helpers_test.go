package pillar

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testPolicy = DefaultPolicy

// writeTree creates files (pillar-relative path -> content) on fsys.
func writeTree(t *testing.T, fsys billy.Filesystem, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, fsys.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, util.WriteFile(fsys, name, []byte(content), 0o644))
	}
}

// snapshot returns every regular file on fsys with its content.
func snapshot(t *testing.T, fsys billy.Filesystem) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := util.Walk(fsys, "/", func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := readFile(fsys, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(path)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func readString(t *testing.T, fsys billy.Filesystem, name string) string {
	t.Helper()
	data, err := readFile(fsys, name)
	require.NoError(t, err)
	return string(data)
}

func fileExists(t *testing.T, fsys billy.Filesystem, name string) bool {
	t.Helper()
	ok, err := existsOn(fsys, name)
	require.NoError(t, err)
	return ok
}

type fixture struct {
	fs     billy.Filesystem
	pillar *Pillar
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T, files map[string]string, dryRun bool) *fixture {
	t.Helper()
	fsys := memfs.New()
	writeTree(t, fsys, files)
	return newFixtureOn(t, fsys, dryRun)
}

func newFixtureOn(t *testing.T, fsys billy.Filesystem, dryRun bool) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	p := New(Config{
		FS:     fsys,
		DryRun: dryRun,
		Logger: zap.New(core),
	})
	return &fixture{fs: fsys, pillar: p, logs: logs}
}

func (f *fixture) warnings(snippet string) int {
	return f.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet(snippet).Len()
}

// deniedFS refuses to create directories.
type deniedFS struct {
	billy.Filesystem
}

func (d deniedFS) MkdirAll(name string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: fs.ErrPermission}
}

// unreadableFS refuses to open one file.
type unreadableFS struct {
	billy.Filesystem
	name string
}

func (u unreadableFS) Open(name string) (billy.File, error) {
	if strings.TrimPrefix(filepath.ToSlash(filepath.Clean(name)), "/") == u.name {
		return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return u.Filesystem.Open(name)
}

// sampleTree is a small deployment: two clusters, a role, common config,
// a custom override and a legacy hardware profile.
func sampleTree() map[string]string {
	return map[string]string{
		"proposals/cluster-ceph/cluster/admin.sls":        "cluster: ceph\n",
		"proposals/cluster-ceph/cluster/data1.sls":        "cluster: ceph\n",
		"proposals/cluster-unassigned/cluster/client.sls": "cluster: unassigned\n",
		"proposals/role-master/cluster/admin.sls":         "roles:\n- master\n",
		"proposals/config/stack/default/global.yml":       "time_server: admin\n",
		"proposals/config/stack/default/ceph/cluster.yml": "fsid: aaa\npublic_network: 10.0.0.0/24\n",
		"proposals/custom/stack/default/ceph/cluster.yml": "fsid: bbb\n",
		"proposals/empty/stack/default/empty.yml":         "",
		"proposals/profile-default/stack/default/ceph/minions/data1.yml": `storage:
  osds:
    - /dev/sda
    - /dev/sdb
  data+journals:
    - /dev/sda: /dev/nvme0n1
`,
		testPolicy: `# clusters
cluster-ceph/cluster/*.sls
cluster-unassigned/cluster/*.sls
role-master/cluster/admin*.sls
config/stack/default/global.yml
config/stack/default/ceph/cluster.yml
custom/stack/default/ceph/cluster.yml  # later wins
empty/stack/default/empty.yml
nothing/here/*.sls
profile-default/stack/default/ceph/minions/*.yml
`,
	}
}
