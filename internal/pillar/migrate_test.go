package pillar

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/pillarctl/internal/merge"
)

func profile(t *testing.T, src string) *yaml.Node {
	t.Helper()
	doc, err := merge.Load([]byte(src))
	require.NoError(t, err)
	return doc
}

// plain decodes a mapping node into Go values.
func plain(t *testing.T, n *yaml.Node) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, n.Decode(&v))
	return v
}

func TestMigrateProfile_Legacy(t *testing.T) {
	doc := profile(t, `
storage:
  osds: [a, b]
  data+journals:
    - a: j1
`)
	layout, err := MigrateProfile(doc)
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacy, layout)

	assert.Nil(t, merge.Get(doc, "storage"))
	assert.Equal(t, map[string]any{
		"ceph": map[string]any{
			"storage": map[string]any{
				"osds": map[string]any{
					"a": map[string]any{"format": "bluestore", "wal": "j1", "db": "j1"},
					"b": map[string]any{"format": "bluestore"},
				},
			},
		},
	}, plain(t, doc))
}

func TestMigrateProfile_LegacyKeepsOtherKeys(t *testing.T) {
	doc := profile(t, `
ceph:
  mon_count: 3
storage:
  osds: [/dev/sda]
  data+journals: []
roles: [storage]
`)
	_, err := MigrateProfile(doc)
	require.NoError(t, err)

	out := plain(t, doc)
	ceph := out["ceph"].(map[string]any)
	assert.Equal(t, 3, ceph["mon_count"])
	assert.Equal(t, []any{"storage"}, out["roles"])
	assert.Equal(t, map[string]any{"/dev/sda": map[string]any{"format": "bluestore"}},
		ceph["storage"].(map[string]any)["osds"])
}

func TestMigrateProfile_Ceph(t *testing.T) {
	doc := profile(t, `
ceph:
  storage:
    osds:
      a:
        format: filestore
        journal: j1
      b:
        format: filestore
        journal: b
      c:
        format: filestore
      d:
        format: bluestore
        db: nvme
`)
	layout, err := MigrateProfile(doc)
	require.NoError(t, err)
	assert.Equal(t, LayoutCeph, layout)

	osds := plain(t, doc)["ceph"].(map[string]any)["storage"].(map[string]any)["osds"].(map[string]any)
	assert.Equal(t, map[string]any{"format": "bluestore", "wal": "j1", "db": "j1"}, osds["a"])
	assert.Equal(t, map[string]any{"format": "bluestore"}, osds["b"])
	assert.Equal(t, map[string]any{"format": "bluestore"}, osds["c"])
	assert.Equal(t, map[string]any{"format": "bluestore", "db": "nvme"}, osds["d"])
}

func TestMigrateProfile_Unknown(t *testing.T) {
	doc := profile(t, "roles: [storage]\n")
	layout, err := MigrateProfile(doc)
	require.NoError(t, err)
	assert.Equal(t, LayoutUnknown, layout)
	assert.Equal(t, map[string]any{"roles": []any{"storage"}}, plain(t, doc))
}

func TestMigrateProfile_Malformed(t *testing.T) {
	tests := map[string]struct {
		src  string
		path string
	}{
		"ceph osd not a mapping":      {"ceph:\n  storage:\n    osds:\n      a: filestore\n", "ceph.storage.osds.a"},
		"journal entry not a mapping": {"storage:\n  osds: [a]\n  data+journals: [a]\n", "storage.data+journals"},
		"osds scalar":                 {"storage:\n  osds: /dev/sda\n", "storage.osds"},
		"osds nested list":            {"storage:\n  osds: [[/dev/sda]]\n", "storage.osds"},
		"journals mapping":            {"storage:\n  osds: [a]\n  data+journals: {a: j1}\n", "storage.data+journals"},
		"journals scalar":             {"storage:\n  osds: [a]\n  data+journals: j1\n", "storage.data+journals"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := MigrateProfile(profile(t, tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}

func TestMigrateProfile_LegacyOSDMapping(t *testing.T) {
	doc := profile(t, "storage: {osds: {/dev/sda: {}, /dev/sdb: {}}, data+journals: []}\n")

	layout, err := MigrateProfile(doc)
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacy, layout)
	assert.Equal(t, map[string]any{
		"/dev/sda": map[string]any{"format": "bluestore"},
		"/dev/sdb": map[string]any{"format": "bluestore"},
	}, plain(t, doc)["ceph"].(map[string]any)["storage"].(map[string]any)["osds"])
}

func TestRewritePolicy(t *testing.T) {
	in := "profile-a/x.yml\n  profile-b/y.yml\nrole-x/profile-z\r\nprofile-c/z.yml"
	want := "migrated-profile-a/x.yml\n  profile-b/y.yml\nrole-x/profile-z\r\nmigrated-profile-c/z.yml"
	assert.Equal(t, want, string(RewritePolicy([]byte(in))))
}

func TestIsProfile(t *testing.T) {
	assert.True(t, isProfile("profile-default/stack/default/ceph/minions/data1.yml"))
	assert.False(t, isProfile("role-storage/profile-x.yml"))
	assert.False(t, isProfile("migrated-profile-default/stack/x.yml"))
	assert.Equal(t, "migrated-profile-default/stack/x.yml", migratedPath("profile-default/stack/x.yml"))
}

func TestConvert(t *testing.T) {
	f := newFixture(t, sampleTree(), false)
	original := readString(t, f.fs, "proposals/profile-default/stack/default/ceph/minions/data1.yml")
	originalPolicy := readString(t, f.fs, testPolicy)

	require.NoError(t, f.pillar.Convert(testPolicy))

	// The source profile is untouched and a migrated copy exists.
	assert.Equal(t, original, readString(t, f.fs, "proposals/profile-default/stack/default/ceph/minions/data1.yml"))
	migrated := profile(t, readString(t, f.fs, "proposals/migrated-profile-default/stack/default/ceph/minions/data1.yml"))
	assert.Equal(t, map[string]any{
		"ceph": map[string]any{"storage": map[string]any{"osds": map[string]any{
			"/dev/sda": map[string]any{"format": "bluestore", "wal": "/dev/nvme0n1", "db": "/dev/nvme0n1"},
			"/dev/sdb": map[string]any{"format": "bluestore"},
		}}},
	}, plain(t, migrated))

	// Policy backed up and rewritten.
	assert.Equal(t, originalPolicy, readString(t, f.fs, testPolicy+BackupSuffix))
	assert.Contains(t, readString(t, f.fs, testPolicy), "\nmigrated-profile-default/stack/default/ceph/minions/*.yml\n")

	// The push ran with the migrated profile.
	pushed := plain(t, profile(t, readString(t, f.fs, "stack/default/ceph/minions/data1.yml")))
	assert.NotContains(t, pushed, "storage")
	assert.Contains(t, pushed, "ceph")
}

func TestConvert_AlreadyMigrated(t *testing.T) {
	f := newFixture(t, sampleTree(), false)
	require.NoError(t, f.pillar.Convert(testPolicy))
	before := snapshot(t, f.fs)

	err := f.pillar.Convert(testPolicy)
	require.ErrorIs(t, err, ErrAlreadyMigrated)
	assert.Equal(t, before, snapshot(t, f.fs))
}

func TestConvert_UnreadablePolicy(t *testing.T) {
	mem := memfs.New()
	writeTree(t, mem, sampleTree())
	f := newFixtureOn(t, unreadableFS{mem, testPolicy}, false)
	before := snapshot(t, mem)

	require.NoError(t, f.pillar.Convert(testPolicy))
	assert.Equal(t, 1, f.warnings("nothing to migrate"))
	assert.Equal(t, before, snapshot(t, mem))
}

func TestConvert_MissingPolicy(t *testing.T) {
	f := newFixture(t, map[string]string{}, false)
	require.NoError(t, f.pillar.Convert(testPolicy))
	assert.Equal(t, 1, f.warnings("nothing to migrate"))
}
