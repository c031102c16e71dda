package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"id":"root-plugin","name":"Root","version":"1.0.0","kinds":["memory"],"entry":{"type":"builtin"}}`)
	writeManifest(t, filepath.Join(root, "beta"), `{"id":"beta-plugin","name":"B","version":"0.1.0","kinds":["feed.market"],"entry":{"type":"http","url":"http://localhost:1"}}`)
	writeManifest(t, filepath.Join(root, "alpha"), `{"id":"alpha-plugin","name":"A","version":"0.1.0","kinds":["connector.mt5"],"entry":{"type":"stdio"}}`)

	manifests, diagnostics := Discover(root)
	assert.Empty(t, diagnostics)
	require.Len(t, manifests, 3)

	// Root manifest first, then child directories in sorted order.
	assert.Equal(t, "root-plugin", manifests[0].ID)
	assert.Equal(t, "alpha-plugin", manifests[1].ID)
	assert.Equal(t, "beta-plugin", manifests[2].ID)
}

func TestDiscover_DuplicateIDIgnored(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "one"), `{"id":"dupe","name":"One","version":"1","kinds":["memory"],"entry":{"type":"builtin"}}`)
	writeManifest(t, filepath.Join(root, "two"), `{"id":"dupe","name":"Two","version":"2","kinds":["memory"],"entry":{"type":"builtin"}}`)

	manifests, diagnostics := Discover(root)
	require.Len(t, manifests, 1)
	assert.Equal(t, "One", manifests[0].Name)
	require.Len(t, diagnostics, 1)
	assert.Equal(t,
		"Duplicate plugin id 'dupe' from '"+filepath.Join(root, "two", "plugin.json")+"' ignored",
		diagnostics[0])
}

func TestDiscover_InvalidManifests(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "broken"), `{not json`)
	writeManifest(t, filepath.Join(root, "kindless"), `{"id":"k","name":"K","version":"1","kinds":[],"entry":{"type":"builtin"}}`)
	writeManifest(t, filepath.Join(root, "extras"), `{"id":"ok","name":"OK","version":"1","kinds":["memory"],"entry":{"type":"builtin"},"vendor":{"custom":true}}`)

	manifests, diagnostics := Discover(root)
	require.Len(t, manifests, 1, "extra manifest keys are tolerated")
	assert.Equal(t, "ok", manifests[0].ID)
	assert.Len(t, diagnostics, 2)
}

func TestDiscover_EmptyRoot(t *testing.T) {
	manifests, diagnostics := Discover(t.TempDir())
	assert.Empty(t, manifests)
	assert.Empty(t, diagnostics)
}

func memoryManifest(id string) Manifest {
	return Manifest{ID: id, Name: id, Version: "1", Kinds: []string{"memory"}}
}

func TestResolve_Enablement(t *testing.T) {
	manifests := []Manifest{memoryManifest("a"), memoryManifest("b"), memoryManifest("c")}

	t.Run("empty allow enables everything", func(t *testing.T) {
		status := Resolve(manifests, nil, nil, nil)
		assert.Equal(t, []string{"a", "b", "c"}, status.EnabledPlugins)
	})

	t.Run("allow list intersects", func(t *testing.T) {
		status := Resolve(manifests, []string{"b", "ghost"}, nil, nil)
		assert.Equal(t, []string{"b"}, status.EnabledPlugins)
	})

	t.Run("deny removes from the survivors", func(t *testing.T) {
		status := Resolve(manifests, nil, []string{"b"}, nil)
		assert.Equal(t, []string{"a", "c"}, status.EnabledPlugins)
	})
}

func TestResolve_Slots(t *testing.T) {
	manifests := []Manifest{
		memoryManifest("sqlite_fts"),
		{ID: "mt5", Name: "MT5", Version: "1", Kinds: []string{"connector.mt5"}},
	}

	t.Run("matching slot binds", func(t *testing.T) {
		status := Resolve(manifests, nil, nil, map[string]string{"memory": "sqlite_fts"})
		assert.Equal(t, map[string]string{"memory": "sqlite_fts"}, status.ActiveSlots)
		assert.Empty(t, status.Diagnostics)
	})

	t.Run("unknown plugin diagnosed", func(t *testing.T) {
		status := Resolve(manifests, nil, nil, map[string]string{"memory": "ghost"})
		assert.Empty(t, status.ActiveSlots)
		assert.Equal(t, []string{"Slot 'memory' references unknown plugin 'ghost'"}, status.Diagnostics)
	})

	t.Run("disabled plugin diagnosed", func(t *testing.T) {
		status := Resolve(manifests, nil, []string{"sqlite_fts"}, map[string]string{"memory": "sqlite_fts"})
		assert.Equal(t, []string{"Slot 'memory' plugin 'sqlite_fts' is not enabled"}, status.Diagnostics)
	})

	t.Run("kind mismatch diagnosed", func(t *testing.T) {
		status := Resolve(manifests, nil, nil, map[string]string{"memory": "mt5"})
		assert.Equal(t, []string{"Slot 'memory' expects kind 'memory' but got 'connector'"}, status.Diagnostics)
	})
}

func TestNormalizeKind(t *testing.T) {
	tests := map[string]string{
		"memory":         "memory",
		"memory.backend": "memory",
		"connector.mt5":  "connector",
		"feed.market":    "feed",
		"channel.push":   "channel",
		"custom.thing":   "custom",
		"widget":         "widget",
		"":               "unknown",
	}
	for kind, want := range tests {
		assert.Equal(t, want, normalizeKind(kind), kind)
	}
}
