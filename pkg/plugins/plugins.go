// Package plugins discovers plugin manifests on disk and resolves which
// plugins fill the gateway's extension slots.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// slotKinds maps each extension slot to the plugin kind it accepts.
var slotKinds = map[string]string{
	"memory": "memory",
}

// Entry describes how a plugin is launched or reached.
type Entry struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Manifest is a plugin.json file. Unknown fields are tolerated so plugins
// can carry vendor extensions.
type Manifest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Kinds   []string `json:"kinds"`
	Entry   Entry    `json:"entry"`

	// Path is where the manifest was found; not part of the manifest itself.
	Path string `json:"-"`
}

// Status is the wire payload for plugins.status.
type Status struct {
	EnabledPlugins []string          `json:"enabledPlugins"`
	ActiveSlots    map[string]string `json:"activeSlots"`
	Diagnostics    []string          `json:"diagnostics"`
}

// Discover loads plugin manifests from root/plugin.json and from each
// immediate child directory's plugin.json, in sorted directory order. A
// manifest whose id was already seen is ignored with a diagnostic.
func Discover(root string) ([]Manifest, []string) {
	manifests := []Manifest{}
	diagnostics := []string{}
	seen := map[string]bool{}

	candidates := []string{filepath.Join(root, "plugin.json")}
	entries, err := os.ReadDir(root)
	if err == nil {
		names := []string{}
		for _, entry := range entries {
			if entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			candidates = append(candidates, filepath.Join(root, name, "plugin.json"))
		}
	}

	for _, path := range candidates {
		manifest, err := loadManifest(path)
		if err != nil {
			if !os.IsNotExist(err) {
				diagnostics = append(diagnostics, fmt.Sprintf("Invalid manifest at '%s': %v", path, err))
			}
			continue
		}
		if seen[manifest.ID] {
			diagnostics = append(diagnostics, fmt.Sprintf("Duplicate plugin id '%s' from '%s' ignored", manifest.ID, path))
			continue
		}
		seen[manifest.ID] = true
		manifests = append(manifests, manifest)
	}
	return manifests, diagnostics
}

func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("malformed JSON: %v", err)
	}
	if manifest.ID == "" {
		return Manifest{}, fmt.Errorf("manifest id must be non-empty")
	}
	if len(manifest.Kinds) == 0 {
		return Manifest{}, fmt.Errorf("manifest must declare at least one kind")
	}
	manifest.Path = path
	return manifest, nil
}

// Resolve computes the enabled plugin set and slot assignments.
//
// Enablement: with an empty allow list every discovered plugin is enabled;
// otherwise only plugins on the allow list are. The deny list then removes
// plugins from whatever survived.
func Resolve(manifests []Manifest, allow, deny []string, slots map[string]string) Status {
	diagnostics := []string{}

	byID := map[string]Manifest{}
	for _, manifest := range manifests {
		byID[manifest.ID] = manifest
	}

	allowed := map[string]bool{}
	if len(allow) == 0 {
		for id := range byID {
			allowed[id] = true
		}
	} else {
		for _, id := range allow {
			if _, ok := byID[id]; ok {
				allowed[id] = true
			}
		}
	}
	for _, id := range deny {
		delete(allowed, id)
	}

	enabled := make([]string, 0, len(allowed))
	for id := range allowed {
		enabled = append(enabled, id)
	}
	sort.Strings(enabled)

	activeSlots := map[string]string{}
	slotNames := make([]string, 0, len(slots))
	for slot := range slots {
		slotNames = append(slotNames, slot)
	}
	sort.Strings(slotNames)

	for _, slot := range slotNames {
		pluginID := slots[slot]
		manifest, ok := byID[pluginID]
		if !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("Slot '%s' references unknown plugin '%s'", slot, pluginID))
			continue
		}
		if !allowed[pluginID] {
			diagnostics = append(diagnostics, fmt.Sprintf("Slot '%s' plugin '%s' is not enabled", slot, pluginID))
			continue
		}
		expected := slotKinds[slot]
		got := normalizeKind(manifest.Kinds[0])
		if expected != "" && got != expected {
			diagnostics = append(diagnostics, fmt.Sprintf("Slot '%s' expects kind '%s' but got '%s'", slot, expected, got))
			continue
		}
		activeSlots[slot] = pluginID
	}

	return Status{
		EnabledPlugins: enabled,
		ActiveSlots:    activeSlots,
		Diagnostics:    diagnostics,
	}
}

// normalizeKind collapses dotted kind variants onto their slot family.
func normalizeKind(kind string) string {
	switch {
	case kind == "memory" || kind == "memory.backend":
		return "memory"
	case strings.HasPrefix(kind, "connector"):
		return "connector"
	case strings.HasPrefix(kind, "feed"):
		return "feed"
	case strings.HasPrefix(kind, "channel"):
		return "channel"
	}
	if first, _, found := strings.Cut(kind, "."); found && first != "" {
		return first
	}
	if kind != "" {
		return kind
	}
	return "unknown"
}
