package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadProjectsMixedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	writeFile(t, path, `{
		"projects": [
			"mainframe",
			{"slug": "skunkworks", "name": "Skunk Works"},
			{"name": "no slug here"},
			42,
			""
		]
	}`)

	projects, err := LoadProjects(path)
	require.NoError(t, err)
	require.Equal(t, []string{"mainframe", "skunkworks"}, projects)
}

func TestLoadProjectsMissingFileIsEmpty(t *testing.T) {
	projects, err := LoadProjects(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Nil(t, projects)
}

func TestLoadProjectsRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	writeFile(t, path, `{"projects": `)

	_, err := LoadProjects(path)
	require.Error(t, err)
}

func TestRegistryReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	writeFile(t, path, `{"projects": ["alpha"]}`)

	registry, err := NewProjectRegistry(path)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha"}, registry.Projects())

	writeFile(t, path, `{"projects": ["alpha", "beta"]}`)
	require.NoError(t, registry.Reload())
	require.Equal(t, []string{"alpha", "beta"}, registry.Projects())
}

func TestRegistryReloadFailureKeepsLastGoodList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	writeFile(t, path, `{"projects": ["alpha"]}`)

	registry, err := NewProjectRegistry(path)
	require.NoError(t, err)

	writeFile(t, path, `{"projects": `)
	require.Error(t, registry.Reload())
	require.Equal(t, []string{"alpha"}, registry.Projects())
}

func TestRegistryWatchPicksUpRewrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	writeFile(t, path, `{"projects": ["alpha"]}`)

	registry, err := NewProjectRegistry(path)
	require.NoError(t, err)
	require.NoError(t, registry.Watch())
	t.Cleanup(func() { _ = registry.Close() })

	writeFile(t, path, `{"projects": ["alpha", "beta"]}`)
	require.Eventually(t, func() bool {
		return len(registry.Projects()) == 2
	}, 3*time.Second, 20*time.Millisecond, "watcher did not pick up the rewrite")
}
