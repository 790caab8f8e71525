package smoke

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTargets(t *testing.T) {
	file := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
targets:
  - name: home
    url: http://localhost:8080/
    priority: 10
  - id: echo
    url: http://localhost:8080/api/v1/echo
  - url: http://localhost:8080/health
`), 0o644))

	targets, err := LoadTargets(file)
	require.NoError(t, err)
	require.Len(t, targets, 3)

	assert.Equal(t, "home", targets[0].ID)
	assert.Equal(t, 10, targets[0].Priority)
	assert.Equal(t, "echo", targets[1].ID)
	assert.Equal(t, "target-3", targets[2].ID)
}

func TestLoadTargets_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTargets(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("targets: [\n"), 0o644))
	_, err = LoadTargets(bad)
	assert.Error(t, err)
}

func TestTargetsFromURLs(t *testing.T) {
	targets, err := TargetsFromURLs([]string{"http://localhost/a", "https://localhost/b"})
	require.NoError(t, err)
	assert.Equal(t, "target-1", targets[0].ID)
	assert.Equal(t, "https://localhost/b", targets[1].URL)

	_, err = TargetsFromURLs([]string{"localhost/no-scheme"})
	assert.Error(t, err)
}

func TestBuildTargets_DuplicateID(t *testing.T) {
	_, err := buildTargets([]TargetSpec{
		{Name: "home", URL: "http://localhost/"},
		{Name: "home", URL: "http://localhost/again"},
	})
	assert.Error(t, err)
}
