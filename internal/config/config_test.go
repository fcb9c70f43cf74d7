package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/config"
)

func TestDefaultAppliesBuiltInValues(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, int64(1000), cfg.Budget.DefaultMaxSpend)
	require.Equal(t, 0.9, cfg.Harness.HandoffThreshold)
	require.Equal(t, 16000, cfg.Harness.ResumeCeilingTokens)
	require.Equal(t, 30*time.Minute, cfg.Harness.MaxDuration)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rye.toml")
	contents := `
[roots]
project = "/tmp/project"

[budget]
default_max_spend = 5000

[[roots.bundles]]
name = "core"
root = "/opt/rye/bundles/core"
owns = ["tool.core.*"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/project", cfg.Roots.Project)
	require.Equal(t, int64(5000), cfg.Budget.DefaultMaxSpend)
	// Unset fields still fall back to Default().
	require.Equal(t, 0.9, cfg.Harness.HandoffThreshold)
	require.Equal(t, 16000, cfg.Harness.ResumeCeilingTokens)

	layout := cfg.ResolverLayout()
	require.Equal(t, "/tmp/project", layout.ProjectRoot)
	require.Len(t, layout.SystemBundles, 1)
	require.Equal(t, "core", layout.SystemBundles[0].Name)
	require.Equal(t, []string{"tool.core.*"}, layout.SystemBundles[0].Categories)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
