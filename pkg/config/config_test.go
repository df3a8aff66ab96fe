package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtualhe/pkg/compositor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 99.999, cfg.Normalization.Percentile)
	assert.Equal(t, compositor.DefaultParams(), cfg.StainParams())
	assert.Equal(t, 95, cfg.Output.JPEGQuality)
	assert.False(t, cfg.Output.SaveIntermediaryResults)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtualhe.yaml")
	data := []byte(`
normalization:
  percentile: 99.5
stain:
  k: 2.0
  eosin:
    red: 0.1
output:
  verbose: true
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 99.5, cfg.Normalization.Percentile)
	assert.Equal(t, 2.0, cfg.Stain.K)
	assert.Equal(t, 0.1, cfg.Stain.Eosin.Red)
	// untouched entries keep their defaults
	assert.Equal(t, 1.000, cfg.Stain.Eosin.Green)
	assert.Equal(t, 0.860, cfg.Stain.Hematoxylin.Red)
	assert.True(t, cfg.Output.Verbose)
	assert.Equal(t, 1024, cfg.Display.MaxSize)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"percentile": "normalization:\n  percentile: 120\n",
		"k":          "stain:\n  k: -1\n",
		"coef":       "stain:\n  hematoxylin:\n    blue: -0.3\n",
		"quality":    "output:\n  jpegQuality: 0\n",
		"maxSize":    "display:\n  maxSize: 0\n",
		"syntax":     "normalization: [\n",
	}

	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "virtualhe.yaml")

	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.IntermediaryDir = "steps"
	require.NoError(t, SaveConfig(cfg, path))

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Output.SaveIntermediaryResults)
	assert.Equal(t, "steps", reloaded.Output.IntermediaryDir)
}

func TestValidateIntermediaryDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.IntermediaryDir = ""
	assert.Error(t, cfg.Validate())
}
