package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayMissingFileKeepsDefaults(t *testing.T) {
	p := defaultPipeline()
	require.NoError(t, loadOverlay(filepath.Join(t.TempDir(), "nope.yaml"), &p))
	assert.Equal(t, defaultPipeline(), p)
}

func TestOverlayMergesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 500\nworkers: 2\n"), 0o644))

	p := defaultPipeline()
	require.NoError(t, loadOverlay(path, &p))
	assert.Equal(t, 500, p.ChunkSize)
	assert.Equal(t, 2, p.Workers)
	assert.Equal(t, 200, p.ChunkOverlap, "unset fields keep defaults")
	assert.Equal(t, 3, p.RetryAttempts)
}

func TestOverlayRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: [broken"), 0o644))

	p := defaultPipeline()
	assert.Error(t, loadOverlay(path, &p))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("STRATALINE_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("STRATALINE_TEST_INT", 7))

	t.Setenv("STRATALINE_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvInt("STRATALINE_TEST_INT", 7))

	assert.Equal(t, 7, getEnvInt("STRATALINE_TEST_INT_UNSET", 7))
}
