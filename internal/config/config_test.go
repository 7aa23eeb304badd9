package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsOverlapEqualToDuration(t *testing.T) {
	cfg := Default()
	cfg.AudioOverlap = cfg.AudioChunkDuration

	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsMissingProvider(t *testing.T) {
	cfg := Default()
	cfg.TranscriptionProvider = ""

	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestRoundTripIsIdentityOnValidatedConfig(t *testing.T) {
	cfg := Default()
	cfg.AudioRetentionHours = 48

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "meetcap.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	data2, err := loaded.Marshal()
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}
