package envs_test

import (
	"testing"
	"time"

	"github.com/ditto-assistant/txt2img/cfg/envs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T) error {
	t.Helper()
	envs.Reset()
	t.Cleanup(envs.Reset)
	return envs.Load()
}

func TestLoadLocal(t *testing.T) {
	t.Setenv("TXT2IMG_ENV", "local")
	require.NoError(t, load(t))
	assert.Equal(t, envs.EnvLocal, envs.TXT2IMG_ENV)
	assert.NotEmpty(t, envs.MODEL_FAMILY)
	assert.NotEmpty(t, envs.INFERENCE_URL)
	assert.Equal(t, "gen-images", envs.KEY_PREFIX)
	assert.GreaterOrEqual(t, envs.WORKER_CONCURRENCY, 1)
}

func TestProcessEnvWins(t *testing.T) {
	t.Setenv("TXT2IMG_ENV", "local")
	t.Setenv("MODEL_FAMILY", "sdxl")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("PUBLIC_URL", "https://images.example.com/")
	require.NoError(t, load(t))
	assert.Equal(t, "sdxl", envs.MODEL_FAMILY)
	assert.Equal(t, 250*time.Millisecond, envs.POLL_INTERVAL)
	assert.Equal(t, "https://images.example.com", envs.PUBLIC_URL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown env", "TXT2IMG_ENV", "dev"},
		{"zero concurrency", "WORKER_CONCURRENCY", "0"},
		{"bad concurrency", "WORKER_CONCURRENCY", "two"},
		{"bad interval", "POLL_INTERVAL", "soon"},
		{"bad ssl flag", "BUCKET_USE_SSL", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TXT2IMG_ENV", "local")
			t.Setenv(tt.key, tt.value)
			assert.Error(t, load(t))
		})
	}
}
