package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "websocket", cfg.Transport)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 1, cfg.FeedBuffer)
	assert.Equal(t, "drop-oldest", cfg.FeedOverflow)
	assert.Equal(t, "own-messages", cfg.PersistPolicy)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
store: redis
redis_url: redis://localhost:6379/0
feed_buffer: 8
write_timeout: 3s
`), 0o600))

	t.Setenv("CHATSYNC_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("FEED_OVERFLOW", "drop-newest")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 8, cfg.FeedBuffer)
	assert.Equal(t, "drop-newest", cfg.FeedOverflow)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown transport", map[string]string{"TRANSPORT": "carrier-pigeon"}},
		{"zero buffer", map[string]string{"FEED_BUFFER": "0"}},
		{"bad buffer", map[string]string{"FEED_BUFFER": "many"}},
		{"unknown policy", map[string]string{"PERSIST_POLICY": "always"}},
		{"sql without dsn", map[string]string{"STORE": "sql"}},
		{"redis without url", map[string]string{"TRANSPORT": "redis"}},
		{"production without secret", map[string]string{"ENV": "production"}},
		{"bad timeout", map[string]string{"WRITE_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHATSYNC_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
