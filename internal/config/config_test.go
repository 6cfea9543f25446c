package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  node_id: node-a\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Server.NodeID)
	assert.Equal(t, 50053, cfg.Server.Port)
	assert.Equal(t, 4096, cfg.CommitLog.HistorySize)
	assert.Equal(t, 5*time.Second, cfg.CommitLog.WaitTimeout)
	assert.Equal(t, 3, cfg.RemoteRead.MaxRetries)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("GMU_NODE_ID", "from-env")
	t.Setenv("GMU_METRICS_PORT", "9191")

	cfg, err := Parse([]byte(`
server:
  node_id: node-a
commit_log:
  history_size: 10
  wait_timeout: 250ms
garbage_collector:
  min_retained: 5
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.NodeID)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, 10, cfg.CommitLog.HistorySize)
	assert.Equal(t, 250*time.Millisecond, cfg.CommitLog.WaitTimeout)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing node id", "server:\n  port: 1000\n"},
		{"bad port", "server:\n  node_id: a\n  port: 70000\n"},
		{"retained exceeds history", "server:\n  node_id: a\ncommit_log:\n  history_size: 4\ngarbage_collector:\n  min_retained: 8\n"},
		{"bad log format", "server:\n  node_id: a\nlogging:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_SampleFile(t *testing.T) {
	cfg, err := LoadConfig("../../config/gmu-node.yaml")
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Server.NodeID)
	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, cfg.Server.Members)
	assert.Equal(t, 50*time.Millisecond, cfg.CommitQueue.DrainInterval)
	assert.Equal(t, 2, cfg.Ownership.ReplicationFactor)
	assert.False(t, cfg.Gossip.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}
