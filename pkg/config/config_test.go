package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "default", cfg.Workspace.Default)
	assert.Equal(t, "hashing", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dim)
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, 6, cfg.Retrieval.MaxContextChunks)
	assert.InDelta(t, 0.1, cfg.Retrieval.ReputationBoost, 1e-9)
	assert.InDelta(t, 0.2, cfg.Enrichment.MinConfidence, 1e-9)
	assert.Equal(t, 3, cfg.Enrichment.MaxDocs)
	assert.Equal(t, 500, cfg.Enrichment.MinPageChars)
	assert.False(t, cfg.Enrichment.Enabled)
	assert.False(t, cfg.LLMEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCQA_SERVER_PORT", "9090")
	t.Setenv("DOCQA_VECTOR_PROVIDER", "QDRANT")
	t.Setenv("DOCQA_LLM_APIKEY", "sk-test")
	t.Setenv("DOCQA_EMBEDDING_MAXCONCURRENCY", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.Vector.Provider)
	assert.True(t, cfg.LLMEnabled())
	assert.Equal(t, 1, cfg.Embedding.MaxConcurrency)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sqlite:
  path: /tmp/test.db
  busyTimeoutMS: 250
embedding:
  provider: OpenAI
  dim: 1536
enrichment:
  enabled: true
  maxDocs: 5
logging:
  level: DEBUG
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.SQLite.Path)
	assert.Equal(t, 250, cfg.SQLite.BusyTimeoutMS)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dim)
	assert.True(t, cfg.Enrichment.Enabled)
	assert.Equal(t, 5, cfg.Enrichment.MaxDocs)
	assert.Equal(t, 1, cfg.Enrichment.MaxPerTopic)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
