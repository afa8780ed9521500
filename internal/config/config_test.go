package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	var c Config
	c.ApplyDefaults()
	c.Database.URL = "postgres://localhost/corpora"
	c.Auth.PipelineSecret = "secret"
	return c
}

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()

	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, "gemini", c.AI.EmbedProvider)
	assert.Equal(t, 768, c.AI.EmbedDim)
	assert.Equal(t, 10, c.Pipeline.BatchCap)
	assert.Equal(t, "window", c.Pipeline.ChunkStrategy)
	assert.Equal(t, 1000, c.Pipeline.WindowSize)
	assert.Equal(t, 16, c.Pipeline.EmbedBatchSize)
	assert.Equal(t, 5, c.Pipeline.MaxRetries)
	assert.Equal(t, 3000, c.Pipeline.ContextTokenLimit)
	assert.Equal(t, 800, c.Pipeline.MaxChunkTokens)
	assert.InDelta(t, 3.5, c.Pipeline.RelevanceCeiling, 1e-9)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	c := Config{}
	c.Pipeline.BatchCap = 3
	c.Pipeline.ChunkStrategy = "semantic"
	c.ApplyDefaults()

	assert.Equal(t, 3, c.Pipeline.BatchCap)
	assert.Equal(t, "semantic", c.Pipeline.ChunkStrategy)
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		c := validConfig()
		require.NoError(t, c.Validate())
	})

	t.Run("missing database url", func(t *testing.T) {
		c := validConfig()
		c.Database.URL = ""
		assert.Error(t, c.Validate())
	})

	t.Run("unknown chunk strategy", func(t *testing.T) {
		c := validConfig()
		c.Pipeline.ChunkStrategy = "overlap"
		assert.Error(t, c.Validate())
	})

	t.Run("unknown embed provider", func(t *testing.T) {
		c := validConfig()
		c.AI.EmbedProvider = "cohere"
		assert.Error(t, c.Validate())
	})

	t.Run("missing pipeline secret", func(t *testing.T) {
		c := validConfig()
		c.Auth.PipelineSecret = ""
		assert.Error(t, c.Validate())
	})

	t.Run("cache enabled without addrs", func(t *testing.T) {
		c := validConfig()
		c.Cache.Enabled = true
		c.Cache.Addrs = nil
		assert.Error(t, c.Validate())
	})
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CORPORA_TEST_VAR", "resolved")

	in := []byte("a: ${CORPORA_TEST_VAR}\nb: ${CORPORA_TEST_MISSING:-fallback}\nc: ${CORPORA_TEST_MISSING}")
	got := string(expandEnvVars(in))

	assert.Equal(t, "a: resolved\nb: fallback\nc: ", got)
}
