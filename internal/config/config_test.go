package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

func lookupMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "xgboost", c.Model.Type)
	assert.Equal(t, "BATCH_TREE_REORG", c.Inference.Algorithm)
	assert.Equal(t, "AUTO", c.Inference.StorageType)
	assert.Equal(t, 0.5, c.Inference.Threshold)
	assert.NoError(t, c.Validate())
	assert.Len(t, c.Options(), 8)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "fil.yaml", `
model:
  path: /models/xgb.json.zst
  type: xgboost_json
inference:
  algorithm: tree_reorg
  storageType: sparse
  outputClass: true
  threshold: 0.3
  chunkRows: 4096
  memoryLimit: 256MiB
  workers: 4
log:
  level: debug
metrics:
  addr: ":9100"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/models/xgb.json.zst", c.Model.Path)
	assert.Equal(t, "xgboost_json", c.Model.Type)
	assert.Equal(t, "tree_reorg", c.Inference.Algorithm)
	assert.Equal(t, "sparse", c.Inference.StorageType)
	assert.True(t, c.Inference.OutputClass)
	assert.Equal(t, 0.3, c.Inference.Threshold)
	assert.Equal(t, 4096, c.Inference.ChunkRows)
	assert.Equal(t, Bytes(256<<20), c.Inference.MemoryLimit)
	assert.Equal(t, 4, c.Inference.Workers)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, ":9100", c.Metrics.Addr)
}

func TestApplyEnvOverrides(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(lookupMap(map[string]string{
		"FIL_MODEL":        "model.txt",
		"FIL_MODEL_TYPE":   "lightgbm",
		"FIL_ALGORITHM":    "naive",
		"FIL_OUTPUT_CLASS": "true",
		"FIL_THRESHOLD":    "0.25",
		"FIL_CHUNK_ROWS":   "128",
		"FIL_MEMORY_LIMIT": "1G",
		"FIL_WORKERS":      "2",
		"FIL_LOG_LEVEL":    "warn",
	}))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "model.txt", c.Model.Path)
	assert.Equal(t, "lightgbm", c.Model.Type)
	assert.Equal(t, "naive", c.Inference.Algorithm)
	assert.True(t, c.Inference.OutputClass)
	assert.Equal(t, 0.25, c.Inference.Threshold)
	assert.Equal(t, 128, c.Inference.ChunkRows)
	assert.Equal(t, Bytes(1<<30), c.Inference.MemoryLimit)
	assert.Equal(t, 2, c.Inference.Workers)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestApplyEnvErrors(t *testing.T) {
	for key, value := range map[string]string{
		"FIL_OUTPUT_CLASS": "maybe",
		"FIL_THRESHOLD":    "half",
		"FIL_CHUNK_ROWS":   "many",
		"FIL_MEMORY_LIMIT": "lots",
	} {
		t.Run(key, func(t *testing.T) {
			c := Default()
			err := c.ApplyEnv(lookupMap(map[string]string{key: value}))
			var cfgErr *filerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, key, cfgErr.ParamName)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		param  string
	}{
		{"model type", func(c *Config) { c.Model.Type = "onnx" }, "model_type"},
		{"algorithm", func(c *Config) { c.Inference.Algorithm = "fastest" }, "algorithm"},
		{"storage", func(c *Config) { c.Inference.StorageType = "tree" }, "storage_type"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log_level"},
		{"chunk rows", func(c *Config) { c.Inference.ChunkRows = -1 }, "chunk_rows"},
		{"memory limit", func(c *Config) { c.Inference.MemoryLimit = -1 }, "memory_limit"},
		{"workers", func(c *Config) { c.Inference.Workers = -2 }, "workers"},
		{"threshold", func(c *Config) {
			c.Inference.OutputClass = true
			c.Inference.Threshold = math.NaN()
		}, "threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			var cfgErr *filerrors.ConfigError
			require.ErrorAs(t, c.Validate(), &cfgErr)
			assert.Equal(t, tt.param, cfgErr.ParamName)
		})
	}

	c := Default()
	c.Inference.Threshold = math.NaN()
	assert.NoError(t, c.Validate(), "threshold is unused without output classes")
}

func TestLoadEnvFile(t *testing.T) {
	t.Cleanup(func() { _ = os.Unsetenv("FIL_WORKERS") })
	envFile := writeFile(t, ".env", "FIL_WORKERS=3\n")

	c, err := Load("", filepath.Join(t.TempDir(), "missing.env"), envFile)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Inference.Workers)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	path := writeFile(t, "bad.yaml", "inference: [unclosed\n")
	_, err = Load(path)
	var cfgErr *filerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	path = writeFile(t, "bad-algo.yaml", "inference:\n  algorithm: quantum\n")
	_, err = Load(path)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "algorithm", cfgErr.ParamName)
}

func TestParseBytes(t *testing.T) {
	for in, want := range map[string]Bytes{
		"0":       0,
		"1024":    1024,
		"4KiB":    4 << 10,
		"512 MiB": 512 << 20,
		"2GiB":    2 << 30,
		"3M":      3 << 20,
		"100B":    100,
	} {
		got, err := ParseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "MiB", "1.5GiB", "99999999999999GiB"} {
		_, err := ParseBytes(in)
		assert.Error(t, err, in)
	}
}
