// Package config loads the command-line tool's settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// FIL_* environment variables (optionally read from .env files), then flags
// applied by the caller.
package config

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/fil"
	"github.com/YuminosukeSato/fil/forest"
	"github.com/YuminosukeSato/fil/importer"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FIL_"

// Config holds the settings of one run.
type Config struct {
	Model struct {
		Path string `yaml:"path"`
		Type string `yaml:"type"`
	} `yaml:"model"`

	Inference struct {
		Algorithm   string  `yaml:"algorithm"`
		StorageType string  `yaml:"storageType"`
		OutputClass bool    `yaml:"outputClass"`
		Threshold   float64 `yaml:"threshold"`
		ChunkRows   int     `yaml:"chunkRows"`
		MemoryLimit Bytes   `yaml:"memoryLimit"`
		Workers     int     `yaml:"workers"`
	} `yaml:"inference"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	var c Config
	c.Model.Type = fil.DefaultModelType
	c.Inference.Algorithm = fil.DefaultAlgorithm
	c.Inference.StorageType = fil.DefaultStorageType
	c.Inference.Threshold = fil.DefaultThreshold
	c.Log.Level = "info"
	return c
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when empty) and the process environment. envFiles are loaded into the
// environment first without overriding variables that are already set;
// missing env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	c := Default()
	if path != "" {
		if err := c.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, filerrors.Wrapf(err, "load env file %s", f)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return filerrors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return filerrors.NewConfigError("config", path, "parse yaml: "+err.Error())
	}
	return nil
}

// ApplyEnv overrides settings from FIL_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("MODEL", &c.Model.Path)
	str("MODEL_TYPE", &c.Model.Type)
	str("ALGORITHM", &c.Inference.Algorithm)
	str("STORAGE_TYPE", &c.Inference.StorageType)
	str("LOG_LEVEL", &c.Log.Level)
	str("METRICS_ADDR", &c.Metrics.Addr)

	if v, ok := lookup(EnvPrefix + "OUTPUT_CLASS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("OUTPUT_CLASS", v, "expected a boolean")
		}
		c.Inference.OutputClass = b
	}
	if v, ok := lookup(EnvPrefix + "THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("THRESHOLD", v, "expected a number")
		}
		c.Inference.Threshold = f
	}
	for _, e := range []struct {
		key string
		dst *int
	}{
		{"CHUNK_ROWS", &c.Inference.ChunkRows},
		{"WORKERS", &c.Inference.Workers},
	} {
		if v, ok := lookup(EnvPrefix + e.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return envError(e.key, v, "expected an integer")
			}
			*e.dst = n
		}
	}
	if v, ok := lookup(EnvPrefix + "MEMORY_LIMIT"); ok {
		n, err := ParseBytes(v)
		if err != nil {
			return envError("MEMORY_LIMIT", v, err.Error())
		}
		c.Inference.MemoryLimit = n
	}
	return nil
}

func envError(key, value, reason string) error {
	return filerrors.NewConfigError(EnvPrefix+key, value, reason)
}

// Validate checks every enumerated and numeric setting.
func (c Config) Validate() error {
	if _, err := importer.ParseModelType(c.Model.Type); err != nil {
		return err
	}
	if _, err := forest.ParseAlgorithm(c.Inference.Algorithm); err != nil {
		return err
	}
	if _, err := forest.ParseStorageType(c.Inference.StorageType); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch {
	case c.Inference.OutputClass && math.IsNaN(c.Inference.Threshold):
		return filerrors.NewConfigError("threshold", c.Inference.Threshold, "threshold must be a number")
	case c.Inference.ChunkRows < 0:
		return filerrors.NewConfigError("chunk_rows", c.Inference.ChunkRows, "must not be negative")
	case c.Inference.MemoryLimit < 0:
		return filerrors.NewConfigError("memory_limit", int64(c.Inference.MemoryLimit), "must not be negative")
	case c.Inference.Workers < 0:
		return filerrors.NewConfigError("workers", c.Inference.Workers, "must not be negative")
	}
	return nil
}

// Options converts the inference settings into fil options.
func (c Config) Options() []fil.Option {
	return []fil.Option{
		fil.WithModelType(c.Model.Type),
		fil.WithAlgorithm(c.Inference.Algorithm),
		fil.WithStorageType(c.Inference.StorageType),
		fil.WithOutputClass(c.Inference.OutputClass),
		fil.WithThreshold(c.Inference.Threshold),
		fil.WithChunkRows(c.Inference.ChunkRows),
		fil.WithMemoryLimit(int64(c.Inference.MemoryLimit)),
		fil.WithWorkers(c.Inference.Workers),
	}
}

// Bytes is a byte count that YAML and the environment may spell with an
// IEC suffix, such as "512MiB".
type Bytes int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	n, err := ParseBytes(node.Value)
	if err != nil {
		return err
	}
	*b = n
	return nil
}

var byteUnits = []struct {
	suffix string
	scale  int64
}{
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"GiB", 1 << 30},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
	{"B", 1},
}

// ParseBytes parses a plain integer or an integer with a KiB, MiB or GiB
// suffix (K, M and G are accepted as the same units).
func ParseBytes(s string) (Bytes, error) {
	s = strings.TrimSpace(s)
	scale := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			scale = u.scale
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, filerrors.Newf("invalid byte size %q", s)
	}
	if n > math.MaxInt64/scale || n < math.MinInt64/scale {
		return 0, filerrors.Newf("byte size %q overflows", s)
	}
	return Bytes(n * scale), nil
}
