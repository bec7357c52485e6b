package fil

import (
	"time"

	"github.com/YuminosukeSato/fil/forest"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// Defaults applied by Load, LoadReader and FromModel.
const (
	DefaultModelType   = "xgboost"
	DefaultAlgorithm   = "BATCH_TREE_REORG"
	DefaultStorageType = "AUTO"
	DefaultThreshold   = forest.DefaultThreshold
)

// MetricsCollector receives load and predict measurements.
// internal/metrics provides a Prometheus implementation.
type MetricsCollector interface {
	ObserveLoad(modelType string, trees int, d time.Duration)
	ObservePredict(algorithm string, rows int, d time.Duration, err error)
	ObserveChunk(algorithm string, rows int, d time.Duration)
}

type config struct {
	modelType   string
	algorithm   string
	storage     string
	outputClass bool
	threshold   float64
	chunkRows   int
	memLimit    int64
	workers     int
	logger      log.Logger
	metrics     MetricsCollector
}

func defaultConfig() config {
	return config{
		modelType: DefaultModelType,
		algorithm: DefaultAlgorithm,
		storage:   DefaultStorageType,
		threshold: DefaultThreshold,
		logger:    log.GetLoggerWithName("fil"),
	}
}

// Option configures a ForestInference.
type Option func(*config)

// WithModelType sets the serialized format: "xgboost", "xgboost_json",
// "lightgbm" or "fil". Case-insensitive.
func WithModelType(t string) Option {
	return func(c *config) { c.modelType = t }
}

// WithAlgorithm sets the traversal algorithm: "NAIVE", "TREE_REORG" or
// "BATCH_TREE_REORG". Case-insensitive.
func WithAlgorithm(algo string) Option {
	return func(c *config) { c.algorithm = algo }
}

// WithStorageType sets the forest layout: "AUTO", "DENSE" or "SPARSE".
// Case-insensitive.
func WithStorageType(s string) Option {
	return func(c *config) { c.storage = s }
}

// WithOutputClass makes Predict return class labels instead of scores.
func WithOutputClass(on bool) Option {
	return func(c *config) { c.outputClass = on }
}

// WithThreshold sets the binary decision boundary used with WithOutputClass.
func WithThreshold(t float64) Option {
	return func(c *config) { c.threshold = t }
}

// WithChunkRows fixes the rows scored per chunk. Zero derives it from the
// working-set budget.
func WithChunkRows(n int) Option {
	return func(c *config) { c.chunkRows = n }
}

// WithMemoryLimit caps the scratch bytes held by concurrent Predict calls.
func WithMemoryLimit(bytes int64) Option {
	return func(c *config) { c.memLimit = bytes }
}

// WithWorkers sets the number of scoring goroutines. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithLogger replaces the default "fil" logger.
func WithLogger(l log.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers a collector for load and predict measurements.
func WithMetrics(m MetricsCollector) Option {
	return func(c *config) { c.metrics = m }
}
