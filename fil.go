package fil

import (
	"context"
	"io"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/fil/core"
	"github.com/YuminosukeSato/fil/core/model"
	"github.com/YuminosukeSato/fil/forest"
	"github.com/YuminosukeSato/fil/importer"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// ForestInference is a loaded forest ready for batched prediction.
// It is safe for concurrent use.
type ForestInference struct {
	model     *model.Model
	forest    *forest.Forest
	predictor *forest.Predictor
	algo      forest.Algorithm
	cfg       config
}

var _ core.ContextPredictor = (*ForestInference)(nil)

// settings are the parsed string options.
type settings struct {
	modelType importer.ModelType
	algo      forest.Algorithm
	storage   forest.StorageType
}

func parseOptions(opts []Option) (config, settings, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	var s settings
	var err error
	if s.modelType, err = importer.ParseModelType(cfg.modelType); err != nil {
		return cfg, s, err
	}
	if s.algo, err = forest.ParseAlgorithm(cfg.algorithm); err != nil {
		return cfg, s, err
	}
	if s.storage, err = forest.ParseStorageType(cfg.storage); err != nil {
		return cfg, s, err
	}
	return cfg, s, nil
}

// Load imports the model file at source and builds a ForestInference.
// Compressed files (.gz, .zst, .lz4) are decompressed transparently.
func Load(source string, opts ...Option) (*ForestInference, error) {
	cfg, s, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	m, err := importer.Load(source, s.modelType)
	if err != nil {
		cfg.logger.Error("Model load failed", err,
			log.OperationKey, log.OperationLoad,
			log.ModelTypeKey, s.modelType.String(),
			log.ModelSourceKey, source,
		)
		return nil, err
	}
	fi, err := newForestInference(m, cfg, s)
	if err != nil {
		return nil, err
	}
	fi.loaded(source, s.modelType, time.Since(start))
	return fi, nil
}

// LoadReader imports a model from r. r may be compressed.
func LoadReader(r io.Reader, opts ...Option) (*ForestInference, error) {
	cfg, s, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	m, err := importer.Import(s.modelType, r)
	if err != nil {
		return nil, err
	}
	fi, err := newForestInference(m, cfg, s)
	if err != nil {
		return nil, err
	}
	fi.loaded("", s.modelType, time.Since(start))
	return fi, nil
}

// FromModel builds a ForestInference from an in-memory canonical model.
// WithModelType is ignored.
func FromModel(m *model.Model, opts ...Option) (*ForestInference, error) {
	cfg, s, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	return newForestInference(m, cfg, s)
}

func newForestInference(m *model.Model, cfg config, s settings) (*ForestInference, error) {
	f, err := forest.Build(m, s.storage, forest.WithBuildLogger(cfg.logger))
	if err != nil {
		return nil, err
	}
	pp, err := forest.NewPostprocessor(f, cfg.outputClass, cfg.threshold)
	if err != nil {
		return nil, err
	}

	popts := []forest.PredictorOption{
		forest.WithChunkRows(cfg.chunkRows),
		forest.WithMemoryLimit(cfg.memLimit),
		forest.WithWorkers(cfg.workers),
		forest.WithPredictLogger(cfg.logger),
	}
	if cfg.metrics != nil {
		metrics, algoName := cfg.metrics, s.algo.String()
		popts = append(popts, forest.WithChunkHook(func(c forest.ChunkInfo) {
			metrics.ObserveChunk(algoName, c.Rows, c.Duration)
		}))
	}
	p, err := forest.NewPredictor(f, s.algo, pp, popts...)
	if err != nil {
		return nil, err
	}
	return &ForestInference{model: m, forest: f, predictor: p, algo: s.algo, cfg: cfg}, nil
}

func (fi *ForestInference) loaded(source string, mt importer.ModelType, d time.Duration) {
	stats := fi.forest.Stats()
	if fi.cfg.metrics != nil {
		fi.cfg.metrics.ObserveLoad(mt.String(), stats.Trees, d)
	}
	fi.cfg.logger.Info("Model loaded",
		log.OperationKey, log.OperationLoad,
		log.ModelTypeKey, mt.String(),
		log.ModelSourceKey, source,
		log.TaskKey, fi.forest.Task().String(),
		log.TreesKey, stats.Trees,
		log.StorageKey, fi.forest.StorageType().String(),
		log.AlgorithmKey, fi.algo.String(),
		log.DurationMsKey, d.Milliseconds(),
	)
}

// Model returns the canonical model the forest was built from.
func (fi *ForestInference) Model() *model.Model { return fi.model }

// Forest returns the built forest.
func (fi *ForestInference) Forest() *forest.Forest { return fi.forest }

// Algorithm returns the traversal algorithm used by Predict.
func (fi *ForestInference) Algorithm() forest.Algorithm { return fi.algo }

// NumFeatures returns the number of input columns Predict expects.
func (fi *ForestInference) NumFeatures() int { return fi.forest.NumFeatures() }

// OutputCols returns the number of columns Predict returns.
func (fi *ForestInference) OutputCols() int { return fi.predictor.Cols() }

// Predict scores every row of X.
func (fi *ForestInference) Predict(X mat.Matrix) (*mat.Dense, error) {
	return fi.PredictContext(context.Background(), X)
}

// PredictContext scores every row of X. The result has one row per input
// row and OutputCols columns; an input without rows yields an empty matrix.
func (fi *ForestInference) PredictContext(ctx context.Context, X mat.Matrix) (*mat.Dense, error) {
	if X == nil {
		return nil, filerrors.NewShapeMismatchError("Predict", fi.NumFeatures(), 0, 1)
	}
	out, err := fi.predict(ctx, newMatrixSource(X))
	if err != nil {
		return nil, err
	}
	if out.Rows == 0 {
		return &mat.Dense{}, nil
	}
	return mat.NewDense(out.Rows, out.Cols, out.Data), nil
}

// PredictBatch scores a row-major batch without copying it.
func (fi *ForestInference) PredictBatch(ctx context.Context, b forest.Batch) (forest.Output, error) {
	start := time.Now()
	out, err := fi.predictor.Predict(ctx, b)
	fi.observe(b.Rows, start, err)
	return out, err
}

// PredictSource scores rows pulled from src chunk by chunk.
func (fi *ForestInference) PredictSource(ctx context.Context, src forest.RowSource) (forest.Output, error) {
	return fi.predict(ctx, src)
}

func (fi *ForestInference) predict(ctx context.Context, src forest.RowSource) (forest.Output, error) {
	start := time.Now()
	out, err := fi.predictor.PredictSource(ctx, src)
	rows, _ := src.Dims()
	fi.observe(rows, start, err)
	return out, err
}

func (fi *ForestInference) observe(rows int, start time.Time, err error) {
	if fi.cfg.metrics != nil {
		fi.cfg.metrics.ObservePredict(fi.algo.String(), rows, time.Since(start), err)
	}
}
