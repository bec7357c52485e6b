package forest

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// DefaultWorkingSet is the per-chunk byte budget used to size chunks when
// no explicit chunk size is configured.
const DefaultWorkingSet = 32 << 20

// stagingBuffers is the number of input chunk buffers alive at once: one
// being filled, one queued and one being scored.
const stagingBuffers = 3

// RowSource supplies input rows to a Predictor.
type RowSource interface {
	// Dims returns the row and column counts.
	Dims() (rows, cols int)
	// ReadRows returns rows [start, start+n) in row-major order. It may fill
	// and return dst, which has length n*cols, or return a view of its own data.
	ReadRows(dst []float64, start, n int) []float64
}

// Dims implements RowSource.
func (b Batch) Dims() (rows, cols int) { return b.Rows, b.Cols }

// ReadRows implements RowSource without copying.
func (b Batch) ReadRows(_ []float64, start, n int) []float64 {
	return b.Data[start*b.Cols : (start+n)*b.Cols]
}

// ChunkInfo describes one scored chunk.
type ChunkInfo struct {
	Index    int
	Start    int
	Rows     int
	Duration time.Duration
}

type predictorConfig struct {
	chunkRows  int
	workingSet int64
	memLimit   int64
	workers    int
	logger     log.Logger
	onChunk    func(ChunkInfo)
}

// PredictorOption configures a Predictor.
type PredictorOption func(*predictorConfig)

// WithChunkRows fixes the number of rows per chunk.
func WithChunkRows(n int) PredictorOption {
	return func(c *predictorConfig) { c.chunkRows = n }
}

// WithWorkingSet sets the per-chunk byte budget used to derive chunk rows.
func WithWorkingSet(bytes int64) PredictorOption {
	return func(c *predictorConfig) { c.workingSet = bytes }
}

// WithMemoryLimit caps the chunk buffer bytes held by all concurrent calls
// of the Predictor. Zero means no limit.
func WithMemoryLimit(bytes int64) PredictorOption {
	return func(c *predictorConfig) { c.memLimit = bytes }
}

// WithWorkers sets the number of scoring goroutines per chunk.
func WithWorkers(n int) PredictorOption {
	return func(c *predictorConfig) { c.workers = n }
}

// WithPredictLogger sets the logger used for per-call records.
func WithPredictLogger(l log.Logger) PredictorOption {
	return func(c *predictorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithChunkHook registers a callback invoked after every scored chunk.
func WithChunkHook(fn func(ChunkInfo)) PredictorOption {
	return func(c *predictorConfig) { c.onChunk = fn }
}

// Predictor drives the chunked scoring pipeline for one Forest.
// It is safe for concurrent use.
type Predictor struct {
	f    *Forest
	algo Algorithm
	pp   *Postprocessor
	cfg  predictorConfig
	pool *bufferPool
}

// NewPredictor validates the configuration and returns a Predictor.
func NewPredictor(f *Forest, algo Algorithm, pp *Postprocessor, opts ...PredictorOption) (*Predictor, error) {
	cfg := predictorConfig{
		workingSet: DefaultWorkingSet,
		logger:     log.GetLoggerWithName("forest"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case f == nil:
		return nil, filerrors.NewConfigError("forest", nil, "forest is required")
	case algo != Naive && algo != TreeReorg && algo != BatchTreeReorg:
		return nil, filerrors.NewConfigError("algorithm", int(algo), "unknown algorithm")
	case cfg.chunkRows < 0:
		return nil, filerrors.NewConfigError("chunk_rows", cfg.chunkRows, "must not be negative")
	case cfg.memLimit < 0:
		return nil, filerrors.NewConfigError("memory_limit", cfg.memLimit, "must not be negative")
	case cfg.workingSet <= 0:
		return nil, filerrors.NewConfigError("working_set", cfg.workingSet, "must be positive")
	}
	if pp == nil {
		var err error
		if pp, err = NewPostprocessor(f, false, DefaultThreshold); err != nil {
			return nil, err
		}
	}
	return &Predictor{f: f, algo: algo, pp: pp, cfg: cfg, pool: newBufferPool(cfg.memLimit)}, nil
}

// Algorithm returns the traversal algorithm.
func (p *Predictor) Algorithm() Algorithm { return p.algo }

// Cols returns the number of output values per row.
func (p *Predictor) Cols() int { return p.pp.Cols() }

// rowBytes is the scratch memory one row needs in the scorer.
func (p *Predictor) rowBytes() int64 {
	f := p.f
	return int64(f.numFeatures)*8 + int64(len(f.treeGroup))*4 + int64(f.outWidth)*8
}

// ChunkRows returns the chunk size used for an input of rows rows.
func (p *Predictor) ChunkRows(rows int) int {
	n := p.cfg.chunkRows
	if n == 0 {
		n = int(p.cfg.workingSet / p.rowBytes())
		if n > BatchWidth {
			n -= n % BatchWidth
		}
	}
	if p.cfg.memLimit > 0 {
		perRow := p.rowBytes() + int64(stagingBuffers-1)*int64(p.f.numFeatures)*8
		if fit := int(p.cfg.memLimit / perRow); fit < n {
			n = fit
		}
	}
	if n > rows {
		n = rows
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (p *Predictor) callBytes(chunk int) int64 {
	f := p.f
	return int64(chunk) * (int64(stagingBuffers)*int64(f.numFeatures)*8 +
		int64(len(f.treeGroup))*4 + int64(f.outWidth)*8)
}

// Predict scores a Batch.
func (p *Predictor) Predict(ctx context.Context, b Batch) (Output, error) {
	if err := p.f.checkBatch("Predict", b); err != nil {
		return Output{}, err
	}
	return p.PredictSource(ctx, b)
}

type stagedChunk struct {
	index, start, rows int
	data               []float64
	buf                *[]float64
}

// PredictSource scores every row of src. Chunks are staged by one goroutine
// while the previous chunk is scored; each chunk's predictions are written at
// its own row offset. Any failure aborts the call and no output is returned.
func (p *Predictor) PredictSource(ctx context.Context, src RowSource) (out Output, err error) {
	f := p.f
	rows, cols := src.Dims()
	if cols <= 0 || cols != f.numFeatures {
		return Output{}, filerrors.NewShapeMismatchError("Predict", f.numFeatures, cols, 1)
	}
	if rows < 0 {
		return Output{}, filerrors.NewShapeMismatchError("Predict", 0, rows, 0)
	}
	out = Output{Data: make([]float64, rows*p.pp.Cols()), Rows: rows, Cols: p.pp.Cols()}
	if rows == 0 {
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	begin := time.Now()
	chunk := p.ChunkRows(rows)
	chunks := (rows + chunk - 1) / chunk
	release, err := p.pool.acquire(ctx, p.callBytes(chunk))
	if err != nil {
		return Output{}, err
	}
	defer release()

	g, gctx := errgroup.WithContext(ctx)
	staged := make(chan stagedChunk, 1)

	g.Go(func() (err error) {
		defer close(staged)
		defer filerrors.Recover(&err, "Predictor.stage")
		for i := 0; i < chunks; i++ {
			start := i * chunk
			n := chunk
			if start+n > rows {
				n = rows - start
			}
			buf := p.pool.getFloats(n * cols)
			data := src.ReadRows(*buf, start, n)
			if len(data) != n*cols {
				p.pool.putFloats(buf)
				return filerrors.NewShapeMismatchError("Predict", n*cols, len(data), 0)
			}
			select {
			case staged <- stagedChunk{index: i, start: start, rows: n, data: data, buf: buf}:
			case <-gctx.Done():
				p.pool.putFloats(buf)
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() (err error) {
		defer filerrors.Recover(&err, "Predictor.score")
		offsets := p.pool.getInts(chunk * len(f.treeGroup))
		raw := p.pool.getFloats(chunk * f.outWidth)
		defer p.pool.putInts(offsets)
		defer p.pool.putFloats(raw)

		pcols := p.pp.Cols()
		for c := range staged {
			t0 := time.Now()
			err := f.scoreInto(c.data, c.rows, p.algo, p.cfg.workers,
				(*offsets)[:c.rows*len(f.treeGroup)], (*raw)[:c.rows*f.outWidth])
			if err == nil {
				p.pp.applyRows(*raw, 0, c.rows, out.Data[c.start*pcols:(c.start+c.rows)*pcols])
			}
			p.pool.putFloats(c.buf)
			if err != nil {
				p.cfg.logger.Error("Chunk scoring failed", err,
					log.OperationKey, log.OperationPredict,
					log.ChunkKey, c.index,
					log.AlgorithmKey, p.algo.String(),
				)
				return err
			}
			if p.cfg.onChunk != nil {
				p.cfg.onChunk(ChunkInfo{Index: c.index, Start: c.start, Rows: c.rows, Duration: time.Since(t0)})
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Output{}, err
	}

	p.cfg.logger.Debug("Predict finished",
		log.OperationKey, log.OperationPredict,
		log.RowsKey, rows,
		log.ChunkRowsKey, chunk,
		log.ChunksKey, chunks,
		log.AlgorithmKey, p.algo.String(),
		log.StorageKey, f.storage.String(),
		log.DurationMsKey, time.Since(begin).Milliseconds(),
	)
	return out, nil
}
