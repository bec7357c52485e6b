package forest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

func newPredictor(t *testing.T, m *model.Model, algo Algorithm, outputClass bool, opts ...PredictorOption) *Predictor {
	t.Helper()
	f := mustBuild(t, m, Auto)
	pp, err := NewPostprocessor(f, outputClass, DefaultThreshold)
	require.NoError(t, err)
	p, err := NewPredictor(f, algo, pp, opts...)
	require.NoError(t, err)
	return p
}

func TestPredictPreservesRowOrderForAnyChunkSize(t *testing.T) {
	m := randomModel(t, 31, model.MulticlassClassification, 3, 18, 6, false)
	b := randomInput(32, 1000, m.NumFeatures)

	f := mustBuild(t, m, Auto)
	raw, err := f.Score(b, Naive)
	require.NoError(t, err)
	pp, err := NewPostprocessor(f, false, DefaultThreshold)
	require.NoError(t, err)
	want := pp.Apply(raw, b.Rows)

	for _, chunk := range []int{1, 7, BatchWidth, BatchWidth + 1, 333, 1000, 5000} {
		for _, algo := range Algorithms() {
			p, err := NewPredictor(f, algo, pp, WithChunkRows(chunk))
			require.NoError(t, err)
			got, err := p.Predict(context.Background(), b)
			require.NoError(t, err)
			assert.Equal(t, want, got, "chunk=%d algo=%s", chunk, algo)
		}
	}
}

func TestPredictDefaultChunkingIsTransparent(t *testing.T) {
	m := randomModel(t, 41, model.Regression, 1, 8, 5, false)
	b := randomInput(42, 20000, m.NumFeatures)
	// 4 KiB working set forces many chunks.
	p := newPredictor(t, m, BatchTreeReorg, false, WithWorkingSet(4096))
	assert.Less(t, p.ChunkRows(b.Rows), b.Rows)

	got, err := p.Predict(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, b.Rows, got.Rows)
	assert.Equal(t, referenceScore(m, b), got.Data)
}

func TestPredictZeroRows(t *testing.T) {
	p := newPredictor(t, multiclassModel(), TreeReorg, false)
	out, err := p.Predict(context.Background(), NewBatch(nil, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Rows)
	assert.Equal(t, 3, out.Cols)
	assert.Empty(t, out.Data)
}

func TestPredictShapeMismatch(t *testing.T) {
	p := newPredictor(t, twoStumps(model.Regression, model.Identity), Naive, false)
	for _, b := range []Batch{
		NewBatch([]float64{1, 2, 3, 4}, 2, 2),
		NewBatch(nil, 0, 0),
		NewBatch([]float64{1}, 2, 1),
	} {
		_, err := p.Predict(context.Background(), b)
		var shapeErr *filerrors.ShapeMismatchError
		require.ErrorAs(t, err, &shapeErr)
	}
}

func TestPredictConcreteScenario(t *testing.T) {
	binary := twoStumps(model.BinaryClassification, model.Sigmoid)
	for _, algo := range Algorithms() {
		p := newPredictor(t, binary, algo, false)
		out, err := p.Predict(context.Background(), NewBatch([]float64{0.6}, 1, 1))
		require.NoError(t, err)
		assert.InDelta(t, 0.7503, out.Data[0], 1e-4)

		p = newPredictor(t, binary, algo, true)
		out, err = p.Predict(context.Background(), NewBatch([]float64{0.6}, 1, 1))
		require.NoError(t, err)
		assert.Equal(t, []float64{1.0}, out.Data)
	}
}

type panickingSource struct{ rows, cols int }

func (s panickingSource) Dims() (int, int) { return s.rows, s.cols }

func (s panickingSource) ReadRows(dst []float64, start, n int) []float64 {
	if start > 0 {
		panic("source exhausted")
	}
	return dst
}

func TestPredictAbortsOnChunkFailure(t *testing.T) {
	p := newPredictor(t, twoStumps(model.Regression, model.Identity), Naive, false, WithChunkRows(2))
	out, err := p.PredictSource(context.Background(), panickingSource{rows: 10, cols: 1})
	var panicErr *filerrors.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Nil(t, out.Data, "no partial output")
}

type shortSource struct{ Batch }

func (s shortSource) ReadRows(dst []float64, start, n int) []float64 { return dst[:0] }

func TestPredictRejectsShortChunks(t *testing.T) {
	p := newPredictor(t, twoStumps(model.Regression, model.Identity), Naive, false)
	_, err := p.PredictSource(context.Background(), shortSource{NewBatch([]float64{1, 2}, 2, 1)})
	var shapeErr *filerrors.ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
}

func TestPredictHonorsCancellation(t *testing.T) {
	p := newPredictor(t, twoStumps(model.Regression, model.Identity), Naive, false, WithChunkRows(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Predict(ctx, NewBatch(make([]float64, 100), 100, 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPredictMemoryLimit(t *testing.T) {
	m := twoStumps(model.Regression, model.Identity)

	// A limit below the cost of a single row can never be satisfied.
	p := newPredictor(t, m, Naive, false, WithMemoryLimit(8))
	_, err := p.Predict(context.Background(), NewBatch([]float64{0.1}, 1, 1))
	require.Error(t, err)

	// A small limit shrinks chunks but still lets concurrent callers finish.
	p = newPredictor(t, m, BatchTreeReorg, false, WithMemoryLimit(4096))
	b := randomInput(5, 3000, 1)
	want := referenceScore(m, b)
	assert.LessOrEqual(t, p.callBytes(p.ChunkRows(b.Rows)), int64(4096))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Predict(context.Background(), b)
			if assert.NoError(t, err) {
				assert.Equal(t, want, got.Data)
			}
		}()
	}
	wg.Wait()
}

func TestPredictChunkHookAndLogging(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	var chunks, rows int64
	p := newPredictor(t, twoStumps(model.Regression, model.Identity), TreeReorg, false,
		WithChunkRows(10),
		WithPredictLogger(logger),
		WithChunkHook(func(c ChunkInfo) {
			atomic.AddInt64(&chunks, 1)
			atomic.AddInt64(&rows, int64(c.Rows))
		}),
	)
	_, err := p.Predict(context.Background(), randomInput(9, 95, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 10, chunks)
	assert.EqualValues(t, 95, rows)
	assert.True(t, logger.ContainsMessage("Predict finished"))
	assert.True(t, logger.ContainsField(log.ChunksKey, 10.0))
}

func TestNewPredictorValidatesOptions(t *testing.T) {
	f := mustBuild(t, twoStumps(model.Regression, model.Identity), Auto)
	var cfgErr *filerrors.ConfigError

	_, err := NewPredictor(f, Algorithm(9), nil)
	require.ErrorAs(t, err, &cfgErr)
	_, err = NewPredictor(f, Naive, nil, WithChunkRows(-1))
	require.ErrorAs(t, err, &cfgErr)
	_, err = NewPredictor(f, Naive, nil, WithMemoryLimit(-5))
	require.ErrorAs(t, err, &cfgErr)
	_, err = NewPredictor(nil, Naive, nil)
	require.ErrorAs(t, err, &cfgErr)

	p, err := NewPredictor(f, TreeReorg, nil)
	require.NoError(t, err)
	assert.Equal(t, TreeReorg, p.Algorithm())
	assert.Equal(t, 1, p.Cols())
}

func TestForestIsSharedAcrossConcurrentPredictors(t *testing.T) {
	m := randomModel(t, 51, model.BinaryClassification, 1, 20, 6, false)
	f := mustBuild(t, m, Sparse)
	b := randomInput(52, 500, m.NumFeatures)
	want, err := f.Score(b, Naive)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		algo := Algorithms()[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.Score(b, algo)
			if assert.NoError(t, err) {
				assert.Equal(t, want, got)
			}
		}()
	}
	wg.Wait()
}
