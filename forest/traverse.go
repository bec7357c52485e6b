package forest

import (
	"github.com/YuminosukeSato/fil/core/parallel"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Batch is a row-major feature matrix.
type Batch struct {
	Data []float64
	Rows int
	Cols int
}

// NewBatch wraps data as a rows x cols batch without copying.
func NewBatch(data []float64, rows, cols int) Batch {
	return Batch{Data: data, Rows: rows, Cols: cols}
}

// checkBatch enforces the column count and the data length of b.
func (f *Forest) checkBatch(op string, b Batch) error {
	if b.Cols <= 0 || b.Cols != f.numFeatures {
		return filerrors.NewShapeMismatchError(op, f.numFeatures, b.Cols, 1)
	}
	if b.Rows < 0 || len(b.Data) != b.Rows*b.Cols {
		return filerrors.NewShapeMismatchError(op, b.Rows*b.Cols, len(b.Data), 0)
	}
	return nil
}

// Score returns the raw per-row scores of b, rows x OutputWidth, before
// averaging, base score and transform.
func (f *Forest) Score(b Batch, algo Algorithm) ([]float64, error) {
	if err := f.checkBatch("Score", b); err != nil {
		return nil, err
	}
	raw := make([]float64, b.Rows*f.outWidth)
	if b.Rows == 0 {
		return raw, nil
	}
	offsets := make([]int32, b.Rows*len(f.treeGroup))
	if err := f.scoreInto(b.Data, b.Rows, algo, 0, offsets, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// scoreInto resolves the leaf of every (row, tree) pair of data into
// offsets and then accumulates raw scores. The layout and algorithm are
// picked once, outside the per-node loops.
func (f *Forest) scoreInto(data []float64, rows int, algo Algorithm, workers int, offsets []int32, raw []float64) error {
	cols := f.numFeatures
	var err error
	switch algo {
	case Naive:
		resolve := f.naiveResolver()
		err = parallel.ParallelizeN(rows, workers, func(start, end int) error {
			resolve(data, cols, start, end, offsets)
			return nil
		})
	case TreeReorg:
		r := f.reorgLayout()
		err = parallel.ParallelizeN(rows, workers, func(start, end int) error {
			r.resolveRows(data, cols, start, end, offsets)
			return nil
		})
	case BatchTreeReorg:
		r := f.reorgLayout()
		err = parallel.ParallelizeN(numBatches(rows), workers, func(start, end int) error {
			r.resolveBatches(data, cols, rows, start, end, offsets)
			return nil
		})
	default:
		return filerrors.NewConfigError("algorithm", int(algo), "unknown algorithm")
	}
	if err != nil {
		return err
	}

	return parallel.ParallelizeN(rows, workers, func(start, end int) error {
		f.accumulate(offsets, start, end, raw)
		return nil
	})
}

func (f *Forest) naiveResolver() func(data []float64, cols, start, end int, out []int32) {
	if f.dense != nil {
		return f.dense.resolveRows
	}
	return f.sparse.resolveRows
}

// accumulate sums the resolved leaf values of rows [start, end) in tree
// order, overwriting the rows' slots in raw.
func (f *Forest) accumulate(offsets []int32, start, end int, raw []float64) {
	trees := len(f.treeGroup)
	w := f.outWidth
	for r := start; r < end; r++ {
		acc := raw[r*w : (r+1)*w]
		for k := range acc {
			acc[k] = 0
		}
		leaves := offsets[r*trees : (r+1)*trees]
		for t, off := range leaves {
			if f.treeWidth[t] == 1 {
				acc[f.treeGroup[t]] += f.leafValues[off]
				continue
			}
			vals := f.leafValues[off : int(off)+w]
			for k, v := range vals {
				acc[k] += v
			}
		}
	}
}
