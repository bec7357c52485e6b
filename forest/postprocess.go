package forest

import (
	"math"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// DefaultThreshold is the class decision boundary for binary models.
const DefaultThreshold = 0.5

// Output is a row-major prediction matrix.
type Output struct {
	Data []float64
	Rows int
	Cols int
}

// Postprocessor turns raw scores into predictions: per row it averages
// (random forests), adds the base score, applies the declared transform and
// optionally converts scores to class labels.
type Postprocessor struct {
	f           *Forest
	outputClass bool
	threshold   float64
	cols        int
}

// NewPostprocessor validates the output_class / task combination. threshold
// is only consulted for binary models with outputClass set.
func NewPostprocessor(f *Forest, outputClass bool, threshold float64) (*Postprocessor, error) {
	if outputClass && f.task == model.Regression {
		return nil, filerrors.NewConfigError("output_class", true, "regression models have no class decision")
	}
	if outputClass && math.IsNaN(threshold) {
		return nil, filerrors.NewConfigError("threshold", threshold, "threshold must be a number")
	}
	cols := f.outWidth
	if outputClass {
		cols = 1
	}
	return &Postprocessor{f: f, outputClass: outputClass, threshold: threshold, cols: cols}, nil
}

// Cols returns the number of output values per row.
func (p *Postprocessor) Cols() int { return p.cols }

// Apply postprocesses raw scores of rows rows into a new Output.
func (p *Postprocessor) Apply(raw []float64, rows int) Output {
	out := Output{Data: make([]float64, rows*p.cols), Rows: rows, Cols: p.cols}
	p.applyRows(raw, 0, rows, out.Data)
	return out
}

// applyRows writes rows [start, end) of raw into dst, which is indexed from
// row 0 like raw. raw is modified in place.
func (p *Postprocessor) applyRows(raw []float64, start, end int, dst []float64) {
	f := p.f
	w := f.outWidth
	for r := start; r < end; r++ {
		scores := raw[r*w : (r+1)*w]
		for k := range scores {
			if f.average && f.groupTrees[k] > 0 {
				scores[k] /= float64(f.groupTrees[k])
			}
			scores[k] += f.baseScore
		}

		if p.outputClass && w > 1 {
			dst[r] = float64(argmax(scores))
			continue
		}

		switch f.transform {
		case model.Sigmoid:
			for k := range scores {
				scores[k] = sigmoid(f.alpha * scores[k])
			}
		case model.Softmax:
			softmax(scores)
		case model.Exp:
			for k := range scores {
				scores[k] = filerrors.StabilizeExp(scores[k])
			}
		}

		if p.outputClass {
			if scores[0] >= p.threshold {
				dst[r] = 1
			} else {
				dst[r] = 0
			}
			continue
		}
		copy(dst[r*w:(r+1)*w], scores)
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softmax(v []float64) {
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

// argmax returns the index of the largest value; ties go to the lowest index.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
