package fil

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// matrixSource adapts a gonum matrix to forest.RowSource. Contiguous
// row-major storage is handed out without copying.
type matrixSource struct {
	m     mat.Matrix
	raw   blas64.General
	isRaw bool
}

func newMatrixSource(m mat.Matrix) *matrixSource {
	s := &matrixSource{m: m}
	if rm, ok := m.(mat.RawMatrixer); ok {
		s.raw = rm.RawMatrix()
		s.isRaw = true
	}
	return s
}

func (s *matrixSource) Dims() (rows, cols int) { return s.m.Dims() }

func (s *matrixSource) ReadRows(dst []float64, start, n int) []float64 {
	_, cols := s.m.Dims()
	if s.isRaw {
		g := s.raw
		if g.Stride == cols {
			return g.Data[start*cols : (start+n)*cols]
		}
		for r := 0; r < n; r++ {
			off := (start + r) * g.Stride
			copy(dst[r*cols:(r+1)*cols], g.Data[off:off+cols])
		}
		return dst
	}
	for r := 0; r < n; r++ {
		row := dst[r*cols : (r+1)*cols]
		for c := range row {
			row[c] = s.m.At(start+r, c)
		}
	}
	return dst
}
