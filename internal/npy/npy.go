// Package npy reads feature matrices from and writes predictions to NumPy
// .npy files, optionally wrapped in a gzip, zstd or lz4 frame.
package npy

import (
	"io"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/fil/forest"
	"github.com/YuminosukeSato/fil/importer"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Supported element types.
const (
	Float64 = "<f8"
	Float32 = "<f4"
)

// ReadMatrix reads a 1-D or 2-D float array from path. A 1-D array of
// length n is returned as an n×1 matrix.
func ReadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, filerrors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	m, err := Read(f)
	if err != nil {
		return nil, filerrors.Wrapf(err, "read %s", path)
	}
	return m, nil
}

// Read decodes a 1-D or 2-D float array from r. r may be compressed.
func Read(r io.Reader) (*mat.Dense, error) {
	rc, err := importer.Decompress(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	nr, err := npyio.NewReader(rc)
	if err != nil {
		return nil, filerrors.Wrap(err, "npy header")
	}
	rows, cols, err := shape2D(nr.Header.Descr.Shape)
	if err != nil {
		return nil, err
	}

	var data []float64
	switch nr.Header.Descr.Type {
	case Float64:
		if err := nr.Read(&data); err != nil {
			return nil, filerrors.Wrap(err, "npy data")
		}
	case Float32:
		var f32 []float32
		if err := nr.Read(&f32); err != nil {
			return nil, filerrors.Wrap(err, "npy data")
		}
		data = make([]float64, len(f32))
		for i, v := range f32 {
			data[i] = float64(v)
		}
	default:
		return nil, filerrors.Newf("unsupported npy dtype %q, expected %s or %s", nr.Header.Descr.Type, Float64, Float32)
	}
	if len(data) != rows*cols {
		return nil, filerrors.NewShapeMismatchError("npy.Read", rows*cols, len(data), 0)
	}
	if rows == 0 || cols == 0 {
		return &mat.Dense{}, nil
	}
	if nr.Header.Descr.Fortran {
		return mat.DenseCopyOf(mat.NewDense(cols, rows, data).T()), nil
	}
	return mat.NewDense(rows, cols, data), nil
}

func shape2D(shape []int) (rows, cols int, err error) {
	switch len(shape) {
	case 1:
		return shape[0], 1, nil
	case 2:
		return shape[0], shape[1], nil
	default:
		return 0, 0, filerrors.Newf("npy array must be 1-D or 2-D, got shape %v", shape)
	}
}

// WriteMatrix writes m to path as a float64 array, compressed according to
// the path extension.
func WriteMatrix(path string, m mat.Matrix) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return filerrors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = filerrors.Wrapf(cerr, "close %s", path)
		}
	}()
	return Write(f, m, importer.CompressionFromPath(path))
}

// Write encodes m as a float64 array with compression c.
func Write(w io.Writer, m mat.Matrix, c importer.Compression) error {
	wc, err := importer.Compress(w, c)
	if err != nil {
		return err
	}
	var val interface{} = []float64{}
	if r, _ := m.Dims(); r > 0 {
		val = mat.DenseCopyOf(m)
	}
	if err := npyio.Write(wc, val); err != nil {
		_ = wc.Close()
		return filerrors.Wrap(err, "npy write")
	}
	return wc.Close()
}

// WriteOutput writes predictions to path. Single-column outputs are written
// as 1-D arrays.
func WriteOutput(path string, out forest.Output) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return filerrors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = filerrors.Wrapf(cerr, "close %s", path)
		}
	}()

	wc, err := importer.Compress(f, importer.CompressionFromPath(path))
	if err != nil {
		return err
	}
	var val interface{} = out.Data
	if out.Cols > 1 && out.Rows > 0 {
		val = mat.NewDense(out.Rows, out.Cols, out.Data)
	}
	if err := npyio.Write(wc, val); err != nil {
		_ = wc.Close()
		return filerrors.Wrap(err, "npy write")
	}
	return wc.Close()
}
