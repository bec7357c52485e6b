//go:build !unix

package npy

import filerrors "github.com/YuminosukeSato/fil/pkg/errors"

// MappedFile is unavailable on this platform.
type MappedFile struct{}

// OpenMapped always fails on this platform; use ReadMatrix instead.
func OpenMapped(path string) (*MappedFile, error) {
	return nil, filerrors.Newf("memory mapping %s is not supported on this platform", path)
}

// Dims implements forest.RowSource.
func (m *MappedFile) Dims() (rows, cols int) { return 0, 0 }

// ReadRows implements forest.RowSource.
func (m *MappedFile) ReadRows(dst []float64, _, _ int) []float64 { return dst[:0] }

// Close is a no-op.
func (m *MappedFile) Close() error { return nil }
