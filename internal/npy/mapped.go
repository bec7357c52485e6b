//go:build unix

package npy

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/sbinet/npyio"
	"golang.org/x/sys/unix"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// MappedFile is a read-only memory-mapped uncompressed .npy file. It
// implements forest.RowSource, so inputs larger than memory can be scored
// chunk by chunk without loading them first.
type MappedFile struct {
	file     *os.File
	mmap     []byte
	data     []byte
	rows     int
	cols     int
	elemSize int
	mu       sync.RWMutex
}

// OpenMapped maps path, which must hold a C-ordered little-endian float32 or
// float64 array with one or two dimensions.
func OpenMapped(path string) (*MappedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, filerrors.Wrapf(err, "open %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, filerrors.Wrapf(err, "stat %s", path)
	}
	if info.Size() == 0 {
		_ = file.Close()
		return nil, filerrors.Newf("%s is empty", path)
	}

	mmap, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, filerrors.Wrapf(err, "mmap %s", path)
	}

	// rows are read front to back
	_ = unix.Madvise(mmap, unix.MADV_SEQUENTIAL)

	m := &MappedFile{file: file, mmap: mmap}
	if err := m.parseHeader(); err != nil {
		_ = m.Close()
		return nil, filerrors.Wrapf(err, "map %s", path)
	}
	return m, nil
}

func (m *MappedFile) parseHeader() error {
	nr, err := npyio.NewReader(bytes.NewReader(m.mmap))
	if err != nil {
		return filerrors.Wrap(err, "npy header")
	}
	if nr.Header.Descr.Fortran {
		return filerrors.New("fortran-ordered arrays cannot be mapped")
	}
	switch nr.Header.Descr.Type {
	case Float64:
		m.elemSize = 8
	case Float32:
		m.elemSize = 4
	default:
		return filerrors.Newf("unsupported npy dtype %q", nr.Header.Descr.Type)
	}
	if m.rows, m.cols, err = shape2D(nr.Header.Descr.Shape); err != nil {
		return err
	}

	// magic(6) version(2) then a 2-byte (v1) or 4-byte header length
	if len(m.mmap) < 10 {
		return filerrors.New("truncated npy header")
	}
	offset := 10 + int(binary.LittleEndian.Uint16(m.mmap[8:10]))
	if nr.Header.Major >= 2 {
		if len(m.mmap) < 12 {
			return filerrors.New("truncated npy header")
		}
		offset = 12 + int(binary.LittleEndian.Uint32(m.mmap[8:12]))
	}
	size := m.rows * m.cols * m.elemSize
	if offset+size > len(m.mmap) {
		return filerrors.NewShapeMismatchError("npy.OpenMapped", offset+size, len(m.mmap), 0)
	}
	m.data = m.mmap[offset : offset+size]
	return nil
}

// Dims implements forest.RowSource.
func (m *MappedFile) Dims() (rows, cols int) { return m.rows, m.cols }

// ReadRows implements forest.RowSource by decoding rows [start, start+n)
// into dst.
func (m *MappedFile) ReadRows(dst []float64, start, n int) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := n * m.cols
	src := m.data[start*m.cols*m.elemSize:]
	if m.elemSize == 8 {
		for i := 0; i < count; i++ {
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
		}
	} else {
		for i := 0; i < count; i++ {
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
		}
	}
	return dst[:count]
}

// Close unmaps and closes the file.
func (m *MappedFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.mmap != nil {
		err = unix.Munmap(m.mmap)
		m.mmap, m.data = nil, nil
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
