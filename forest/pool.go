package forest

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// bufferPool recycles per-chunk buffers across calls and, when a limit is
// set, caps the bytes held by concurrent callers.
type bufferPool struct {
	floats sync.Pool // *[]float64
	ints   sync.Pool // *[]int32

	limit int64
	sem   *semaphore.Weighted
}

func newBufferPool(limit int64) *bufferPool {
	p := &bufferPool{limit: limit}
	if limit > 0 {
		p.sem = semaphore.NewWeighted(limit)
	}
	return p
}

// acquire reserves n bytes for one call. It fails immediately when n can
// never fit and otherwise waits for other callers or ctx.
func (p *bufferPool) acquire(ctx context.Context, n int64) (release func(), err error) {
	if p.sem == nil {
		return func() {}, nil
	}
	if n > p.limit {
		return nil, filerrors.Newf("fil: call needs %d bytes, memory limit is %d", n, p.limit)
	}
	if err := p.sem.Acquire(ctx, n); err != nil {
		return nil, filerrors.Wrapf(err, "fil: acquire %d bytes of chunk buffers", n)
	}
	return func() { p.sem.Release(n) }, nil
}

func (p *bufferPool) getFloats(n int) *[]float64 {
	if v, ok := p.floats.Get().(*[]float64); ok && cap(*v) >= n {
		*v = (*v)[:n]
		return v
	}
	s := make([]float64, n)
	return &s
}

func (p *bufferPool) putFloats(s *[]float64) {
	if s != nil {
		p.floats.Put(s)
	}
}

func (p *bufferPool) getInts(n int) *[]int32 {
	if v, ok := p.ints.Get().(*[]int32); ok && cap(*v) >= n {
		*v = (*v)[:n]
		return v
	}
	s := make([]int32, n)
	return &s
}

func (p *bufferPool) putInts(s *[]int32) {
	if s != nil {
		p.ints.Put(s)
	}
}
