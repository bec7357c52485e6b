// Package forest turns a canonical tree model into an immutable, throughput
// oriented Forest and scores row-major feature batches against it.
//
// A Forest is built once (Build) in either the Dense or the Sparse layout and
// can then be shared by any number of concurrent callers. Scoring resolves
// the leaf reached by every (row, tree) pair with one of three algorithms and
// then sums leaf values per row in tree order, so every algorithm and layout
// yields bit-identical raw scores.
package forest

import (
	"context"
	"math"
	"sync"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

const (
	// MaxDenseDepth is the deepest tree the Dense layout accepts.
	MaxDenseDepth = 20

	// AutoSparseRatio is the dense-slots-to-real-nodes ratio above which Auto
	// selects Sparse.
	AutoSparseRatio = 2.0
)

// Forest is the immutable inference form of a model.
type Forest struct {
	storage StorageType

	task        model.Task
	transform   model.Transform
	numClass    int
	numFeatures int
	outWidth    int
	baseScore   float64
	average     bool
	alpha       float64

	treeGroup  []int32
	treeWidth  []int32
	groupTrees []int
	leafValues []float64

	dense  *denseLayout
	sparse *sparseLayout

	reorgOnce sync.Once
	reorg     *reorgLayout

	stats model.Stats
}

type buildConfig struct {
	logger log.Logger
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithBuildLogger sets the logger receiving the layout summary.
func WithBuildLogger(l log.Logger) BuildOption {
	return func(c *buildConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Build validates m and converts it into a Forest using the requested
// storage layout. Auto never selects Dense for trees deeper than
// MaxDenseDepth; an explicit Dense request for such trees fails with a
// ModelStructureError.
func Build(m *model.Model, storage StorageType, opts ...BuildOption) (*Forest, error) {
	cfg := buildConfig{logger: log.GetLoggerWithName("forest")}
	for _, opt := range opts {
		opt(&cfg)
	}

	if m == nil {
		return nil, filerrors.NewModelStructureError(-1, -1, "model is nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	depths := make([]int, len(m.Trees))
	for i := range m.Trees {
		depths[i] = m.Trees[i].Depth()
	}
	resolved, err := resolveStorage(m, storage, depths)
	if err != nil {
		return nil, err
	}

	arena, err := buildLeafArena(m)
	if err != nil {
		return nil, err
	}

	f := &Forest{
		storage:     resolved,
		task:        m.Task,
		transform:   m.Transform,
		numClass:    m.NumClass,
		numFeatures: m.NumFeatures,
		outWidth:    m.OutputWidth(),
		baseScore:   m.BaseScore,
		average:     m.Average,
		alpha:       m.Alpha(),
		treeGroup:   make([]int32, len(m.Trees)),
		treeWidth:   make([]int32, len(m.Trees)),
		leafValues:  arena.values,
		stats:       m.Stats(),
	}
	if f.numClass < 1 {
		f.numClass = 1
	}
	f.groupTrees = make([]int, f.outWidth)
	for i := range m.Trees {
		w := m.Trees[i].LeafWidth()
		f.treeGroup[i] = int32(m.Trees[i].Group)
		f.treeWidth[i] = int32(w)
		if w == 1 {
			f.groupTrees[m.Trees[i].Group]++
		} else {
			for k := range f.groupTrees {
				f.groupTrees[k]++
			}
		}
	}

	switch resolved {
	case Dense:
		f.dense = buildDense(m, arena, depths)
	default:
		f.sparse = buildSparse(m, arena)
	}

	if cfg.logger.Enabled(context.Background(), log.LevelDebug) {
		cfg.logger.Debug("Forest built",
			log.OperationKey, log.OperationBuild,
			log.TreesKey, f.stats.Trees,
			log.NodesKey, f.stats.Nodes,
			log.MaxDepthKey, f.stats.MaxDepth,
			log.StorageKey, resolved.String(),
			log.LayoutBytesKey, f.LayoutBytes(),
		)
	}
	return f, nil
}

func resolveStorage(m *model.Model, storage StorageType, depths []int) (StorageType, error) {
	switch storage {
	case Dense:
		slots := 0
		for i, d := range depths {
			if d > MaxDenseDepth {
				return Dense, filerrors.NewModelStructureErrorf(i, -1,
					"depth %d exceeds the dense layout limit of %d", d, MaxDenseDepth)
			}
			slots += denseSize(d)
			if slots > math.MaxInt32 {
				return Dense, filerrors.NewModelStructureErrorf(i, -1,
					"%d dense slots exceed the addressable layout", slots)
			}
		}
		return Dense, nil
	case Sparse:
		return Sparse, nil
	case Auto:
		return ChooseStorage(m, depths), nil
	default:
		return Auto, filerrors.NewConfigError("storage_type", int(storage), "unknown storage type")
	}
}

// ChooseStorage applies the Auto heuristic. depths may be nil, in which case
// they are computed from m.
func ChooseStorage(m *model.Model, depths []int) StorageType {
	if depths == nil {
		depths = make([]int, len(m.Trees))
		for i := range m.Trees {
			depths[i] = m.Trees[i].Depth()
		}
	}
	denseSlots, realNodes := 0, 0
	for i, d := range depths {
		if d > MaxDenseDepth {
			return Sparse
		}
		denseSlots += denseSize(d)
		realNodes += len(m.Trees[i].Nodes)
		if denseSlots > math.MaxInt32 {
			return Sparse
		}
	}
	if realNodes == 0 || float64(denseSlots)/float64(realNodes) > AutoSparseRatio {
		return Sparse
	}
	return Dense
}

func (f *Forest) reorgLayout() *reorgLayout {
	f.reorgOnce.Do(func() {
		if f.dense != nil {
			f.reorg = reorgFromDense(f.dense)
		} else {
			f.reorg = reorgFromSparse(f.sparse)
		}
	})
	return f.reorg
}

// StorageType returns the resolved layout, Dense or Sparse.
func (f *Forest) StorageType() StorageType { return f.storage }

// NumTrees returns the number of trees.
func (f *Forest) NumTrees() int { return len(f.treeGroup) }

// NumFeatures returns the expected column count of input batches.
func (f *Forest) NumFeatures() int { return f.numFeatures }

// NumClass returns the class count, 1 for regression and binary models.
func (f *Forest) NumClass() int { return f.numClass }

// OutputWidth returns the number of raw scores per row.
func (f *Forest) OutputWidth() int { return f.outWidth }

// Task returns the task kind.
func (f *Forest) Task() model.Task { return f.task }

// Transform returns the declared output transform.
func (f *Forest) Transform() model.Transform { return f.transform }

// Stats returns the shape summary of the source model.
func (f *Forest) Stats() model.Stats { return f.stats }

// LayoutBytes returns the memory held by the primary node layout and the
// leaf arena.
func (f *Forest) LayoutBytes() int64 {
	b := int64(len(f.leafValues)) * 8
	if f.dense != nil {
		b += f.dense.nodes.bytes()
	}
	if f.sparse != nil {
		b += f.sparse.nodes.bytes()
	}
	return b
}
