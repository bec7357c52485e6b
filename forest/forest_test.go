package forest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// chain builds a left-leaning tree of the given depth.
func chain(depth int) model.Tree {
	var nodes []model.Node
	for d := 0; d < depth; d++ {
		id := len(nodes)
		nodes = append(nodes, model.NewSplit(0, float64(d), true, id+2, id+1))
		nodes = append(nodes, model.NewLeaf(float64(d)))
	}
	nodes = append(nodes, model.NewLeaf(-1))
	return model.Tree{Nodes: nodes}
}

func balanced(depth int) model.Tree {
	var nodes []model.Node
	var grow func(d int) int
	grow = func(d int) int {
		id := len(nodes)
		if d == depth {
			nodes = append(nodes, model.NewLeaf(float64(id)))
			return id
		}
		nodes = append(nodes, model.NewSplit(0, float64(d), false, 0, 0))
		l := grow(d + 1)
		r := grow(d + 1)
		nodes[id].Left, nodes[id].Right = l, r
		return id
	}
	grow(0)
	return model.Tree{Nodes: nodes}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{
		"naive":              Naive,
		"Tree_Reorg":         TreeReorg,
		"BATCH_TREE_REORG":   BatchTreeReorg,
		" batch_tree_reorg ": BatchTreeReorg,
	} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want, mustParseAlgorithm(t, got.String()))
	}

	_, err := ParseAlgorithm("fastest")
	var cfgErr *filerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "algorithm", cfgErr.ParamName)
}

func mustParseAlgorithm(t *testing.T, s string) Algorithm {
	a, err := ParseAlgorithm(s)
	require.NoError(t, err)
	return a
}

func TestParseStorageType(t *testing.T) {
	for in, want := range map[string]StorageType{"auto": Auto, "Dense": Dense, "SPARSE": Sparse} {
		got, err := ParseStorageType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStorageType("compressed")
	var cfgErr *filerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "storage_type", cfgErr.ParamName)
}

func TestAutoStorageSelection(t *testing.T) {
	m := &model.Model{NumFeatures: 1, Trees: []model.Tree{balanced(4), balanced(3)}}
	f := mustBuild(t, m, Auto)
	assert.Equal(t, Dense, f.StorageType())

	// A chain of depth 6 has 13 real nodes but 127 dense slots.
	m = &model.Model{NumFeatures: 1, Trees: []model.Tree{chain(6)}}
	f = mustBuild(t, m, Auto)
	assert.Equal(t, Sparse, f.StorageType())

	deep := &model.Model{NumFeatures: 1, Trees: []model.Tree{balanced(2), chain(MaxDenseDepth + 1)}}
	assert.Equal(t, Sparse, ChooseStorage(deep, nil))
	f = mustBuild(t, deep, Auto)
	assert.Equal(t, Sparse, f.StorageType())
}

func TestExplicitDenseRejectsDeepTrees(t *testing.T) {
	deep := &model.Model{NumFeatures: 1, Trees: []model.Tree{balanced(1), chain(MaxDenseDepth + 1)}}
	_, err := Build(deep, Dense)
	var se *filerrors.ModelStructureError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Tree)

	f := mustBuild(t, deep, Sparse)
	assert.Equal(t, Sparse, f.StorageType())

	ok := &model.Model{NumFeatures: 1, Trees: []model.Tree{chain(MaxDenseDepth)}}
	f = mustBuild(t, ok, Dense)
	assert.Equal(t, Dense, f.StorageType())
}

func TestBuildRejectsMalformedModel(t *testing.T) {
	m := twoStumps(model.Regression, model.Identity)
	m.Trees[1].Nodes[0].Right = 9
	_, err := Build(m, Sparse)
	var se *filerrors.ModelStructureError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Tree)

	_, err = Build(nil, Auto)
	require.ErrorAs(t, err, &se)
}

func TestForestMetadata(t *testing.T) {
	m := randomModel(t, 3, model.MulticlassClassification, 3, 9, 4, false)
	f := mustBuild(t, m, Sparse)
	assert.Equal(t, 9, f.NumTrees())
	assert.Equal(t, 5, f.NumFeatures())
	assert.Equal(t, 3, f.NumClass())
	assert.Equal(t, 3, f.OutputWidth())
	assert.Equal(t, model.MulticlassClassification, f.Task())
	assert.Equal(t, model.Softmax, f.Transform())
	assert.Equal(t, m.Stats(), f.Stats())
	assert.Equal(t, []int{3, 3, 3}, f.groupTrees)
	assert.Positive(t, f.LayoutBytes())
}

func TestDenseLayoutPadsUnbalancedTrees(t *testing.T) {
	m := &model.Model{NumFeatures: 1, Trees: []model.Tree{chain(2)}}
	f := mustBuild(t, m, Dense)
	require.NotNil(t, f.dense)
	assert.Equal(t, denseSize(2), f.dense.nodes.len())

	padding := 0
	for i := 0; i < f.dense.nodes.len(); i++ {
		if f.dense.nodes.flags[i]&flagLeaf != 0 && f.dense.nodes.leaf[i] == 0 {
			padding++
		}
	}
	assert.Equal(t, denseSize(2)-len(m.Trees[0].Nodes), padding)
	assert.Equal(t, 0.0, f.leafValues[0])
}

func TestReorgLayoutIsLevelMajor(t *testing.T) {
	m := &model.Model{NumFeatures: 1, Trees: []model.Tree{balanced(2), chain(3), balanced(1)}}
	want := map[StorageType][]int32{
		// complete levels: 3 roots, 2+2+2, 4+4, 8
		Dense: {0, 3, 9, 17, 25},
		// real nodes only: 3 roots, 2+2+2, 4+2, 2
		Sparse: {0, 3, 9, 15, 17},
	}
	for storage, levels := range want {
		f := mustBuild(t, m, storage)
		r := f.reorgLayout()
		assert.Same(t, r, f.reorgLayout(), "reorganized layout is cached")
		assert.Equal(t, levels, r.levelStart, storage.String())
		assert.Equal(t, int(levels[len(levels)-1]), r.nodes.len())
	}
}

func TestBuildLogsSummary(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	_, err := Build(twoStumps(model.Regression, model.Identity), Auto, WithBuildLogger(logger))
	require.NoError(t, err)
	assert.True(t, logger.ContainsMessage("Forest built"))
	assert.True(t, logger.ContainsField(log.TreesKey, 2.0))
	assert.True(t, logger.ContainsField(log.StorageKey, "DENSE"))
}

func TestDenseKeepsDefaultRightSplits(t *testing.T) {
	// every split in balanced() has DefaultLeft=false
	m := &model.Model{NumFeatures: 1, Trees: []model.Tree{balanced(3), balanced(2)}}
	b := NewBatch([]float64{-1, 0.5, 1.5, 2.5, 9, math.NaN()}, 6, 1)
	want := referenceScore(m, b)

	f := mustBuild(t, m, Dense)
	for i := 0; i < f.dense.nodes.len(); i++ {
		if f.dense.nodes.flags[i]&flagLeaf == 0 {
			assert.Zero(t, f.dense.nodes.flags[i]&flagDefaultLeft, "slot %d", i)
		}
	}
	for _, algo := range Algorithms() {
		got, err := f.Score(b, algo)
		require.NoError(t, err)
		assert.Equal(t, want, got, algo.String())
	}
}

func TestExplicitDenseRejectsOversizedLayout(t *testing.T) {
	trees := make([]model.Tree, 1100)
	for i := range trees {
		trees[i] = chain(MaxDenseDepth)
	}
	m := &model.Model{NumFeatures: 1, Trees: trees}

	_, err := Build(m, Dense)
	var se *filerrors.ModelStructureError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "dense slots")

	assert.Equal(t, Sparse, ChooseStorage(m, nil))
}
