package forest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/fil/core/model"
)

// twoStumps is the 2-tree forest used throughout: both trees split feature 0
// at 0.5, tree A has leaves 0.2 / 0.8 and tree B has leaves 0.1 / 0.3.
func twoStumps(task model.Task, transform model.Transform) *model.Model {
	stump := func(left, right float64) model.Tree {
		return model.Tree{Nodes: []model.Node{
			model.NewSplit(0, 0.5, true, 1, 2),
			model.NewLeaf(left),
			model.NewLeaf(right),
		}}
	}
	return &model.Model{
		Trees:       []model.Tree{stump(0.2, 0.8), stump(0.1, 0.3)},
		Task:        task,
		NumClass:    1,
		NumFeatures: 1,
		Transform:   transform,
	}
}

type treeGen struct {
	rng         *rand.Rand
	numFeatures int
	leafWidth   int
	maxDepth    int
	leafProb    float64
}

// grow appends a random subtree and returns the index of its root.
func (g *treeGen) grow(nodes *[]model.Node, depth int) int {
	id := len(*nodes)
	if depth >= g.maxDepth || (depth > 0 && g.rng.Float64() < g.leafProb) {
		vals := make([]float64, g.leafWidth)
		for i := range vals {
			vals[i] = math.Round(g.rng.NormFloat64()*1000) / 1000
		}
		*nodes = append(*nodes, model.NewLeaf(vals...))
		return id
	}
	*nodes = append(*nodes, model.NewSplit(
		g.rng.Intn(g.numFeatures),
		math.Round(g.rng.Float64()*20) / 20,
		g.rng.Intn(2) == 0,
		0, 0,
	))
	left := g.grow(nodes, depth+1)
	right := g.grow(nodes, depth+1)
	(*nodes)[id].Left = left
	(*nodes)[id].Right = right
	return id
}

func (g *treeGen) tree(group int) model.Tree {
	var nodes []model.Node
	g.grow(&nodes, 0)
	return model.Tree{Nodes: nodes, Group: group}
}

// randomModel builds a model whose thresholds sit on a 0.05 grid so that
// randomInput hits split values exactly.
func randomModel(t testing.TB, seed int64, task model.Task, numClass, trees, maxDepth int, vectorLeaves bool) *model.Model {
	t.Helper()
	g := &treeGen{
		rng:         rand.New(rand.NewSource(seed)),
		numFeatures: 5,
		leafWidth:   1,
		maxDepth:    maxDepth,
		leafProb:    0.3,
	}
	m := &model.Model{Task: task, NumClass: 1, NumFeatures: g.numFeatures}
	switch task {
	case model.BinaryClassification:
		m.Transform = model.Sigmoid
	case model.MulticlassClassification:
		m.NumClass = numClass
		m.Transform = model.Softmax
		if vectorLeaves {
			g.leafWidth = numClass
		}
	}
	for i := 0; i < trees; i++ {
		group := 0
		if task == model.MulticlassClassification && !vectorLeaves {
			group = i % numClass
		}
		m.Trees = append(m.Trees, g.tree(group))
	}
	require.NoError(t, m.Validate())
	return m
}

// randomInput mixes grid values, off-grid values and NaNs.
func randomInput(seed int64, rows, cols int) Batch {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		switch p := rng.Float64(); {
		case p < 0.1:
			data[i] = math.NaN()
		case p < 0.4:
			data[i] = math.Round(rng.Float64()*20) / 20
		default:
			data[i] = rng.Float64()*1.2 - 0.1
		}
	}
	return NewBatch(data, rows, cols)
}

// referenceScore walks the canonical trees directly.
func referenceScore(m *model.Model, b Batch) []float64 {
	w := m.OutputWidth()
	raw := make([]float64, b.Rows*w)
	for r := 0; r < b.Rows; r++ {
		row := b.Data[r*b.Cols : (r+1)*b.Cols]
		for ti := range m.Trees {
			tree := &m.Trees[ti]
			n := &tree.Nodes[0]
			for !n.Leaf {
				v := row[n.Feature]
				left := v < n.Threshold
				if math.IsNaN(v) {
					left = n.DefaultLeft
				}
				if left {
					n = &tree.Nodes[n.Left]
				} else {
					n = &tree.Nodes[n.Right]
				}
			}
			if len(n.Values) == 1 {
				raw[r*w+tree.Group] += n.Values[0]
			} else {
				for k, v := range n.Values {
					raw[r*w+k] += v
				}
			}
		}
	}
	return raw
}

func mustBuild(t testing.TB, m *model.Model, storage StorageType) *Forest {
	t.Helper()
	f, err := Build(m, storage)
	require.NoError(t, err)
	return f
}
