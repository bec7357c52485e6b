package forest

import (
	"math"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

const (
	flagLeaf uint8 = 1 << iota
	flagDefaultLeft
)

// nodeArrays is a struct-of-arrays node arena shared by all layouts.
// left and right are only populated by layouts with explicit children.
type nodeArrays struct {
	feature   []int32
	threshold []float64
	flags     []uint8
	leaf      []int32 // offset into Forest.leafValues, leaves only
	left      []int32
	right     []int32
}

func newNodeArrays(n int, withLeft, withRight bool) nodeArrays {
	a := nodeArrays{
		feature:   make([]int32, n),
		threshold: make([]float64, n),
		flags:     make([]uint8, n),
		leaf:      make([]int32, n),
	}
	if withLeft {
		a.left = make([]int32, n)
	}
	if withRight {
		a.right = make([]int32, n)
	}
	return a
}

func (a *nodeArrays) len() int { return len(a.flags) }

func (a *nodeArrays) bytes() int64 {
	n := int64(a.len())
	b := n * (4 + 8 + 1 + 4)
	b += int64(len(a.left)+len(a.right)) * 4
	return b
}

// set copies a canonical node into slot i. leafOffset is used for leaves.
func (a *nodeArrays) set(i int, n *model.Node, leafOffset int32) {
	if n.Leaf {
		a.flags[i] = flagLeaf
		a.leaf[i] = leafOffset
		return
	}
	a.feature[i] = int32(n.Feature)
	a.threshold[i] = n.Threshold
	var fl uint8
	if n.DefaultLeft {
		fl = flagDefaultLeft
	}
	// slots may have been preset as padding
	a.flags[i] = fl
}

// setPadding marks slot i as an unreachable leaf pointing at the zero block.
func (a *nodeArrays) setPadding(i int) {
	a.flags[i] = flagLeaf
	a.leaf[i] = 0
}

// copySlot copies slot j of src into slot i of a, children excluded.
func (a *nodeArrays) copySlot(i int, src *nodeArrays, j int) {
	a.feature[i] = src.feature[j]
	a.threshold[i] = src.threshold[j]
	a.flags[i] = src.flags[j]
	a.leaf[i] = src.leaf[j]
}

// goLeft is the split rule: value < threshold goes left, NaN follows the
// stored default direction.
func goLeft(v, threshold float64, flags uint8) bool {
	if v != v {
		return flags&flagDefaultLeft != 0
	}
	return v < threshold
}

// leafArena stores every leaf's values contiguously. The first width slots
// are zeros and back the padding leaves of the dense layout.
type leafArena struct {
	values  []float64
	offsets [][]int32 // per tree, per canonical node; -1 for internal nodes
}

func buildLeafArena(m *model.Model) (*leafArena, error) {
	width := m.OutputWidth()
	total := width
	for i := range m.Trees {
		for j := range m.Trees[i].Nodes {
			total += len(m.Trees[i].Nodes[j].Values)
		}
	}
	if total > math.MaxInt32 {
		return nil, filerrors.NewModelStructureErrorf(-1, -1, "%d leaf values exceed the addressable arena", total)
	}

	arena := &leafArena{
		values:  make([]float64, width, total),
		offsets: make([][]int32, len(m.Trees)),
	}
	for i := range m.Trees {
		nodes := m.Trees[i].Nodes
		offs := make([]int32, len(nodes))
		for j := range nodes {
			if !nodes[j].Leaf {
				offs[j] = -1
				continue
			}
			offs[j] = int32(len(arena.values))
			arena.values = append(arena.values, nodes[j].Values...)
		}
		arena.offsets[i] = offs
	}
	return arena, nil
}
