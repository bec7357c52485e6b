package forest

import (
	"github.com/YuminosukeSato/fil/core/model"
)

// denseLayout stores tree t as a complete binary array starting at start[t].
// The children of local slot i are 2i+1 and 2i+2.
type denseLayout struct {
	nodes nodeArrays
	start []int32
	depth []int32
}

func denseSize(depth int) int {
	return 1<<(depth+1) - 1
}

func buildDense(m *model.Model, arena *leafArena, depths []int) *denseLayout {
	d := &denseLayout{
		start: make([]int32, len(m.Trees)),
		depth: make([]int32, len(m.Trees)),
	}
	total := 0
	for t, depth := range depths {
		d.start[t] = int32(total)
		d.depth[t] = int32(depth)
		total += denseSize(depth)
	}
	d.nodes = newNodeArrays(total, false, false)
	for i := 0; i < total; i++ {
		d.nodes.setPadding(i)
	}

	type slot struct{ node, pos int }
	for t := range m.Trees {
		nodes := m.Trees[t].Nodes
		base := int(d.start[t])
		queue := []slot{{0, 0}}
		for len(queue) > 0 {
			s := queue[0]
			queue = queue[1:]
			n := &nodes[s.node]
			d.nodes.set(base+s.pos, n, arena.offsets[t][s.node])
			if !n.Leaf {
				queue = append(queue, slot{n.Left, 2*s.pos + 1}, slot{n.Right, 2*s.pos + 2})
			}
		}
	}
	return d
}

// leafFor returns the leaf-value offset reached by row in tree t.
func (d *denseLayout) leafFor(t int, row []float64) int32 {
	base := d.start[t]
	i := int32(0)
	for {
		idx := base + i
		fl := d.nodes.flags[idx]
		if fl&flagLeaf != 0 {
			return d.nodes.leaf[idx]
		}
		if goLeft(row[d.nodes.feature[idx]], d.nodes.threshold[idx], fl) {
			i = 2*i + 1
		} else {
			i = 2*i + 2
		}
	}
}

func (d *denseLayout) resolveRows(data []float64, cols, start, end int, out []int32) {
	trees := len(d.start)
	for r := start; r < end; r++ {
		row := data[r*cols : (r+1)*cols]
		dst := out[r*trees : (r+1)*trees]
		for t := range dst {
			dst[t] = d.leafFor(t, row)
		}
	}
}
