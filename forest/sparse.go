package forest

import (
	"github.com/YuminosukeSato/fil/core/model"
)

// sparseLayout stores the real nodes of every tree back to back with
// explicit child indices into the same arrays.
type sparseLayout struct {
	nodes nodeArrays
	roots []int32
}

func buildSparse(m *model.Model, arena *leafArena) *sparseLayout {
	s := &sparseLayout{roots: make([]int32, len(m.Trees))}
	total := 0
	for t := range m.Trees {
		s.roots[t] = int32(total)
		total += len(m.Trees[t].Nodes)
	}
	s.nodes = newNodeArrays(total, true, true)
	for t := range m.Trees {
		base := int(s.roots[t])
		for j := range m.Trees[t].Nodes {
			n := &m.Trees[t].Nodes[j]
			s.nodes.set(base+j, n, arena.offsets[t][j])
			if !n.Leaf {
				s.nodes.left[base+j] = int32(base + n.Left)
				s.nodes.right[base+j] = int32(base + n.Right)
			}
		}
	}
	return s
}

func (s *sparseLayout) leafFor(t int, row []float64) int32 {
	idx := s.roots[t]
	for {
		fl := s.nodes.flags[idx]
		if fl&flagLeaf != 0 {
			return s.nodes.leaf[idx]
		}
		if goLeft(row[s.nodes.feature[idx]], s.nodes.threshold[idx], fl) {
			idx = s.nodes.left[idx]
		} else {
			idx = s.nodes.right[idx]
		}
	}
}

func (s *sparseLayout) resolveRows(data []float64, cols, start, end int, out []int32) {
	trees := len(s.roots)
	for r := start; r < end; r++ {
		row := data[r*cols : (r+1)*cols]
		dst := out[r*trees : (r+1)*trees]
		for t := range dst {
			dst[t] = s.leafFor(t, row)
		}
	}
}
