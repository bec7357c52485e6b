package forest

import (
	"math/bits"
)

// BatchWidth is the number of rows BatchTreeReorg walks together. It matches
// the width of the per-tree active-row mask.
const BatchWidth = 32

// reorgLayout regroups the nodes of all trees by depth: every tree's level-0
// node first (in tree order), then every tree's level-1 nodes, and so on.
// The children of an internal node are adjacent in the next level, so only
// the left child index is stored and the right child is left+1.
// Tree t's root is slot t.
type reorgLayout struct {
	nodes      nodeArrays
	trees      int
	levelStart []int32
}

// levelLists holds, per tree and per level, slots of a source layout in the
// order they are placed in the reorganized arena.
type levelLists [][][]int32

func buildReorg(src *nodeArrays, lists levelLists, childPos func(level int, pos int, internalBefore int) int) *reorgLayout {
	trees := len(lists)
	levels := 0
	for _, l := range lists {
		if len(l) > levels {
			levels = len(l)
		}
	}

	// off[level][tree] is the tree's first slot within the level.
	off := make([][]int32, levels)
	levelStart := make([]int32, levels+1)
	total := 0
	for lv := 0; lv < levels; lv++ {
		levelStart[lv] = int32(total)
		off[lv] = make([]int32, trees)
		for t := range lists {
			off[lv][t] = int32(total) - levelStart[lv]
			if lv < len(lists[t]) {
				total += len(lists[t][lv])
			}
		}
	}
	levelStart[levels] = int32(total)

	r := &reorgLayout{
		nodes:      newNodeArrays(total, true, false),
		trees:      trees,
		levelStart: levelStart,
	}
	for t, perLevel := range lists {
		for lv, slots := range perLevel {
			internal := 0
			for p, s := range slots {
				dst := int(levelStart[lv] + off[lv][t] + int32(p))
				r.nodes.copySlot(dst, src, int(s))
				if src.flags[s]&flagLeaf != 0 {
					continue
				}
				r.nodes.left[dst] = levelStart[lv+1] + off[lv+1][t] + int32(childPos(lv, p, internal))
				internal++
			}
		}
	}
	return r
}

// reorgFromDense keeps every complete level, padding included. The left
// child of position p on one level is position 2p on the next.
func reorgFromDense(d *denseLayout) *reorgLayout {
	lists := make(levelLists, len(d.start))
	for t := range d.start {
		depth := int(d.depth[t])
		perLevel := make([][]int32, depth+1)
		for lv := 0; lv <= depth; lv++ {
			width := 1 << lv
			first := d.start[t] + int32(width-1)
			slots := make([]int32, width)
			for p := range slots {
				slots[p] = first + int32(p)
			}
			perLevel[lv] = slots
		}
		lists[t] = perLevel
	}
	return buildReorg(&d.nodes, lists, func(_, p, _ int) int { return 2 * p })
}

// reorgFromSparse orders each level breadth-first, so the children of the
// k-th internal node of a level are positions 2k and 2k+1 of the next.
func reorgFromSparse(s *sparseLayout) *reorgLayout {
	lists := make(levelLists, len(s.roots))
	for t, root := range s.roots {
		var perLevel [][]int32
		level := []int32{root}
		for len(level) > 0 {
			perLevel = append(perLevel, level)
			var next []int32
			for _, idx := range level {
				if s.nodes.flags[idx]&flagLeaf == 0 {
					next = append(next, s.nodes.left[idx], s.nodes.right[idx])
				}
			}
			level = next
		}
		lists[t] = perLevel
	}
	return buildReorg(&s.nodes, lists, func(_, _, k int) int { return 2 * k })
}

// resolveRows walks one row at a time through all still-active trees, one
// level per pass.
func (r *reorgLayout) resolveRows(data []float64, cols, start, end int, out []int32) {
	trees := r.trees
	cur := make([]int32, trees)
	active := make([]int32, trees)
	for row := start; row < end; row++ {
		x := data[row*cols : (row+1)*cols]
		dst := out[row*trees : (row+1)*trees]
		for t := 0; t < trees; t++ {
			cur[t] = int32(t)
			active[t] = int32(t)
		}
		n := trees
		for n > 0 {
			k := 0
			for _, t := range active[:n] {
				idx := cur[t]
				fl := r.nodes.flags[idx]
				if fl&flagLeaf != 0 {
					dst[t] = r.nodes.leaf[idx]
					continue
				}
				child := r.nodes.left[idx]
				if !goLeft(x[r.nodes.feature[idx]], r.nodes.threshold[idx], fl) {
					child++
				}
				cur[t] = child
				active[k] = t
				k++
			}
			n = k
		}
	}
}

// resolveBatches handles batches [bStart, bEnd) of BatchWidth rows out of a
// chunk of rows rows. A tree stays active while any row of the batch has not
// reached a leaf in it; rows past the end of the chunk are never set in the
// mask.
func (r *reorgLayout) resolveBatches(data []float64, cols, rows, bStart, bEnd int, out []int32) {
	trees := r.trees
	cur := make([]int32, trees*BatchWidth)
	masks := make([]uint32, trees)
	active := make([]int32, trees)
	for b := bStart; b < bEnd; b++ {
		r0 := b * BatchWidth
		width := rows - r0
		if width > BatchWidth {
			width = BatchWidth
		}
		full := uint32(uint64(1)<<uint(width) - 1)
		for t := 0; t < trees; t++ {
			masks[t] = full
			active[t] = int32(t)
			slots := cur[t*BatchWidth : t*BatchWidth+width]
			for j := range slots {
				slots[j] = int32(t)
			}
		}

		n := trees
		for n > 0 {
			k := 0
			for _, t := range active[:n] {
				mask := masks[t]
				slots := cur[int(t)*BatchWidth : int(t+1)*BatchWidth]
				for pending := mask; pending != 0; pending &= pending - 1 {
					j := bits.TrailingZeros32(pending)
					idx := slots[j]
					fl := r.nodes.flags[idx]
					if fl&flagLeaf != 0 {
						out[(r0+j)*trees+int(t)] = r.nodes.leaf[idx]
						mask &^= 1 << uint(j)
						continue
					}
					child := r.nodes.left[idx]
					if !goLeft(data[(r0+j)*cols+int(r.nodes.feature[idx])], r.nodes.threshold[idx], fl) {
						child++
					}
					slots[j] = child
				}
				masks[t] = mask
				if mask != 0 {
					active[k] = t
					k++
				}
			}
			n = k
		}
	}
}

func numBatches(rows int) int {
	return (rows + BatchWidth - 1) / BatchWidth
}
