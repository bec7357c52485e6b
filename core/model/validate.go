package model

import (
	"math"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Validate はモデル全体の構造を検証します。
//
// 違反はすべて ModelStructureError として報告されます。
// 検証に通ったモデルでは、どの行のどの木の走査もちょうど1つの葉で終わります。
func (m *Model) Validate() error {
	if len(m.Trees) == 0 {
		return filerrors.NewModelStructureError(-1, -1, "model has no trees")
	}
	if m.NumFeatures < 1 {
		return filerrors.NewModelStructureErrorf(-1, -1, "num_features must be positive, got %d", m.NumFeatures)
	}
	switch m.Task {
	case Regression, BinaryClassification:
		if m.NumClass > 1 {
			return filerrors.NewModelStructureErrorf(-1, -1, "%s model declares %d classes", m.Task, m.NumClass)
		}
	case MulticlassClassification:
		if m.NumClass < 2 {
			return filerrors.NewModelStructureErrorf(-1, -1, "multiclass model needs at least 2 classes, got %d", m.NumClass)
		}
	default:
		return filerrors.NewModelStructureErrorf(-1, -1, "unknown task %d", int(m.Task))
	}
	if m.Transform == Softmax && m.Task != MulticlassClassification {
		return filerrors.NewModelStructureErrorf(-1, -1, "softmax transform on %s model", m.Task)
	}
	if err := filerrors.CheckScalar("base score", m.BaseScore); err != nil {
		return filerrors.NewModelStructureErrorf(-1, -1, "base score is not finite: %v", m.BaseScore)
	}
	if err := filerrors.CheckScalar("sigmoid alpha", m.SigmoidAlpha); err != nil {
		return filerrors.NewModelStructureErrorf(-1, -1, "sigmoid alpha is not finite: %v", m.SigmoidAlpha)
	}

	for i := range m.Trees {
		if err := m.validateTree(i); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) validateTree(ti int) error {
	t := &m.Trees[ti]
	n := len(t.Nodes)
	if n == 0 {
		return filerrors.NewModelStructureError(ti, -1, "tree has no nodes")
	}
	width := m.OutputWidth()
	if t.Group < 0 || t.Group >= width {
		return filerrors.NewModelStructureErrorf(ti, -1, "group %d out of range [0, %d)", t.Group, width)
	}

	leafWidth := t.LeafWidth()
	if leafWidth != 1 && leafWidth != width {
		return filerrors.NewModelStructureErrorf(ti, -1, "leaf width %d, want 1 or %d", leafWidth, width)
	}

	visited := make([]bool, n)
	stack := []int{0}
	visited[0] = true
	reached := 1
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &t.Nodes[id]

		if node.Leaf {
			if len(node.Values) != leafWidth {
				return filerrors.NewModelStructureErrorf(ti, id, "leaf has %d values, want %d", len(node.Values), leafWidth)
			}
			if filerrors.CheckFinite("leaf values", node.Values) != nil {
				return filerrors.NewModelStructureErrorf(ti, id, "leaf value is not finite: %v", node.Values)
			}
			continue
		}

		if len(node.Values) != 0 {
			return filerrors.NewModelStructureError(ti, id, "internal node carries leaf values")
		}
		if node.Feature < 0 || node.Feature >= m.NumFeatures {
			return filerrors.NewModelStructureErrorf(ti, id, "feature %d out of range [0, %d)", node.Feature, m.NumFeatures)
		}
		if math.IsNaN(node.Threshold) || math.IsInf(node.Threshold, 0) {
			return filerrors.NewModelStructureErrorf(ti, id, "threshold is not finite: %v", node.Threshold)
		}
		if node.Left == node.Right {
			return filerrors.NewModelStructureErrorf(ti, id, "both children point to node %d", node.Left)
		}
		for _, c := range [2]int{node.Left, node.Right} {
			switch {
			case c < 0 || c >= n:
				return filerrors.NewModelStructureErrorf(ti, id, "child index %d out of range [0, %d)", c, n)
			case c == id:
				return filerrors.NewModelStructureError(ti, id, "node references itself")
			case visited[c]:
				return filerrors.NewModelStructureErrorf(ti, id, "node %d is reached twice", c)
			}
			visited[c] = true
			reached++
			stack = append(stack, c)
		}
	}

	if reached != n {
		for id, ok := range visited {
			if !ok {
				return filerrors.NewModelStructureErrorf(ti, id, "node is unreachable from the root")
			}
		}
	}
	return nil
}
