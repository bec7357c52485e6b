package forest

import (
	"strings"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Algorithm selects the traversal strategy. All algorithms produce
// bit-identical scores; they differ only in memory-access pattern.
type Algorithm int

const (
	// Naive walks each (row, tree) pair from root to leaf independently.
	Naive Algorithm = iota
	// TreeReorg walks all trees of one row level by level over the
	// level-reorganized layout.
	TreeReorg
	// BatchTreeReorg runs the level loop once per batch of BatchWidth rows.
	BatchTreeReorg
)

var algorithmNames = map[string]Algorithm{
	"NAIVE":            Naive,
	"TREE_REORG":       TreeReorg,
	"BATCH_TREE_REORG": BatchTreeReorg,
}

func (a Algorithm) String() string {
	switch a {
	case Naive:
		return "NAIVE"
	case TreeReorg:
		return "TREE_REORG"
	case BatchTreeReorg:
		return "BATCH_TREE_REORG"
	default:
		return "UNKNOWN"
	}
}

// ParseAlgorithm converts a case-insensitive algorithm name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	if a, ok := algorithmNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return Naive, filerrors.NewConfigError("algorithm", s, "expected NAIVE, TREE_REORG or BATCH_TREE_REORG")
}

// Algorithms lists every algorithm in declaration order.
func Algorithms() []Algorithm {
	return []Algorithm{Naive, TreeReorg, BatchTreeReorg}
}

// StorageType selects the node layout of a Forest.
type StorageType int

const (
	// Auto picks Dense or Sparse from the shape of the trees.
	Auto StorageType = iota
	// Dense stores each tree as a complete binary array.
	Dense
	// Sparse stores only real nodes with explicit child indices.
	Sparse
)

func (s StorageType) String() string {
	switch s {
	case Auto:
		return "AUTO"
	case Dense:
		return "DENSE"
	case Sparse:
		return "SPARSE"
	default:
		return "UNKNOWN"
	}
}

// ParseStorageType converts a case-insensitive storage name to a StorageType.
func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO":
		return Auto, nil
	case "DENSE":
		return Dense, nil
	case "SPARSE":
		return Sparse, nil
	default:
		return Auto, filerrors.NewConfigError("storage_type", s, "expected AUTO, DENSE or SPARSE")
	}
}
