// Package model は学習フレームワークに依存しない正準の木モデルを定義します。
//
// インポーターはXGBoostやLightGBMのモデルをこの表現に変換し、
// forest パッケージはこの表現から推論用のレイアウトを構築します。
// 分岐規則は「value < Threshold なら左、value >= Threshold なら右、
// NaN なら DefaultLeft に従う」で統一されています。
package model

import (
	"fmt"
	"strings"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Task はモデルのタスク種別です。
type Task int

const (
	// Regression は回帰
	Regression Task = iota
	// BinaryClassification は2値分類
	BinaryClassification
	// MulticlassClassification は多クラス分類
	MulticlassClassification
)

func (t Task) String() string {
	switch t {
	case Regression:
		return "regression"
	case BinaryClassification:
		return "binary"
	case MulticlassClassification:
		return "multiclass"
	default:
		return fmt.Sprintf("Task(%d)", int(t))
	}
}

// Transform は集約後のスコアに適用する出力変換です。
type Transform int

const (
	// Identity は変換なし（生のマージン）
	Identity Transform = iota
	// Sigmoid は 1/(1+exp(-alpha*x))
	Sigmoid
	// Softmax はクラス方向のソフトマックス
	Softmax
	// Exp は対数リンクの逆変換（poisson, gamma, tweedie）
	Exp
)

func (t Transform) String() string {
	switch t {
	case Identity:
		return "identity"
	case Sigmoid:
		return "sigmoid"
	case Softmax:
		return "softmax"
	case Exp:
		return "exp"
	default:
		return fmt.Sprintf("Transform(%d)", int(t))
	}
}

// ParseTransform は変換名を大文字小文字を区別せずに解釈します。
func ParseTransform(s string) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity", "none", "":
		return Identity, nil
	case "sigmoid", "logistic":
		return Sigmoid, nil
	case "softmax":
		return Softmax, nil
	case "exp":
		return Exp, nil
	default:
		return Identity, filerrors.NewConfigError("transform", s, "expected identity, sigmoid, softmax or exp")
	}
}

// Node は木の1ノードです。内部ノードと葉のどちらか一方です。
type Node struct {
	// Leaf が true の場合は葉ノード
	Leaf bool

	// 内部ノードの分岐情報
	Feature     int
	Threshold   float64
	DefaultLeft bool
	Left        int // 同じ木の Nodes へのインデックス
	Right       int

	// Values は葉の値（長さ1、またはベクトル葉の場合は NumClass）
	Values []float64
}

// NewSplit は内部ノードを作成します。
func NewSplit(feature int, threshold float64, defaultLeft bool, left, right int) Node {
	return Node{
		Feature:     feature,
		Threshold:   threshold,
		DefaultLeft: defaultLeft,
		Left:        left,
		Right:       right,
	}
}

// NewLeaf は葉ノードを作成します。
func NewLeaf(values ...float64) Node {
	return Node{Leaf: true, Values: values}
}

// Tree は厳密な二分木です。ルートは Nodes[0] です。
type Tree struct {
	Nodes []Node

	// Group はスカラー葉の出力先クラス。多クラスのブースティングでは
	// クラス k の木が Group == k を持ちます。それ以外は 0。
	Group int
}

// LeafWidth は葉の値の長さを返します。葉がない場合は 0 です。
func (t *Tree) LeafWidth() int {
	for i := range t.Nodes {
		if t.Nodes[i].Leaf {
			return len(t.Nodes[i].Values)
		}
	}
	return 0
}

// Depth はルートから最も深い葉までの辺の数を返します。
// 葉だけの木の深さは 0 です。検証前の木でも停止します。
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	type frame struct{ node, depth int }
	stack := []frame{{0, 0}}
	maxDepth, steps := 0, 0
	for len(stack) > 0 && steps <= len(t.Nodes) {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		steps++
		if f.depth > maxDepth {
			maxDepth = f.depth
		}
		n := &t.Nodes[f.node]
		if n.Leaf {
			continue
		}
		for _, c := range [2]int{n.Left, n.Right} {
			if c > 0 && c < len(t.Nodes) {
				stack = append(stack, frame{c, f.depth + 1})
			}
		}
	}
	return maxDepth
}

// NumLeaves は葉の数を返します。
func (t *Tree) NumLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].Leaf {
			n++
		}
	}
	return n
}

// Model は正準の木アンサンブルです。
type Model struct {
	Trees       []Tree
	Task        Task
	NumClass    int // 回帰・2値分類では 1
	NumFeatures int
	Transform   Transform

	// BaseScore は集約後のマージンに加算されるオフセット
	BaseScore float64

	// Average が true の場合、グループごとの木の数で割る（ランダムフォレスト）
	Average bool

	// SigmoidAlpha は Sigmoid のスケール。0 は 1 として扱います。
	SigmoidAlpha float64
}

// OutputWidth はマージンの列数を返します。多クラスでは NumClass、それ以外は 1。
func (m *Model) OutputWidth() int {
	if m.Task == MulticlassClassification {
		return m.NumClass
	}
	return 1
}

// Alpha は有効な Sigmoid スケールを返します。
func (m *Model) Alpha() float64 {
	if m.SigmoidAlpha == 0 {
		return 1
	}
	return m.SigmoidAlpha
}

// Stats はモデルの形状の要約です。
type Stats struct {
	Trees    int
	Nodes    int
	Leaves   int
	MaxDepth int
}

// Stats はモデル全体の木の数、ノード数、葉の数、最大深さを集計します。
func (m *Model) Stats() Stats {
	s := Stats{Trees: len(m.Trees)}
	for i := range m.Trees {
		t := &m.Trees[i]
		s.Nodes += len(t.Nodes)
		s.Leaves += t.NumLeaves()
		if d := t.Depth(); d > s.MaxDepth {
			s.MaxDepth = d
		}
	}
	return s
}
