// Package core は推論エンジン全体で共有するインターフェースを定義します。
package core

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データの各行に対する予測を行う
	Predict(X mat.Matrix) (*mat.Dense, error)
}

// ContextPredictor はキャンセル可能な予測のインターフェース
type ContextPredictor interface {
	Predictor

	// PredictContext は ctx がキャンセルされると途中で中断する
	PredictContext(ctx context.Context, X mat.Matrix) (*mat.Dense, error)

	// NumFeatures は入力行列に期待する列数を返す
	NumFeatures() int
}
