// Package diff は2つの予測結果の一致度を測定します。
//
// ベンチマークで各アルゴリズム・レイアウトの出力が基準出力と一致するかを
// 検証するために使用します。
package diff

import (
	"math"

	"github.com/YuminosukeSato/fil/forest"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Summary は2つの出力の比較結果です。
type Summary struct {
	N           int     // 比較した要素数
	Mismatched  int     // ビット単位で一致しない要素数
	MaxAbsError float64 // 最大絶対誤差
	MAE         float64 // 平均絶対誤差
	RMSE        float64 // 平方根平均二乗誤差
}

// Identical は全要素がビット単位で一致する場合にtrueを返します。
func (s Summary) Identical() bool { return s.Mismatched == 0 }

// Within は最大絶対誤差がtol以下の場合にtrueを返します。
func (s Summary) Within(tol float64) bool { return s.MaxAbsError <= tol }

// Compare は基準出力wantと出力gotを比較します。
// 同じ位置のNaN同士は一致とみなし、片方のみのNaNは誤差+Infとして扱います。
func Compare(want, got []float64) (Summary, error) {
	if len(want) != len(got) {
		return Summary{}, filerrors.NewShapeMismatchError("diff.Compare", len(want), len(got), 0)
	}

	s := Summary{N: len(want)}
	if s.N == 0 {
		return s, nil
	}

	var sumAbs, sumSq float64
	for i, w := range want {
		g := got[i]
		if math.Float64bits(w) == math.Float64bits(g) || (math.IsNaN(w) && math.IsNaN(g)) {
			continue
		}
		s.Mismatched++

		// Σ|want - got| と Σ(want - got)²
		d := math.Abs(w - g)
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		sumAbs += d
		sumSq += d * d
		if d > s.MaxAbsError {
			s.MaxAbsError = d
		}
	}

	s.MAE = sumAbs / float64(s.N)
	s.RMSE = math.Sqrt(sumSq / float64(s.N))
	return s, nil
}

// CompareOutputs は形状を確認したうえで2つの予測出力を比較します。
func CompareOutputs(want, got forest.Output) (Summary, error) {
	if want.Rows != got.Rows {
		return Summary{}, filerrors.NewShapeMismatchError("diff.CompareOutputs", want.Rows, got.Rows, 0)
	}
	if want.Cols != got.Cols {
		return Summary{}, filerrors.NewShapeMismatchError("diff.CompareOutputs", want.Cols, got.Cols, 1)
	}
	return Compare(want.Data, got.Data)
}
