// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// 推論エンジンが返すエラーはすべてこのパッケージの型に分類され、
// cockroachdb/errors によるスタックトレースと zerolog 向けの構造化情報を持ちます。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("fil-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
	zerologWarnFunc = nil
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// ModelConversionWarning はインポート時に学習フレームワークの挙動を
// 正確に表現できず、近似した場合に発生する警告です。
type ModelConversionWarning struct {
	Format string
	Tree   int
	Reason string
}

func (w *ModelConversionWarning) Error() string {
	if w.Tree >= 0 {
		return fmt.Sprintf("%s model converted approximately (tree %d): %s", w.Format, w.Tree, w.Reason)
	}
	return fmt.Sprintf("%s model converted approximately: %s", w.Format, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ModelConversionWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("format", w.Format).
		Int("tree", w.Tree).
		Str("reason", w.Reason).
		Str("type", "ModelConversionWarning")
}

// NewModelConversionWarning は新しいModelConversionWarningを作成します。
// tree が負の場合はモデル全体に関する警告として扱います。
func NewModelConversionWarning(format string, tree int, reason string) *ModelConversionWarning {
	return &ModelConversionWarning{Format: format, Tree: tree, Reason: reason}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// ModelLoadError はモデルのソースが読めない、壊れている、
// またはサポートされていない形式の場合のエラーです。
type ModelLoadError struct {
	Source string // ファイルパスなど（不明な場合は空）
	Format string // "xgboost", "lightgbm" など
	Reason string
	Err    error
}

func (e *ModelLoadError) Error() string {
	src := e.Source
	if src == "" {
		src = "<reader>"
	}
	if e.Err != nil {
		return fmt.Sprintf("fil: load %s model from %s: %s: %v", e.Format, src, e.Reason, e.Err)
	}
	return fmt.Sprintf("fil: load %s model from %s: %s", e.Format, src, e.Reason)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ModelLoadError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("source", e.Source).
		Str("format", e.Format).
		Str("reason", e.Reason).
		Str("type", "ModelLoadError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewModelLoadError は新しいModelLoadErrorを作成し、スタックトレースを付与します。
func NewModelLoadError(source, format, reason string, err error) error {
	return errors.WithStack(&ModelLoadError{Source: source, Format: format, Reason: reason, Err: err})
}

// ModelStructureError は木が厳密な二分木の不変条件に違反している場合、
// または Dense レイアウトの深さ上限を超えている場合のエラーです。
type ModelStructureError struct {
	Tree   int // -1 はモデル全体
	Node   int // -1 は木全体
	Reason string
}

func (e *ModelStructureError) Error() string {
	switch {
	case e.Tree < 0:
		return fmt.Sprintf("fil: malformed model: %s", e.Reason)
	case e.Node < 0:
		return fmt.Sprintf("fil: malformed tree %d: %s", e.Tree, e.Reason)
	default:
		return fmt.Sprintf("fil: malformed tree %d at node %d: %s", e.Tree, e.Node, e.Reason)
	}
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ModelStructureError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("tree", e.Tree).
		Int("node", e.Node).
		Str("reason", e.Reason).
		Str("type", "ModelStructureError")
}

// NewModelStructureError は新しいModelStructureErrorを作成し、スタックトレースを付与します。
func NewModelStructureError(tree, node int, reason string) error {
	return errors.WithStack(&ModelStructureError{Tree: tree, Node: node, Reason: reason})
}

// NewModelStructureErrorf はフォーマット文字列から ModelStructureError を作成します。
func NewModelStructureErrorf(tree, node int, format string, args ...interface{}) error {
	return NewModelStructureError(tree, node, fmt.Sprintf(format, args...))
}

// ConfigError は algorithm / storage_type / model_type などの列挙値が不明な場合や、
// output_class とタスク種別の組み合わせが不正な場合のエラーです。
type ConfigError struct {
	ParamName string
	Value     interface{}
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fil: invalid %s %v: %s", e.ParamName, e.Value, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Interface("value", e.Value).
		Str("reason", e.Reason).
		Str("type", "ConfigError")
}

// NewConfigError は新しいConfigErrorを作成し、スタックトレースを付与します。
func NewConfigError(param string, value interface{}, reason string) error {
	return errors.WithStack(&ConfigError{ParamName: param, Value: value, Reason: reason})
}

// ShapeMismatchError は入力行列の形状が森の期待と異なる場合のエラーです。
type ShapeMismatchError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows/length, 1 for columns/features
}

func (e *ShapeMismatchError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "values"
	}
	return fmt.Sprintf("fil: %s: shape mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ShapeMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "ShapeMismatchError")
}

// NewShapeMismatchError は新しいShapeMismatchErrorを作成し、スタックトレースを付与します。
func NewShapeMismatchError(op string, expected, got, axis int) error {
	return errors.WithStack(&ShapeMismatchError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}
