// Package importer converts serialized models of external training
// frameworks into the canonical model.Model.
//
// Every format is handled by an Importer. Sources may be wrapped in gzip,
// zstd or LZ4 frames; Open and Load detect and strip them transparently.
package importer

import (
	"io"
	"os"
	"strings"

	"github.com/YuminosukeSato/fil/core/model"
	"github.com/YuminosukeSato/fil/importer/lightgbm"
	"github.com/YuminosukeSato/fil/importer/xgboost"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// Importer reads one serialized model format.
type Importer interface {
	Import(r io.Reader) (*model.Model, error)
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(r io.Reader) (*model.Model, error)

// Import implements Importer.
func (f ImporterFunc) Import(r io.Reader) (*model.Model, error) { return f(r) }

// ModelType identifies a serialized model format.
type ModelType int

const (
	// XGBoost is the XGBoost JSON model format.
	XGBoost ModelType = iota
	// LightGBM is the LightGBM text model format.
	LightGBM
	// Canonical is a model.Model saved with model.SaveModel.
	Canonical
)

func (t ModelType) String() string {
	switch t {
	case XGBoost:
		return "xgboost"
	case LightGBM:
		return "lightgbm"
	case Canonical:
		return model.FormatName
	default:
		return "unknown"
	}
}

// ParseModelType converts a case-insensitive model type name.
// "xgboost" and "xgboost_json" both select the XGBoost importer, which reads
// JSON and UBJSON.
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xgboost", "xgboost_json":
		return XGBoost, nil
	case "lightgbm":
		return LightGBM, nil
	case model.FormatName:
		return Canonical, nil
	default:
		return XGBoost, filerrors.NewConfigError("model_type", s, "expected xgboost, xgboost_json, lightgbm or fil")
	}
}

// ForType returns the Importer of t.
func ForType(t ModelType) (Importer, error) {
	switch t {
	case XGBoost:
		return ImporterFunc(xgboost.Import), nil
	case LightGBM:
		return ImporterFunc(lightgbm.Import), nil
	case Canonical:
		return ImporterFunc(model.LoadModelFromReader), nil
	default:
		return nil, filerrors.NewConfigError("model_type", int(t), "unknown model type")
	}
}

// Open opens a model file, stripping any compression frame.
func Open(source string) (io.ReadCloser, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, filerrors.NewModelLoadError(source, "", "open", err)
	}
	rc, err := Decompress(f)
	if err != nil {
		_ = f.Close()
		return nil, filerrors.NewModelLoadError(source, "", "decompress", err)
	}
	return &fileReader{ReadCloser: rc, file: f}, nil
}

type fileReader struct {
	io.ReadCloser
	file *os.File
}

func (f *fileReader) Close() error {
	err := f.ReadCloser.Close()
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Import decodes r with the importer of t. r may be compressed.
func Import(t ModelType, r io.Reader) (*model.Model, error) {
	imp, err := ForType(t)
	if err != nil {
		return nil, err
	}
	rc, err := Decompress(r)
	if err != nil {
		return nil, filerrors.NewModelLoadError("", t.String(), "decompress", err)
	}
	defer rc.Close()

	m, err := imp.Import(rc)
	if err != nil {
		var loadErr *filerrors.ModelLoadError
		if !filerrors.As(err, &loadErr) {
			err = filerrors.NewModelLoadError("", t.String(), "import", err)
		}
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, filerrors.NewModelLoadError("", t.String(), "invalid model structure", err)
	}
	return m, nil
}

// Load opens source and imports it as t.
func Load(source string, t ModelType) (*model.Model, error) {
	logger := log.GetLoggerWithName("importer")
	rc, err := Open(source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	m, err := Import(t, rc)
	if err != nil {
		var loadErr *filerrors.ModelLoadError
		if filerrors.As(err, &loadErr) && loadErr.Source == "" {
			loadErr.Source = source
		}
		return nil, err
	}

	stats := m.Stats()
	logger.Info("Model imported",
		log.OperationKey, log.OperationImport,
		log.ModelTypeKey, t.String(),
		log.ModelSourceKey, source,
		log.TaskKey, m.Task.String(),
		log.TreesKey, stats.Trees,
		log.NodesKey, stats.Nodes,
		log.MaxDepthKey, stats.MaxDepth,
	)
	return m, nil
}
