package model

import (
	"encoding/gob"
	"io"
	"os"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// FormatName は正準モデルのシリアライズ形式の名前です。
const FormatName = "fil"

// SaveModel は変換済みのモデルをファイルに保存します。
// 保存したファイルは model_type "fil" で再読み込みでき、インポートの変換を省けます。
//
// 使用例:
//
//	m, _ := importer.Import(importer.LightGBM, r)
//	err := model.SaveModel(m, "model.fil")
func SaveModel(m *Model, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return filerrors.Wrapf(err, "create %s", filename)
	}
	if err := SaveModelToWriter(m, file); err != nil {
		_ = file.Close()
		return err
	}
	return filerrors.Wrapf(file.Close(), "close %s", filename)
}

// LoadModel はファイルからモデルを読み込み、構造を検証します。
func LoadModel(filename string) (*Model, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, filerrors.NewModelLoadError(filename, FormatName, "open", err)
	}
	defer file.Close()

	m, err := LoadModelFromReader(file)
	if err != nil {
		var loadErr *filerrors.ModelLoadError
		if filerrors.As(err, &loadErr) {
			loadErr.Source = filename
		}
		return nil, err
	}
	return m, nil
}

// SaveModelToWriter はモデルを gob 形式で w に書き込みます。
func SaveModelToWriter(m *Model, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return filerrors.Wrap(err, "encode model")
	}
	return nil
}

// LoadModelFromReader は r から gob 形式のモデルを読み込み、構造を検証します。
func LoadModelFromReader(r io.Reader) (*Model, error) {
	var m Model
	if err := gob.NewDecoder(r).Decode(&m); err != nil {
		return nil, filerrors.NewModelLoadError("", FormatName, "decode gob", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
