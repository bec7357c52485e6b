package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologProviderWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(&buf, LevelDebug)

	logger := p.GetLoggerWithName("forest").With(TreesKey, 2)
	logger.Info("forest built", StorageKey, "DENSE", NodesKey, 7)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["severity"])
	assert.Equal(t, "forest built", lines[0]["message"])
	assert.Equal(t, "forest", lines[0][ComponentKey])
	assert.Equal(t, "DENSE", lines[0][StorageKey])
	assert.EqualValues(t, 2, lines[0][TreesKey])
	assert.EqualValues(t, 7, lines[0][NodesKey])
}

func TestZerologErrorAttachesStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologProvider(&buf, LevelInfo).GetLogger()

	err := filerrors.NewConfigError("algorithm", "FAST", "unknown algorithm")
	logger.Error("load failed", err, OperationKey, OperationLoad)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["severity"])
	assert.Contains(t, lines[0][ErrAttrKey], "unknown algorithm")
	assert.NotEmpty(t, lines[0][StacktraceAttrKey])
	assert.Equal(t, OperationLoad, lines[0][OperationKey])
}

func TestZerologLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(&buf, LevelWarn)
	logger := p.GetLogger()

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.False(t, logger.Enabled(context.Background(), LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), LevelError))

	p.SetLevel(LevelDebug)
	p.GetLogger().Debug("now shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, "now shown", lines[1]["message"])
}

func TestZerologMarshalsTypedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologProvider(&buf, LevelInfo).GetLogger()

	w := filerrors.NewModelConversionWarning("lightgbm", 3, "zero-as-missing approximated")
	logger.Warn("approximate conversion", "warning", w, "cause", fmt.Errorf("plain"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	obj, ok := lines[0]["warning"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "lightgbm", obj["format"])
	assert.EqualValues(t, 3, obj["tree"])
	assert.Equal(t, "plain", lines[0]["cause"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	var cfgErr *filerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "log_level", cfgErr.ParamName)
}

func TestGlobalProviderAndWarnRouting(t *testing.T) {
	p, logger := NewTestLoggerProvider(LevelDebug)
	SetProvider(p)
	defer SetupLogger("info")

	GetLoggerWithName("importer").Info("model imported", TreesKey, 4)
	assert.True(t, logger.ContainsField(ComponentKey, "importer"))
	assert.True(t, logger.ContainsField(TreesKey, 4.0))

	filerrors.SetZerologWarnFunc(func(w error) {
		GetLoggerWithName("warnings").Warn(w.Error(), "warning", w)
	})
	filerrors.Warn(filerrors.NewModelConversionWarning("lightgbm", 0, "approximated"))
	assert.True(t, logger.ContainsMessage("approximated"))
	assert.True(t, logger.ContainsField("level", "WARN"))
}

func TestTestLoggerCapturesFieldsAndLevels(t *testing.T) {
	logger, buffer := NewTestLogger(LevelInfo)

	logger.Debug("dropped")
	child := logger.With(AlgorithmKey, "NAIVE")
	child.Info("scored", RowsKey, 10)
	child.Error("failed", fmt.Errorf("boom"), ChunkKey, 1)

	assert.NotContains(t, buffer.String(), "dropped")
	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "NAIVE", entries[0][AlgorithmKey])
	assert.Equal(t, "boom", entries[1][ErrAttrKey])
	assert.True(t, logger.ContainsField(ChunkKey, 1.0))

	logger.Clear()
	assert.Empty(t, buffer.String())
}

func TestTestLoggerConcurrentUse(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	child := logger.With(ComponentKey, "forest")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child.Debug("chunk scored", ChunkKey, i)
		}(i)
	}
	wg.Wait()

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}
