package lightgbm

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

const binaryModel = `tree
version=v4
num_class=1
num_tree_per_iteration=1
label_index=0
max_feature_idx=1
objective=binary sigmoid:1
feature_names=Column_0 Column_1
feature_infos=[0:1] [0:1]
tree_sizes=412 297

Tree=0
num_leaves=3
num_cat=0
split_feature=0 1
split_gain=10.5 4.25
threshold=0.5 0.25
decision_type=2 8
left_child=1 -1
right_child=-2 -3
leaf_value=0.1 -0.2 0.3
leaf_weight=10 10 10
leaf_count=10 10 10
internal_value=0 0.1
internal_weight=30 20
internal_count=30 20
is_linear=0
shrinkage=1


Tree=1
num_leaves=1
num_cat=0
split_feature=
split_gain=
threshold=
decision_type=
left_child=
right_child=
leaf_value=0.05
leaf_weight=
leaf_count=
internal_value=
internal_weight=
internal_count=
is_linear=0
shrinkage=0.1


end of trees

feature_importances:
Column_0=1
Column_1=1

parameters:
[boosting: gbdt]
[objective: binary]
end of parameters

pandas_categorical:null
`

// walk follows the canonical split rule.
func walk(t model.Tree, x []float64) float64 {
	n := t.Nodes[0]
	for !n.Leaf {
		v := x[n.Feature]
		left := v < n.Threshold
		if math.IsNaN(v) {
			left = n.DefaultLeft
		}
		if left {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Values[0]
}

// stumps builds a model text with n single-leaf trees.
func stumps(header string, n int) string {
	var b strings.Builder
	b.WriteString("tree\nversion=v4\n")
	b.WriteString(header)
	b.WriteString("\n\n")
	for i := 0; i < n; i++ {
		b.WriteString("Tree=" + string(rune('0'+i)) + "\nnum_leaves=1\nleaf_value=1\nshrinkage=1\n\n\n")
	}
	b.WriteString("end of trees\n")
	return b.String()
}

func captureWarnings(t *testing.T) *[]error {
	t.Helper()
	var got []error
	filerrors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { filerrors.SetWarningHandler(func(error) {}) })
	return &got
}

func TestImportBinary(t *testing.T) {
	m, err := Import(strings.NewReader(binaryModel))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, model.BinaryClassification, m.Task)
	assert.Equal(t, model.Sigmoid, m.Transform)
	assert.Equal(t, 1.0, m.Alpha())
	assert.Equal(t, 2, m.NumFeatures)
	assert.Equal(t, 0.0, m.BaseScore)
	assert.False(t, m.Average)
	require.Len(t, m.Trees, 2)

	tree := m.Trees[0]
	require.Len(t, tree.Nodes, 5)
	assert.Equal(t, 1, tree.Nodes[0].Left)
	assert.Equal(t, 3, tree.Nodes[0].Right)
	assert.Equal(t, 2, tree.Nodes[1].Left)
	assert.Equal(t, 4, tree.Nodes[1].Right)
	assert.Equal(t, []float64{0.1}, tree.Nodes[2].Values)

	// missing type None: NaN is routed like zero
	assert.True(t, tree.Nodes[0].DefaultLeft)
	// missing type NaN with the default bit clear
	assert.False(t, tree.Nodes[1].DefaultLeft)

	assert.Equal(t, []float64{0.05}, m.Trees[1].Nodes[0].Values)
}

func TestImportThresholdIsInclusive(t *testing.T) {
	m, err := Import(strings.NewReader(binaryModel))
	require.NoError(t, err)
	tree := m.Trees[0]

	tests := []struct {
		x    []float64
		want float64
	}{
		{[]float64{0.5, 0.25}, 0.1},
		{[]float64{0.5, 0.2500001}, 0.3},
		{[]float64{0.5000001, 0}, -0.2},
		{[]float64{math.NaN(), 0}, 0.1},
		{[]float64{0, math.NaN()}, 0.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, walk(tree, tt.x), "x=%v", tt.x)
	}
}

func TestImportMulticlass(t *testing.T) {
	m, err := Import(strings.NewReader(stumps(
		"num_class=3\nnum_tree_per_iteration=3\nmax_feature_idx=4\nobjective=multiclass num_class:3", 6)))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, model.MulticlassClassification, m.Task)
	assert.Equal(t, model.Softmax, m.Transform)
	assert.Equal(t, 3, m.NumClass)
	assert.Equal(t, 5, m.NumFeatures)
	for i, tree := range m.Trees {
		assert.Equal(t, i%3, tree.Group, "tree %d", i)
	}

	m, err = Import(strings.NewReader(stumps(
		"num_class=3\nnum_tree_per_iteration=3\nmax_feature_idx=0\nobjective=multiclassova num_class:3 sigmoid:2", 3)))
	require.NoError(t, err)
	assert.Equal(t, model.Sigmoid, m.Transform)
	assert.Equal(t, 2.0, m.Alpha())
}

func TestImportObjectives(t *testing.T) {
	tests := []struct {
		objective string
		task      model.Task
		transform model.Transform
	}{
		{"regression", model.Regression, model.Identity},
		{"huber", model.Regression, model.Identity},
		{"poisson", model.Regression, model.Exp},
		{"tweedie tweedie_variance_power:1.5", model.Regression, model.Exp},
		{"cross_entropy", model.BinaryClassification, model.Sigmoid},
	}
	for _, tt := range tests {
		t.Run(tt.objective, func(t *testing.T) {
			m, err := Import(strings.NewReader(stumps("max_feature_idx=0\nobjective="+tt.objective, 1)))
			require.NoError(t, err)
			assert.Equal(t, tt.task, m.Task)
			assert.Equal(t, tt.transform, m.Transform)
		})
	}
}

func TestImportAverageOutput(t *testing.T) {
	m, err := Import(strings.NewReader(stumps("max_feature_idx=0\nobjective=regression\naverage_output", 2)))
	require.NoError(t, err)
	assert.True(t, m.Average)
}

func TestImportZeroMissingWarns(t *testing.T) {
	warnings := captureWarnings(t)
	src := strings.Replace(binaryModel, "decision_type=2 8", "decision_type=4 8", 1)

	m, err := Import(strings.NewReader(src))
	require.NoError(t, err)
	assert.False(t, m.Trees[0].Nodes[0].DefaultLeft)

	require.Len(t, *warnings, 1)
	var convWarn *filerrors.ModelConversionWarning
	require.ErrorAs(t, (*warnings)[0], &convWarn)
	assert.Equal(t, 0, convWarn.Tree)

	// zero already falls on the default side, so nothing is approximated
	*warnings = nil
	src = strings.Replace(binaryModel, "decision_type=2 8", "decision_type=6 8", 1)
	_, err = Import(strings.NewReader(src))
	require.NoError(t, err)
	assert.Empty(t, *warnings)
}

func TestImportUnknownObjectiveWarns(t *testing.T) {
	warnings := captureWarnings(t)
	m, err := Import(strings.NewReader(stumps("max_feature_idx=0\nobjective=custom", 1)))
	require.NoError(t, err)
	assert.Equal(t, model.Identity, m.Transform)
	assert.Len(t, *warnings, 1)
}

func TestImportRejects(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		reason string
	}{
		{"empty", "", "empty input"},
		{"not lightgbm", "{\"learner\": {}}\n", "not a LightGBM"},
		{"categorical", strings.Replace(binaryModel, "decision_type=2 8", "decision_type=1 8", 1), "categorical"},
		{"linear", strings.Replace(binaryModel, "is_linear=0", "is_linear=1", 1), "linear"},
		{"truncated", strings.SplitN(binaryModel, "Tree=1", 2)[0], "truncated"},
		{"no trees", "tree\nmax_feature_idx=0\nobjective=regression\n\nend of trees\n", "no trees"},
		{"missing max_feature_idx", "tree\nobjective=regression\n\n", "max_feature_idx"},
		{"multiclass without classes", stumps("max_feature_idx=0\nobjective=multiclass", 1), "num_class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(strings.NewReader(tt.src))
			var loadErr *filerrors.ModelLoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, FormatName, loadErr.Format)
			assert.Contains(t, loadErr.Reason, tt.reason)
		})
	}

	_, err := Import(strings.NewReader(strings.Replace(binaryModel, "leaf_value=0.1 -0.2 0.3", "leaf_value=0.1 -0.2", 1)))
	var structErr *filerrors.ModelStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, 0, structErr.Tree)
}
