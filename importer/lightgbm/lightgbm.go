// Package lightgbm imports models saved by LightGBM's save_model in text form.
//
// LightGBM sends a row left when value <= threshold. The canonical model
// uses value < threshold, so every threshold is moved to the next
// representable float64 above it. Leaf values already carry the shrinkage.
package lightgbm

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// FormatName is the format name used in errors and warnings.
const FormatName = "lightgbm"

// decision_type bits
const (
	categoricalMask = 1
	defaultLeftMask = 1 << 1
)

// missing types stored in bits 2-3 of decision_type
const (
	missingNone = 0
	missingZero = 1
	missingNaN  = 2
)

// Import decodes a LightGBM text model.
func Import(r io.Reader) (*model.Model, error) {
	reader := bufio.NewReader(r)

	header, flags, err := readHeader(reader)
	if err != nil {
		return nil, err
	}
	m, perIteration, err := convertHeader(header, flags)
	if err != nil {
		return nil, err
	}

	for {
		line, err := nextLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, loadError("read", err)
		}
		if line == "end of trees" {
			break
		}
		if !strings.HasPrefix(line, "Tree=") {
			continue
		}
		index := len(m.Trees)
		params, err := readParamsUntilBlank(reader)
		if err != nil {
			return nil, loadError("read tree", err)
		}
		tree, err := readTree(params, index)
		if err != nil {
			return nil, err
		}
		if m.Task == model.MulticlassClassification {
			tree.Group = index % perIteration
		}
		m.Trees = append(m.Trees, tree)
	}

	if len(m.Trees) == 0 {
		return nil, loadError("model has no trees", nil)
	}
	if sizes, ok := header["tree_sizes"]; ok {
		if n := len(strings.Fields(sizes)); n != len(m.Trees) {
			return nil, loadError("truncated model: tree_sizes lists "+strconv.Itoa(n)+
				" trees, found "+strconv.Itoa(len(m.Trees)), nil)
		}
	}
	return m, nil
}

func loadError(reason string, err error) error {
	return filerrors.NewModelLoadError("", FormatName, reason, err)
}

// readHeader reads the leading block up to the first blank line. Lines
// without '=' such as "average_output" are returned as flags.
func readHeader(reader *bufio.Reader) (treeParams, map[string]bool, error) {
	first, err := nextLine(reader)
	if err == io.EOF {
		return nil, nil, loadError("empty input", nil)
	}
	if err != nil {
		return nil, nil, loadError("read", err)
	}
	if first != "tree" {
		return nil, nil, loadError("not a LightGBM text model: missing leading \"tree\" line", nil)
	}

	params := make(treeParams)
	flags := make(map[string]bool)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, nil, loadError("read", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if err == io.EOF || len(params) > 0 {
				break
			}
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			params[strings.TrimSpace(key)] = strings.TrimSpace(value)
		} else {
			flags[line] = true
		}
		if err == io.EOF {
			break
		}
	}
	return params, flags, nil
}

// nextLine returns the next non-blank line.
func nextLine(reader *bufio.Reader) (string, error) {
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func convertHeader(header treeParams, flags map[string]bool) (*model.Model, int, error) {
	maxFeature, err := header.toInt("max_feature_idx")
	if err != nil {
		return nil, 0, loadError("parse max_feature_idx", err)
	}
	numClass := 1
	if _, ok := header["num_class"]; ok {
		if numClass, err = header.toInt("num_class"); err != nil {
			return nil, 0, loadError("parse num_class", err)
		}
	}
	perIteration := numClass
	if _, ok := header["num_tree_per_iteration"]; ok {
		if perIteration, err = header.toInt("num_tree_per_iteration"); err != nil {
			return nil, 0, loadError("parse num_tree_per_iteration", err)
		}
	}
	if perIteration < 1 {
		perIteration = 1
	}

	m := &model.Model{
		NumClass:    1,
		NumFeatures: maxFeature + 1,
		Average:     flags["average_output"],
	}
	if err := applyObjective(m, header["objective"], numClass); err != nil {
		return nil, 0, err
	}
	if m.Task == model.MulticlassClassification && perIteration != m.NumClass {
		return nil, 0, loadError("num_tree_per_iteration does not match num_class", nil)
	}
	return m, perIteration, nil
}

// applyObjective sets the task and transform from an objective line such
// as "binary sigmoid:1" or "multiclassova num_class:3 sigmoid:2".
func applyObjective(m *model.Model, objective string, numClass int) error {
	fields := strings.Fields(objective)
	name := ""
	if len(fields) > 0 {
		name = fields[0]
	}
	opts := make(map[string]string)
	for _, f := range fields[min(1, len(fields)):] {
		if k, v, ok := strings.Cut(f, ":"); ok {
			opts[k] = v
		} else {
			opts[f] = ""
		}
	}
	alpha := 1.0
	if v, ok := opts["sigmoid"]; ok {
		a, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return loadError("parse sigmoid parameter", err)
		}
		alpha = a
	}
	if _, ok := opts["sqrt"]; ok {
		filerrors.Warn(filerrors.NewModelConversionWarning(FormatName, -1,
			"the sqrt output transform is not applied; predictions are on the square root scale"))
	}

	switch name {
	case "binary", "cross_entropy", "xentropy":
		m.Task = model.BinaryClassification
		m.Transform = model.Sigmoid
		m.SigmoidAlpha = alpha
	case "multiclass", "softmax":
		m.Task = model.MulticlassClassification
		m.Transform = model.Softmax
		m.NumClass = numClass
	case "multiclassova", "multiclass_ova", "ova", "ovr":
		m.Task = model.MulticlassClassification
		m.Transform = model.Sigmoid
		m.SigmoidAlpha = alpha
		m.NumClass = numClass
	case "poisson", "gamma", "tweedie":
		m.Task = model.Regression
		m.Transform = model.Exp
	case "regression", "regression_l2", "regression_l1", "l1", "l2", "mse", "mae",
		"huber", "fair", "quantile", "mape", "lambdarank", "rank_xendcg":
		m.Task = model.Regression
		m.Transform = model.Identity
	default:
		filerrors.Warn(filerrors.NewModelConversionWarning(FormatName, -1,
			"unknown objective "+strconv.Quote(objective)+"; predictions are raw margins"))
		m.Task = model.Regression
		m.Transform = model.Identity
		if numClass > 1 {
			m.Task = model.MulticlassClassification
			m.NumClass = numClass
		}
	}
	if m.Task == model.MulticlassClassification && m.NumClass < 2 {
		return loadError("multiclass objective "+strconv.Quote(objective)+" without num_class", nil)
	}
	return nil
}

// readTree converts one Tree= block. Internal node i keeps index i and
// leaf j becomes node num_leaves-1+j.
func readTree(params treeParams, index int) (model.Tree, error) {
	structErr := func(reason string, err error) error {
		return filerrors.NewModelLoadError("", FormatName, reason,
			filerrors.Wrapf(err, "tree %d", index))
	}

	numLeaves, err := params.toInt("num_leaves")
	if err != nil {
		return model.Tree{}, structErr("parse num_leaves", err)
	}
	if numLeaves < 1 {
		return model.Tree{}, filerrors.NewModelStructureErrorf(index, -1, "num_leaves %d < 1", numLeaves)
	}
	if params["is_linear"] == "1" {
		return model.Tree{}, loadError("linear trees are not supported", nil)
	}
	leafValues, err := params.toFloat64Slice("leaf_value")
	if err != nil {
		return model.Tree{}, structErr("parse leaf_value", err)
	}
	if len(leafValues) != numLeaves {
		return model.Tree{}, filerrors.NewModelStructureErrorf(index, -1,
			"leaf_value has %d entries, want %d", len(leafValues), numLeaves)
	}

	numInternal := numLeaves - 1
	nodes := make([]model.Node, numInternal+numLeaves)
	for j, v := range leafValues {
		nodes[numInternal+j] = model.NewLeaf(v)
	}
	if numInternal == 0 {
		return model.Tree{Nodes: nodes}, nil
	}

	leftChilds, err := params.toInt32Slice("left_child")
	if err != nil {
		return model.Tree{}, structErr("parse left_child", err)
	}
	rightChilds, err := params.toInt32Slice("right_child")
	if err != nil {
		return model.Tree{}, structErr("parse right_child", err)
	}
	decisionTypes, err := params.toUint32Slice("decision_type")
	if err != nil {
		return model.Tree{}, structErr("parse decision_type", err)
	}
	splitFeatures, err := params.toUint32Slice("split_feature")
	if err != nil {
		return model.Tree{}, structErr("parse split_feature", err)
	}
	thresholds, err := params.toFloat64Slice("threshold")
	if err != nil {
		return model.Tree{}, structErr("parse threshold", err)
	}
	for _, n := range []int{len(leftChilds), len(rightChilds), len(decisionTypes), len(splitFeatures), len(thresholds)} {
		if n != numInternal {
			return model.Tree{}, filerrors.NewModelStructureErrorf(index, -1,
				"split arrays have %d entries, want %d", n, numInternal)
		}
	}

	child := func(c int32) int {
		if c < 0 {
			return numInternal + int(^c)
		}
		return int(c)
	}

	approximated := 0
	for i := 0; i < numInternal; i++ {
		dt := decisionTypes[i]
		if dt&categoricalMask != 0 {
			return model.Tree{}, filerrors.NewModelLoadError("", FormatName,
				"categorical splits are not supported", filerrors.NewModelStructureError(index, i, "categorical split"))
		}
		threshold := math.Nextafter(thresholds[i], math.Inf(1))
		zeroLeft := 0 < threshold
		defaultLeft := dt&defaultLeftMask != 0

		switch (dt >> 2) & 3 {
		case missingNone:
			// NaN is treated as zero.
			defaultLeft = zeroLeft
		case missingZero:
			// NaN and zero both take the default direction; zero cannot
			// unless it already falls on that side.
			if defaultLeft != zeroLeft {
				approximated++
			}
		case missingNaN:
		}
		nodes[i] = model.NewSplit(int(splitFeatures[i]), threshold, defaultLeft,
			child(leftChilds[i]), child(rightChilds[i]))
	}
	if approximated > 0 {
		filerrors.Warn(filerrors.NewModelConversionWarning(FormatName, index,
			strconv.Itoa(approximated)+" zero-as-missing splits send exact zeros by threshold instead of the default direction"))
	}
	return model.Tree{Nodes: nodes}, nil
}

type treeParams map[string]string

// readParamsUntilBlank reads key=value lines up to the blank line that ends
// a block.
func readParamsUntilBlank(reader *bufio.Reader) (treeParams, error) {
	params := make(treeParams)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if err == io.EOF || len(params) > 0 {
				break
			}
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			params[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		if err == io.EOF {
			break
		}
	}
	return params, nil
}

func (p treeParams) value(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", filerrors.Newf("key %s not found", key)
	}
	return v, nil
}

func (p treeParams) toInt(key string) (int, error) {
	v, err := p.value(key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (p treeParams) toFloat64Slice(key string) ([]float64, error) {
	v, err := p.value(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(v)
	result := make([]float64, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		result = append(result, val)
	}
	return result, nil
}

func (p treeParams) toInt32Slice(key string) ([]int32, error) {
	v, err := p.value(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(v)
	result := make([]int32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, err
		}
		result = append(result, int32(val))
	}
	return result, nil
}

func (p treeParams) toUint32Slice(key string) ([]uint32, error) {
	v, err := p.value(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(v)
	result := make([]uint32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, err
		}
		result = append(result, uint32(val))
	}
	return result, nil
}
