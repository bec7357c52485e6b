// Package xgboost imports models saved by XGBoost's save_model in JSON or
// UBJSON form.
//
// Supported boosters are gbtree and dart. Random forests trained with
// num_parallel_tree > 1 are plain sums since XGBoost scales their leaves at
// training time. Categorical splits and the legacy binary format are rejected.
package xgboost

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/fil/core/model"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// FormatName is the format name used in errors and warnings.
const FormatName = "xgboost"

// document mirrors the subset of the XGBoost JSON schema used for inference.
type document struct {
	Learner struct {
		LearnerModelParam struct {
			BaseScore  param `json:"base_score"`
			NumClass   param `json:"num_class"`
			NumFeature param `json:"num_feature"`
			NumTarget  param `json:"num_target"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster booster `json:"gradient_booster"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type booster struct {
	Name       string       `json:"name"`
	Model      *gbtreeModel `json:"model"`
	GBTree     *booster     `json:"gbtree"`
	WeightDrop []float64    `json:"weight_drop"`
}

type gbtreeModel struct {
	Param struct {
		NumParallelTree param `json:"num_parallel_tree"`
		NumTrees        param `json:"num_trees"`
	} `json:"gbtree_model_param"`
	TreeInfo []int      `json:"tree_info"`
	Trees    []treeJSON `json:"trees"`
}

type treeJSON struct {
	ID              int       `json:"id"`
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flags     `json:"default_left"`
	SplitType       []int     `json:"split_type"`
	BaseWeights     []float64 `json:"base_weights"`
	TreeParam       struct {
		NumNodes       param `json:"num_nodes"`
		SizeLeafVector param `json:"size_leaf_vector"`
	} `json:"tree_param"`
}

// param holds a learner parameter. XGBoost writes them as strings, older
// writers as numbers, and 2.x writes vector parameters like "[5E-1]".
type param string

func (p *param) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = param(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = param(n.String())
	return nil
}

func (p param) float(def float64) (float64, error) {
	s := strings.Trim(strings.TrimSpace(string(p)), "[]")
	if s == "" {
		return def, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func (p param) int(def int) (int, error) {
	if strings.TrimSpace(string(p)) == "" {
		return def, nil
	}
	v, err := p.float(float64(def))
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// flags decodes default_left, which is an array of 0/1 integers or of booleans.
type flags []bool

func (f *flags) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		switch s := string(bytes.TrimSpace(v)); s {
		case "true", "1":
			out[i] = true
		case "false", "0":
		default:
			return filerrors.Newf("default_left[%d]: unexpected value %s", i, s)
		}
	}
	*f = out
	return nil
}

// objective describes how an XGBoost objective maps onto the canonical model.
type objective struct {
	task      model.Task
	transform model.Transform
	link      func(float64) (float64, error) // base_score to margin
}

func identityLink(v float64) (float64, error) { return v, nil }

func logitLink(p float64) (float64, error) {
	if !(p > 0 && p < 1) {
		return 0, filerrors.Newf("base_score %v outside (0, 1) for a logistic objective", p)
	}
	return -math.Log(1/p - 1), nil
}

func logLink(v float64) (float64, error) {
	if !(v > 0) {
		return 0, filerrors.Newf("base_score %v must be positive for a log-link objective", v)
	}
	return math.Log(v), nil
}

func lookupObjective(name string) (objective, bool) {
	switch name {
	case "binary:logistic", "reg:logistic":
		return objective{model.BinaryClassification, model.Sigmoid, logitLink}, true
	case "binary:logitraw":
		return objective{model.BinaryClassification, model.Identity, logitLink}, true
	case "binary:hinge":
		return objective{model.BinaryClassification, model.Identity, identityLink}, true
	case "multi:softprob":
		return objective{model.MulticlassClassification, model.Softmax, identityLink}, true
	case "multi:softmax":
		return objective{model.MulticlassClassification, model.Identity, identityLink}, true
	case "count:poisson", "reg:gamma", "reg:tweedie", "survival:cox", "survival:aft":
		return objective{model.Regression, model.Exp, logLink}, true
	case "reg:squarederror", "reg:linear", "reg:squaredlogerror", "reg:pseudohubererror",
		"reg:absoluteerror", "reg:quantileerror",
		"rank:pairwise", "rank:ndcg", "rank:map":
		return objective{model.Regression, model.Identity, identityLink}, true
	default:
		return objective{model.Regression, model.Identity, identityLink}, false
	}
}

// Import decodes an XGBoost model saved as JSON or as UBJSON, the default
// save_model format since XGBoost 2.0. The format is detected from the
// leading bytes.
func Import(r io.Reader) (*model.Model, error) {
	br := bufio.NewReader(r)
	ubj, err := sniff(br)
	if err != nil {
		return nil, err
	}

	var src io.Reader = br
	if ubj {
		text, err := transcodeUBJSON(br)
		if err != nil {
			return nil, loadError("decode ubjson", err)
		}
		src = bytes.NewReader(text)
	}

	var doc document
	dec := json.NewDecoder(src)
	if err := dec.Decode(&doc); err != nil {
		return nil, loadError("decode json", err)
	}
	return convert(&doc)
}

// sniff skips leading whitespace and reports whether the model is UBJSON.
// Both formats open with '{'; in UBJSON it is followed by a length marker
// or a container header. Anything else is the legacy binary format.
func sniff(br *bufio.Reader) (ubj bool, err error) {
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return false, loadError("empty input", nil)
		}
		if err != nil {
			return false, loadError("read", err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			if err := br.UnreadByte(); err != nil {
				return false, loadError("read", err)
			}
			p, _ := br.Peek(2)
			return len(p) == 2 && strings.IndexByte("iUIlL$#N", p[1]) >= 0, nil
		default:
			return false, loadError("not a JSON or UBJSON model; the legacy binary format is not supported, save the model as JSON or UBJSON", nil)
		}
	}
}

func loadError(reason string, err error) error {
	return filerrors.NewModelLoadError("", FormatName, reason, err)
}

func convert(doc *document) (*model.Model, error) {
	lp := doc.Learner.LearnerModelParam
	gb := doc.Learner.GradientBooster

	var weights []float64
	switch gb.Name {
	case "gbtree":
	case "dart":
		if gb.GBTree == nil {
			return nil, loadError("dart booster without gbtree section", nil)
		}
		weights = gb.WeightDrop
		gb = *gb.GBTree
	case "gblinear":
		return nil, loadError("gblinear boosters are not tree models", nil)
	default:
		return nil, loadError("unsupported gradient booster "+strconv.Quote(gb.Name), nil)
	}
	if gb.Model == nil {
		return nil, loadError("missing gradient_booster.model", nil)
	}
	trees := gb.Model.Trees
	if len(trees) == 0 {
		return nil, loadError("model has no trees", nil)
	}
	if weights != nil && len(weights) != len(trees) {
		return nil, loadError("weight_drop length does not match the number of trees", nil)
	}

	numClass, err := lp.NumClass.int(0)
	if err != nil {
		return nil, loadError("parse num_class", err)
	}
	numFeature, err := lp.NumFeature.int(0)
	if err != nil {
		return nil, loadError("parse num_feature", err)
	}
	numTarget, err := lp.NumTarget.int(1)
	if err != nil {
		return nil, loadError("parse num_target", err)
	}
	baseScore, err := lp.BaseScore.float(0.5)
	if err != nil {
		return nil, loadError("parse base_score", err)
	}

	objName := doc.Learner.Objective.Name
	obj, known := lookupObjective(objName)
	if !known {
		filerrors.Warn(filerrors.NewModelConversionWarning(FormatName, -1,
			"unknown objective "+strconv.Quote(objName)+"; predictions are raw margins"))
	}
	if objName == "binary:hinge" {
		filerrors.Warn(filerrors.NewModelConversionWarning(FormatName, -1,
			"binary:hinge is served as raw margins; use output_class with threshold 0"))
	}
	if numClass > 1 && obj.task != model.MulticlassClassification {
		obj = objective{model.MulticlassClassification, model.Identity, identityLink}
	}
	if obj.task == model.MulticlassClassification && numClass < 2 {
		return nil, loadError("multiclass objective "+strconv.Quote(objName)+" without num_class", nil)
	}
	if numTarget > 1 && obj.task != model.MulticlassClassification {
		return nil, loadError("multi-target regression is not supported", nil)
	}

	margin, err := obj.link(baseScore)
	if err != nil {
		return nil, loadError("convert base_score", err)
	}

	m := &model.Model{
		Task:        obj.task,
		NumClass:    1,
		NumFeatures: numFeature,
		Transform:   obj.transform,
		BaseScore:   margin,
	}
	if obj.task == model.MulticlassClassification {
		m.NumClass = numClass
	}

	info := gb.Model.TreeInfo
	m.Trees = make([]model.Tree, len(trees))
	maxFeature := -1
	for i := range trees {
		scale := 1.0
		if weights != nil {
			scale = weights[i]
		}
		t, mf, err := convertTree(&trees[i], i, scale)
		if err != nil {
			return nil, err
		}
		if i < len(info) && m.Task == model.MulticlassClassification && t.LeafWidth() == 1 {
			t.Group = info[i]
		}
		if mf > maxFeature {
			maxFeature = mf
		}
		m.Trees[i] = t
	}
	if m.NumFeatures == 0 {
		m.NumFeatures = maxFeature + 1
	}
	if m.NumFeatures < 1 {
		m.NumFeatures = 1
	}
	return m, nil
}

// convertTree renumbers the nodes reachable from the root in depth-first
// order, dropping nodes deleted by pruning. It returns the largest feature
// index used.
func convertTree(tj *treeJSON, index int, scale float64) (model.Tree, int, error) {
	n := len(tj.LeftChildren)
	if n == 0 {
		return model.Tree{}, -1, filerrors.NewModelStructureError(index, -1, "tree has no nodes")
	}
	if len(tj.RightChildren) != n || len(tj.SplitIndices) != n || len(tj.SplitConditions) != n {
		return model.Tree{}, -1, filerrors.NewModelStructureError(index, -1, "node arrays have different lengths")
	}
	if len(tj.DefaultLeft) != 0 && len(tj.DefaultLeft) != n {
		return model.Tree{}, -1, filerrors.NewModelStructureError(index, -1, "default_left length does not match the node count")
	}
	width, err := tj.TreeParam.SizeLeafVector.int(1)
	if err != nil {
		return model.Tree{}, -1, loadError("parse size_leaf_vector", err)
	}
	if width < 1 {
		width = 1
	}
	if width > 1 && len(tj.BaseWeights) != n*width {
		return model.Tree{}, -1, filerrors.NewModelStructureError(index, -1, "base_weights length does not match size_leaf_vector")
	}

	remap := make([]int, n)
	for i := range remap {
		remap[i] = -1
	}
	order := make([]int, 0, n)
	stack := []int{0}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id < 0 || id >= n {
			return model.Tree{}, -1, filerrors.NewModelStructureErrorf(index, -1, "child index %d out of range", id)
		}
		if remap[id] >= 0 {
			return model.Tree{}, -1, filerrors.NewModelStructureErrorf(index, id, "node reached twice")
		}
		remap[id] = len(order)
		order = append(order, id)
		if tj.LeftChildren[id] != -1 {
			stack = append(stack, tj.RightChildren[id], tj.LeftChildren[id])
		}
	}

	maxFeature := -1
	nodes := make([]model.Node, len(order))
	for k, id := range order {
		left := tj.LeftChildren[id]
		if left == -1 {
			var values []float64
			if width == 1 {
				values = []float64{tj.SplitConditions[id] * scale}
			} else {
				values = make([]float64, width)
				for c := range values {
					values[c] = tj.BaseWeights[id*width+c] * scale
				}
			}
			nodes[k] = model.NewLeaf(values...)
			continue
		}
		if len(tj.SplitType) == n && tj.SplitType[id] != 0 {
			return model.Tree{}, -1, filerrors.NewModelLoadError("", FormatName,
				"categorical splits are not supported", filerrors.NewModelStructureError(index, id, "categorical split"))
		}
		feature := tj.SplitIndices[id]
		if feature > maxFeature {
			maxFeature = feature
		}
		defaultLeft := len(tj.DefaultLeft) == n && tj.DefaultLeft[id]
		nodes[k] = model.NewSplit(feature, tj.SplitConditions[id], defaultLeft,
			remap[left], remap[tj.RightChildren[id]])
	}
	return model.Tree{Nodes: nodes}, maxFeature, nil
}
