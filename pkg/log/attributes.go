// Standard attribute keys for forest loading and inference.
//
// Keys follow a hierarchical naming convention ("forest.trees",
// "data.rows") so that log pipelines can filter on a prefix.

package log

// Operation context
const (
	// ComponentKey identifies the package emitting the record.
	// Examples: "forest", "importer.xgboost", "cli"
	ComponentKey = "fil.component"

	// OperationKey names the operation being performed.
	// Standard values: OperationLoad, OperationImport, OperationBuild, OperationPredict
	OperationKey = "fil.operation"
)

// Model and forest shape
const (
	// ModelTypeKey is the serialization format of the source model.
	ModelTypeKey = "model.type"

	// ModelSourceKey is the path the model was loaded from.
	ModelSourceKey = "model.source"

	// TaskKey is the task kind: regression, binary or multiclass.
	TaskKey = "model.task"

	// TransformKey is the output transform applied by the postprocessor.
	TransformKey = "model.transform"

	TreesKey    = "forest.trees"
	NodesKey    = "forest.nodes"
	MaxDepthKey = "forest.max_depth"
	ClassesKey  = "forest.classes"

	// AlgorithmKey is the traversal algorithm (NAIVE, TREE_REORG, BATCH_TREE_REORG).
	AlgorithmKey = "forest.algorithm"

	// StorageKey is the resolved storage layout (DENSE or SPARSE).
	StorageKey = "forest.storage"

	// LayoutBytesKey is the memory held by the node arrays of a forest.
	LayoutBytesKey = "forest.layout_bytes"
)

// Data shape
const (
	// RowsKey indicates the number of rows being scored.
	RowsKey = "data.rows"

	// FeaturesKey indicates the number of feature columns.
	FeaturesKey = "data.features"

	// ChunkRowsKey is the number of rows per pipeline chunk.
	ChunkRowsKey = "data.chunk_rows"

	// ChunksKey is the number of chunks a call was split into.
	ChunksKey = "data.chunks"

	// ChunkKey is the index of a single chunk.
	ChunkKey = "data.chunk"
)

// Performance
const (
	DurationMsKey    = "perf.duration_ms"
	RowsPerSecondKey = "perf.rows_per_second"

	// MemoryLimitKey is the byte budget shared by concurrent predict calls.
	MemoryLimitKey = "perf.memory_limit_bytes"

	// WorkersKey is the number of goroutines used for scoring.
	WorkersKey = "infra.workers"
)

// Error context
const (
	// ErrorTypeKey categorizes the error.
	// Examples: "ModelLoadError", "ShapeMismatchError"
	ErrorTypeKey = "error.type"

	// SuggestionKey provides a hint for resolving the issue.
	SuggestionKey = "error.suggestion"
)

// Standard attribute values.
const (
	OperationLoad    = "load"
	OperationImport  = "import"
	OperationBuild   = "build"
	OperationPredict = "predict"
	OperationBench   = "bench"
	OperationConvert = "convert"
)
