// Package fil provides batched inference for decision-tree ensembles trained
// by XGBoost and LightGBM, designed for backend services that score large
// feature matrices.
//
// A model is imported once into an immutable forest and then shared by any
// number of concurrent Predict calls. Every traversal algorithm and storage
// layout produces the same scores, so they can be switched purely for speed.
//
// # Features
//
//   - XGBoost JSON and LightGBM text models, optionally gzip, zstd or LZ4 compressed
//   - Dense and Sparse storage layouts, chosen automatically by default
//   - NAIVE, TREE_REORG and BATCH_TREE_REORG traversal
//   - Chunked, memory-bounded prediction with context cancellation
//   - Structured logging (zerolog) and optional Prometheus metrics
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/fil"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    fi, err := fil.Load("xgb.json",
//	        fil.WithModelType("xgboost"),
//	        fil.WithAlgorithm("BATCH_TREE_REORG"),
//	        fil.WithOutputClass(true),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    X := mat.NewDense(2, 3, []float64{
//	        0.1, 2.0, -1.0,
//	        0.7, 0.0, 3.5,
//	    })
//	    classes, err := fi.Predict(X)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(mat.Formatted(classes))
//	}
//
// # Packages
//
//   - core/model: canonical tree model and structural validation
//   - core/parallel: range-partitioned parallel helpers
//   - forest: layouts, traversal, postprocessing and the chunked predictor
//   - importer: model type registry, decompression and the format importers
//   - pkg/errors: error taxonomy and warnings
//   - pkg/log: structured logging
//
// The fil command (cmd/fil) wraps the library with predict, bench, inspect
// and convert subcommands over .npy inputs.
//
// # Errors
//
// Failures are typed and can be discriminated with errors.As:
// ModelLoadError, ModelStructureError, ConfigError and ShapeMismatchError
// from pkg/errors. Approximate conversions are reported as
// ModelConversionWarning through errors.Warn and the logger.
package fil
