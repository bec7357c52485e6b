package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/YuminosukeSato/fil"
	"github.com/YuminosukeSato/fil/core/model"
	"github.com/YuminosukeSato/fil/forest"
	"github.com/YuminosukeSato/fil/importer"
	"github.com/YuminosukeSato/fil/internal/diff"
	"github.com/YuminosukeSato/fil/internal/npy"
	"github.com/YuminosukeSato/fil/internal/report"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

func runPredict(ctx context.Context, args []string, _, stderr io.Writer) error {
	var s settingsFlags
	var input, output string
	fs := newFlagSet("predict", stderr)
	s.register(fs, true)
	fs.StringVar(&input, "input", "", "feature matrix (.npy, optionally compressed)")
	fs.StringVar(&output, "output", "", "prediction file (.npy, optionally compressed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("input", input); err != nil {
		return err
	}
	if err := requireFlag("output", output); err != nil {
		return err
	}
	c, err := s.load(fs)
	if err != nil {
		return err
	}
	logger := log.GetLoggerWithName("cli")

	m, stopMetrics, err := newMetrics(c, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	fi, err := fil.Load(c.Model.Path, append(c.Options(), fil.WithMetrics(m))...)
	if err != nil {
		return err
	}
	src, closeInput, err := openInput(input)
	if err != nil {
		return err
	}
	defer closeInput()

	start := time.Now()
	out, err := fi.PredictSource(ctx, src)
	if err != nil {
		return err
	}
	if err := npy.WriteOutput(output, out); err != nil {
		return err
	}
	logger.Info("Predictions written",
		log.OperationKey, log.OperationPredict,
		log.RowsKey, out.Rows,
		"output", output,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func runBench(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var s settingsFlags
	var input, plotPath string
	var repeat int
	var tol float64
	fs := newFlagSet("bench", stderr)
	s.register(fs, true)
	fs.StringVar(&input, "input", "", "feature matrix (.npy, optionally compressed)")
	fs.IntVar(&repeat, "repeat", 3, "timed runs per algorithm and layout")
	fs.StringVar(&plotPath, "plot", "", "write a throughput chart (.png, .svg or .pdf)")
	fs.Float64Var(&tol, "tolerance", 0, "largest accepted difference from the NAIVE/SPARSE output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("input", input); err != nil {
		return err
	}
	if repeat < 1 {
		return filerrors.NewConfigError("repeat", repeat, "must be at least 1")
	}
	c, err := s.load(fs)
	if err != nil {
		return err
	}
	logger := log.GetLoggerWithName("bench")

	mt, err := importer.ParseModelType(c.Model.Type)
	if err != nil {
		return err
	}
	mdl, err := importer.Load(c.Model.Path, mt)
	if err != nil {
		return err
	}
	metrics, stopMetrics, err := newMetrics(c, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	src, closeInput, err := openInput(input)
	if err != nil {
		return err
	}
	defer closeInput()
	rows, _ := src.Dims()

	var (
		results   []report.Result
		reference *forest.Output
		failed    []string
	)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALGORITHM\tLAYOUT\tROWS/S\tMAX ABS ERR")
	for _, storage := range []forest.StorageType{forest.Sparse, forest.Dense} {
		for _, algo := range forest.Algorithms() {
			opts := append(c.Options(),
				fil.WithAlgorithm(algo.String()),
				fil.WithStorageType(storage.String()),
				fil.WithMetrics(metrics),
			)
			fi, err := fil.FromModel(mdl, opts...)
			if err != nil {
				var structErr *filerrors.ModelStructureError
				if storage == forest.Dense && filerrors.As(err, &structErr) {
					logger.Warn("Layout skipped", log.StorageKey, storage.String(), "reason", structErr.Reason)
					break
				}
				return err
			}

			var out forest.Output
			start := time.Now()
			for i := 0; i < repeat; i++ {
				if out, err = fi.PredictSource(ctx, src); err != nil {
					return err
				}
			}
			elapsed := time.Since(start) / time.Duration(repeat)

			res := report.Result{Algorithm: algo.String(), Storage: storage.String(), Rows: rows, Duration: elapsed}
			results = append(results, res)

			if reference == nil {
				reference = &out
			}
			sum, err := diff.CompareOutputs(*reference, out)
			if err != nil {
				return err
			}
			if !sum.Within(tol) {
				failed = append(failed, res.Algorithm+"/"+res.Storage)
			}

			fmt.Fprintf(tw, "%s\t%s\t%.0f\t%g\n", res.Algorithm, res.Storage, res.RowsPerSecond(), sum.MaxAbsError)
			logger.Info("Benchmark finished",
				log.OperationKey, log.OperationBench,
				log.AlgorithmKey, res.Algorithm,
				log.StorageKey, res.Storage,
				log.RowsKey, rows,
				log.RowsPerSecondKey, res.RowsPerSecond(),
				log.LayoutBytesKey, fi.Forest().LayoutBytes(),
				"max_abs_error", sum.MaxAbsError,
			)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if plotPath != "" {
		if err := report.Save(plotPath, fmt.Sprintf("%d trees, %d rows", mdl.Stats().Trees, rows), results); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return filerrors.Newf("predictions differ from the reference for %v", failed)
	}
	return nil
}

func runInspect(_ context.Context, args []string, stdout, stderr io.Writer) error {
	var s settingsFlags
	fs := newFlagSet("inspect", stderr)
	s.register(fs, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := s.load(fs)
	if err != nil {
		return err
	}
	mt, err := importer.ParseModelType(c.Model.Type)
	if err != nil {
		return err
	}
	m, err := importer.Load(c.Model.Path, mt)
	if err != nil {
		return err
	}
	return describe(stdout, m)
}

func describe(w io.Writer, m *model.Model) error {
	stats := m.Stats()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "trees:\t%d\n", stats.Trees)
	fmt.Fprintf(tw, "nodes:\t%d\n", stats.Nodes)
	fmt.Fprintf(tw, "leaves:\t%d\n", stats.Leaves)
	fmt.Fprintf(tw, "max depth:\t%d\n", stats.MaxDepth)
	fmt.Fprintf(tw, "features:\t%d\n", m.NumFeatures)
	fmt.Fprintf(tw, "task:\t%s\n", m.Task)
	fmt.Fprintf(tw, "classes:\t%d\n", m.NumClass)
	fmt.Fprintf(tw, "transform:\t%s\n", m.Transform)
	if m.Transform == model.Sigmoid && m.Alpha() != 1 {
		fmt.Fprintf(tw, "sigmoid alpha:\t%g\n", m.Alpha())
	}
	fmt.Fprintf(tw, "base score:\t%g\n", m.BaseScore)
	fmt.Fprintf(tw, "average:\t%t\n", m.Average)
	fmt.Fprintf(tw, "auto layout:\t%s\n", forest.ChooseStorage(m, nil))
	return tw.Flush()
}

func runConvert(_ context.Context, args []string, _, stderr io.Writer) error {
	var s settingsFlags
	var output string
	fs := newFlagSet("convert", stderr)
	s.register(fs, false)
	fs.StringVar(&output, "output", "", "destination (.fil, optionally .gz, .zst or .lz4)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("output", output); err != nil {
		return err
	}
	c, err := s.load(fs)
	if err != nil {
		return err
	}
	mt, err := importer.ParseModelType(c.Model.Type)
	if err != nil {
		return err
	}
	m, err := importer.Load(c.Model.Path, mt)
	if err != nil {
		return err
	}
	if err := save(output, m); err != nil {
		return err
	}
	log.GetLoggerWithName("cli").Info("Model converted",
		log.OperationKey, log.OperationConvert,
		log.ModelTypeKey, mt.String(),
		log.ModelSourceKey, c.Model.Path,
		log.TreesKey, m.Stats().Trees,
		"output", output,
	)
	return nil
}

func save(path string, m *model.Model) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return filerrors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = filerrors.Wrapf(cerr, "close %s", path)
		}
	}()

	w, err := importer.Compress(f, importer.CompressionFromPath(path))
	if err != nil {
		return err
	}
	if err := model.SaveModelToWriter(m, w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
