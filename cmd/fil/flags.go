package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YuminosukeSato/fil/forest"
	"github.com/YuminosukeSato/fil/internal/config"
	"github.com/YuminosukeSato/fil/internal/metrics"
	"github.com/YuminosukeSato/fil/internal/npy"
	"github.com/YuminosukeSato/fil/importer"
	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
	"github.com/YuminosukeSato/fil/pkg/log"
)

// settingsFlags are the flags shared by every command. Flags left unset do
// not override the config file or the environment.
type settingsFlags struct {
	config      string
	envFile     string
	model       string
	modelType   string
	algo        string
	storage     string
	outputClass bool
	threshold   float64
	chunkRows   int
	workers     int
	memoryLimit string
	logLevel    string
	metricsAddr string
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (s *settingsFlags) register(fs *flag.FlagSet, inference bool) {
	fs.StringVar(&s.config, "config", "", "YAML settings file")
	fs.StringVar(&s.envFile, "env-file", ".env", "dotenv file with FIL_* variables, ignored when missing")
	fs.StringVar(&s.model, "model", "", "model file, optionally .gz, .zst or .lz4 compressed")
	fs.StringVar(&s.modelType, "model-type", "", "xgboost, xgboost_json, lightgbm or fil")
	fs.StringVar(&s.logLevel, "log-level", "", "debug, info, warn or error")
	if !inference {
		return
	}
	fs.StringVar(&s.algo, "algo", "", "NAIVE, TREE_REORG or BATCH_TREE_REORG")
	fs.StringVar(&s.storage, "storage", "", "AUTO, DENSE or SPARSE")
	fs.BoolVar(&s.outputClass, "output-class", false, "output class labels instead of scores")
	fs.Float64Var(&s.threshold, "threshold", forest.DefaultThreshold, "binary decision threshold")
	fs.IntVar(&s.chunkRows, "chunk-rows", 0, "rows per chunk, 0 sizes chunks automatically")
	fs.IntVar(&s.workers, "workers", 0, "goroutines per chunk, 0 uses GOMAXPROCS")
	fs.StringVar(&s.memoryLimit, "memory-limit", "", "cap on scratch memory, e.g. 512MiB")
	fs.StringVar(&s.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

// load merges the config file, the environment and the flags that were set,
// then installs the logger.
func (s *settingsFlags) load(fs *flag.FlagSet) (config.Config, error) {
	c, err := config.Load(s.config, s.envFile)
	if err != nil {
		return config.Config{}, err
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			c.Model.Path = s.model
		case "model-type":
			c.Model.Type = s.modelType
		case "algo":
			c.Inference.Algorithm = s.algo
		case "storage":
			c.Inference.StorageType = s.storage
		case "output-class":
			c.Inference.OutputClass = s.outputClass
		case "threshold":
			c.Inference.Threshold = s.threshold
		case "chunk-rows":
			c.Inference.ChunkRows = s.chunkRows
		case "workers":
			c.Inference.Workers = s.workers
		case "memory-limit":
			b, err := config.ParseBytes(s.memoryLimit)
			if err != nil {
				flagErr = filerrors.NewConfigError("memory-limit", s.memoryLimit, err.Error())
				return
			}
			c.Inference.MemoryLimit = b
		case "log-level":
			c.Log.Level = s.logLevel
		case "metrics-addr":
			c.Metrics.Addr = s.metricsAddr
		}
	})
	if flagErr != nil {
		return config.Config{}, flagErr
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	if c.Model.Path == "" {
		return config.Config{}, filerrors.NewConfigError("model", "", "a model path is required (--model or FIL_MODEL)")
	}
	if err := log.SetupLogger(c.Log.Level); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func requireFlag(name, value string) error {
	if value == "" {
		return filerrors.NewConfigError(name, "", "flag --"+name+" is required")
	}
	return nil
}

// openInput returns the rows of an .npy file. Uncompressed files are
// memory-mapped; compressed ones are read into memory.
func openInput(path string) (forest.RowSource, func() error, error) {
	if importer.CompressionFromPath(path) == importer.CompressionNone {
		if m, err := npy.OpenMapped(path); err == nil {
			return m, m.Close, nil
		}
	}
	x, err := npy.ReadMatrix(path)
	if err != nil {
		return nil, nil, err
	}
	if x.IsEmpty() {
		return nil, nil, filerrors.Newf("input %s has no rows", path)
	}
	rows, cols := x.Dims()
	return forest.NewBatch(x.RawMatrix().Data, rows, cols), func() error { return nil }, nil
}

// serveMetrics exposes m on addr until the returned stop function is called.
func serveMetrics(addr string, m *metrics.Metrics, logger log.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, filerrors.Wrapf(err, "listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", err)
		}
	}()
	logger.Info("Serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown failed", err)
		}
	}, nil
}

// newMetrics returns a collector on a private registry and starts serving it
// when an address is configured.
func newMetrics(c config.Config, logger log.Logger) (*metrics.Metrics, func(), error) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	if c.Metrics.Addr == "" {
		return m, func() {}, nil
	}
	stop, err := serveMetrics(c.Metrics.Addr, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, stop, nil
}
