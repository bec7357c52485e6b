// Command fil scores feature matrices with gradient-boosted and random
// forest models exported from XGBoost or LightGBM.
//
// Usage:
//
//	fil predict --model m.json --input X.npy --output y.npy
//	fil bench   --model m.json --input X.npy [--repeat 5] [--plot bench.png]
//	fil inspect --model m.txt --model-type lightgbm
//	fil convert --model m.json --output m.fil.zst
//
// Settings are read from --config (YAML), then FIL_* environment variables
// (and --env-file), then flags.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

const usage = `usage: fil <command> [flags]

commands:
  predict   score an .npy feature matrix and write predictions
  bench     time every algorithm and layout on the same input
  inspect   print model statistics
  convert   save a model in the fil format

run "fil <command> -h" for the flags of a command
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "fil: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return filerrors.New("missing command")
	}
	switch args[0] {
	case "predict":
		return runPredict(ctx, args[1:], stdout, stderr)
	case "bench":
		return runBench(ctx, args[1:], stdout, stderr)
	case "inspect":
		return runInspect(ctx, args[1:], stdout, stderr)
	case "convert":
		return runConvert(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return filerrors.Newf("unknown command %q", args[0])
	}
}
