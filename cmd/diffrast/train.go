package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/born-ml/diffrast/internal/cache"
	"github.com/born-ml/diffrast/internal/extension"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/plot"
	"github.com/born-ml/diffrast/internal/slang"
	"github.com/born-ml/diffrast/internal/train"
)

// moduleFlags are shared by train and compile.
type moduleFlags struct {
	shader    string
	slangRoot string
	backend   string
	cacheDir  string
	noCache   bool
	verbose   bool
}

func (m *moduleFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.shader, "shader", "", "slang shader source; empty runs the built-in rasterizer")
	fs.StringVar(&m.slangRoot, "slang-root", "slang", "slang installation holding bin/<platform>/slangc")
	fs.StringVar(&m.backend, "backend", "cpu", "kernel backend: "+fmt.Sprint(extension.Backends()))
	fs.StringVar(&m.cacheDir, "cache-dir", "", "build cache directory (default: user cache dir)")
	fs.BoolVar(&m.noCache, "no-cache", false, "disable the build cache")
	fs.BoolVar(&m.verbose, "v", false, "verbose logging")
}

// load returns the kernel module selected by the flags.
func (m *moduleFlags) load(ctx context.Context) (kernel.Module, error) {
	if m.shader == "" {
		return extension.Open(ctx, m.backend, "soft-rasterizer2d")
	}

	var store *cache.Cache
	if !m.noCache {
		var err error
		if store, err = openCache(m.cacheDir); err != nil {
			return nil, err
		}
	}
	return slang.LoadModule(ctx, m.shader, slang.Options{
		Root:    m.slangRoot,
		Verbose: m.verbose,
		Backend: m.backend,
		Cache:   store,
	})
}

func openCache(dir string) (*cache.Cache, error) {
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(); err != nil {
			return nil, err
		}
	}
	return cache.Open(dir)
}

func runTrain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var mf moduleFlags
	mf.register(fs)
	cfg := train.DefaultConfig()
	fs.IntVar(&cfg.Width, "width", cfg.Width, "frame width in pixels")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "frame height in pixels")
	fs.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "optimization steps")
	lr := fs.Float64("lr", float64(cfg.LR), "Adam learning rate")
	sigma := fs.Float64("sigma", float64(cfg.Sigma), "edge smoothing width")
	fs.IntVar(&cfg.SnapshotEvery, "every", cfg.SnapshotEvery, "snapshot interval in iterations (0 disables)")
	out := fs.String("out", "", "directory for snapshot PNGs (empty disables snapshots)")
	panel := fs.Int("panel", 0, "snapshot panel size in pixels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.LR = float32(*lr)
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = train.NoSnapshots
	}
	cfg.Sigma = float32(*sigma)

	logging.SetLogger(newLogger(stderr, mf.verbose))
	defer logging.SetLogger(nil)

	module, err := mf.load(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = module.Close() }()

	var opts []train.Option
	if *out != "" {
		fig, err := plot.NewFigure(*panel)
		if err != nil {
			return err
		}
		defer func() { _ = fig.Close() }()
		w, err := plot.NewSnapshotWriter(*out, fig)
		if err != nil {
			return err
		}
		opts = append(opts, train.WithObserver(w))
	}

	trainer, err := train.New(module, cfg, opts...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go waitForEnter(stdin, cancel)

	p := message.NewPrinter(language.English)
	p.Fprintf(stdout, "Training %s on %s: %dx%d, %d iterations (press Enter to stop)\n",
		module.Name(), mf.backend, cfg.Width, cfg.Height, cfg.Iterations)

	res, err := trainer.Run(runCtx)
	if err != nil {
		return err
	}
	printSummary(p, stdout, res)
	return nil
}

// waitForEnter cancels when a line is read from r.
func waitForEnter(r io.Reader, cancel context.CancelFunc) {
	if r == nil {
		return
	}
	if _, err := bufio.NewReader(r).ReadString('\n'); err == nil {
		cancel()
	}
}

func printSummary(p *message.Printer, w io.Writer, res *train.Result) {
	status := "completed"
	if res.Aborted {
		status = "aborted"
	}
	p.Fprintf(w, "Training %s after %d iterations in %v\n", status, len(res.Losses), res.Elapsed.Round(time.Millisecond))
	if n := len(res.Losses); n > 0 {
		p.Fprintf(w, "  loss: %.6f -> %.6f\n", res.Losses[0], res.Losses[n-1])
	}
	p.Fprintf(w, "  vertices: %v\n", res.Vertices.AsFloat32())
	p.Fprintf(w, "  color:    %v\n", res.Color.AsFloat32())
}

func runCompile(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var mf moduleFlags
	mf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if mf.shader == "" {
		return errors.New("compile: -shader is required")
	}

	logging.SetLogger(newLogger(stderr, mf.verbose))
	defer logging.SetLogger(nil)

	module, err := mf.load(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = module.Close() }()

	fmt.Fprintf(stdout, "Loaded module %s (%s/%s, backend %s)\n", module.Name(), runtime.GOOS, runtime.GOARCH, mf.backend)
	return nil
}
