// Package main provides the diffrast CLI.
//
// Usage:
//
//	diffrast train   [-shader PATH -slang-root DIR] [-backend cpu|webgpu] [-out DIR] [-v]
//	diffrast compile -shader PATH -slang-root DIR [-backend cpu|webgpu]
//	diffrast cache   purge|list [-dir DIR]
//	diffrast version
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stdout)
		return 2
	}

	var err error
	switch args[0] {
	case "train":
		err = runTrain(ctx, args[1:], stdin, stdout, stderr)
	case "compile":
		err = runCompile(ctx, args[1:], stdout, stderr)
	case "cache":
		err = runCache(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "diffrast %s\n", version)
	case "help", "-h", "-help", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "diffrast: unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "diffrast: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "diffrast - differentiable 2D soft rasterization")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train      Fit a polygon to the target image")
	fmt.Fprintln(w, "  compile    Compile and load a shader module")
	fmt.Fprintln(w, "  cache      Manage the build cache (purge, list)")
	fmt.Fprintln(w, "  version    Show version")
}

// newLogger returns a text logger on w; verbose enables debug records.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
